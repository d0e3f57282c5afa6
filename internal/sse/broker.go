// Package sse implements a per-owner Server-Sent Events broker so that a
// client's other devices learn about pushes and content saves without polling.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event types.
const (
	TypePagesSynced    = "pages.synced"
	TypeContentUpdated = "content.updated"
	TypeGraphUpdated   = "graph.updated"
)

// Event represents an SSE event delivered to one owner's subscribers.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// PagesSynced is the payload of TypePagesSynced.
type PagesSynced struct {
	ServerTime time.Time `json:"server_time"`
	Accepted   int       `json:"accepted"`
	Conflicts  int       `json:"conflicts"`
}

// ContentUpdated is the payload of TypeContentUpdated.
type ContentUpdated struct {
	PageID  string `json:"page_id"`
	Version int64  `json:"version"`
}

type subscription struct {
	owner string
	ch    chan []byte
}

type publishReq struct {
	owner string
	event Event
}

// Broker manages SSE client connections and delivers events by owner.
//
// A single internal event loop owns the subscriber table and the per-owner
// graph throttle. Public methods talk to it through channels.
type Broker struct {
	graphMin time.Duration

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	publishCh     chan publishReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker. graph.updated follows a link-bearing event at
// most once per graphThrottle for each owner.
func NewBroker(graphThrottle time.Duration) *Broker {
	if graphThrottle <= 0 {
		graphThrottle = 2 * time.Second
	}

	b := &Broker{
		graphMin:      graphThrottle,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan publishReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func encode(event Event) []byte {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload))
}

func (b *Broker) run() {
	defer close(b.stopped)

	owners := make(map[chan []byte]string)
	byOwner := make(map[string]map[chan []byte]struct{})
	lastGraph := make(map[string]time.Time)

	deliver := func(owner string, event Event) {
		raw := encode(event)
		if raw == nil {
			return
		}
		for ch := range byOwner[owner] {
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking the loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range owners {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			owners[sub.ch] = sub.owner
			if byOwner[sub.owner] == nil {
				byOwner[sub.owner] = make(map[chan []byte]struct{})
			}
			byOwner[sub.owner][sub.ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if owner, ok := owners[ch]; ok {
				delete(owners, ch)
				delete(byOwner[owner], ch)
				if len(byOwner[owner]) == 0 {
					delete(byOwner, owner)
				}
				close(ch)
			}

		case req := <-b.publishCh:
			deliver(req.owner, req.event)
			if req.event.Type == TypePagesSynced || req.event.Type == TypeContentUpdated {
				now := time.Now()
				if now.Sub(lastGraph[req.owner]) >= b.graphMin {
					lastGraph[req.owner] = now
					deliver(req.owner, Event{Type: TypeGraphUpdated, Data: map[string]string{}})
				}
			}

		case resp := <-b.countReqCh:
			resp <- len(owners)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client of owner and returns its channel.
func (b *Broker) Subscribe(owner string) chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscription{owner: owner, ch: ch}:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients across owners.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to every subscriber of owner.
func (b *Broker) Publish(owner string, event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- publishReq{owner: owner, event: event}:
	case <-b.stopped:
	}
}

// Handler returns the SSE endpoint (GET /api/events). ownerOf extracts the
// authenticated owner; requests without one are rejected.
func (b *Broker) Handler(ownerOf func(*http.Request) (string, bool)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerOf(r)
		if !ok {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ch := b.Subscribe(owner)
		defer b.Unsubscribe(ch)

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				_, _ = w.Write(msg)
				flusher.Flush()
			}
		}
	})
}
