// Package graph derives the link views of a page (outgoing links, two-hop
// neighbours, backlinks and ghost links) from a snapshot of page content.
// Derive is pure: it reads only its arguments and never mutates them.
package graph

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/otomatty/zedi-sub000/internal/models"
	"github.com/otomatty/zedi-sub000/internal/parser"
)

// Display bounds.
const (
	MaxGhostLinks = 5
	MaxChildren   = 5
	MaxGroups     = 5
	MaxOutgoing   = 10
	MaxBacklinks  = 10
	MaxTwoHop     = 10
)

// Group is a one-hop link together with the pages it links to in turn.
type Group struct {
	Source   models.PageSummary   `json:"source"`
	Children []models.PageSummary `json:"children"`
}

// View is the derived link neighbourhood of one page.
type View struct {
	// OutgoingLinks holds one-hop links that have no qualifying children,
	// then those whose group did not fit under MaxGroups.
	OutgoingLinks []models.PageSummary `json:"outgoing_links"`
	// OutgoingLinksWithChildren holds one-hop links with their two-hop children.
	OutgoingLinksWithChildren []Group              `json:"outgoing_links_with_children"`
	Backlinks                 []models.PageSummary `json:"backlinks"`
	// TwoHopLinks is the flat, globally deduplicated two-hop list.
	TwoHopLinks []models.PageSummary `json:"two_hop_links"`
	GhostLinks  []string             `json:"ghost_links"`
}

// Derive computes the View of current over pages. backlinkIDs lists the ids of
// pages that link to current, as recorded by the link store.
func Derive(current models.PageText, pages []models.PageText, backlinkIDs []string) View {
	idx := newIndex(pages)
	v := View{
		OutgoingLinks:             []models.PageSummary{},
		OutgoingLinksWithChildren: []Group{},
		Backlinks:                 []models.PageSummary{},
		TwoHopLinks:               []models.PageSummary{},
		GhostLinks:                []string{},
	}

	var direct []*models.PageText
	directIDs := mapset.NewThreadUnsafeSet[string]()
	for _, title := range parser.LinkTitles(current.Text) {
		p := idx.resolve(title)
		if p == nil {
			if len(v.GhostLinks) < MaxGhostLinks {
				v.GhostLinks = append(v.GhostLinks, title)
			}
			continue
		}
		if p.ID == current.ID || directIDs.Contains(p.ID) {
			continue
		}
		directIDs.Add(p.ID)
		direct = append(direct, p)
	}

	twoHopSeen := mapset.NewThreadUnsafeSet[string]()
	var overflow []models.PageSummary
	for _, src := range direct {
		var children []models.PageSummary
		childSeen := mapset.NewThreadUnsafeSet[string]()
		for _, title := range parser.LinkTitles(src.Text) {
			q := idx.resolve(title)
			if q == nil || q.ID == current.ID || directIDs.Contains(q.ID) || childSeen.Contains(q.ID) {
				continue
			}
			childSeen.Add(q.ID)
			if len(children) < MaxChildren {
				children = append(children, q.Summary())
			}
			if twoHopSeen.Add(q.ID) && len(v.TwoHopLinks) < MaxTwoHop {
				v.TwoHopLinks = append(v.TwoHopLinks, q.Summary())
			}
		}

		switch {
		case len(children) > 0 && len(v.OutgoingLinksWithChildren) < MaxGroups:
			v.OutgoingLinksWithChildren = append(v.OutgoingLinksWithChildren, Group{
				Source:   src.Summary(),
				Children: children,
			})
		case len(children) > 0:
			overflow = append(overflow, src.Summary())
		case len(v.OutgoingLinks) < MaxOutgoing:
			v.OutgoingLinks = append(v.OutgoingLinks, src.Summary())
		}
	}
	for _, s := range overflow {
		if len(v.OutgoingLinks) >= MaxOutgoing {
			break
		}
		v.OutgoingLinks = append(v.OutgoingLinks, s)
	}

	seen := mapset.NewThreadUnsafeSet[string]()
	for _, id := range backlinkIDs {
		if len(v.Backlinks) >= MaxBacklinks {
			break
		}
		p, ok := idx.byID[id]
		if !ok || p.IsDeleted || id == current.ID || !seen.Add(id) {
			continue
		}
		v.Backlinks = append(v.Backlinks, p.Summary())
	}

	return v
}

type index struct {
	byID    map[string]*models.PageText
	byTitle map[string]*models.PageText
}

// newIndex keys live pages by normalized title. When two live pages share a
// title the most recently updated one wins, ties broken by the smaller id.
func newIndex(pages []models.PageText) *index {
	idx := &index{
		byID:    make(map[string]*models.PageText, len(pages)),
		byTitle: make(map[string]*models.PageText, len(pages)),
	}
	for i := range pages {
		p := &pages[i]
		idx.byID[p.ID] = p
		if p.IsDeleted {
			continue
		}
		key := parser.NormalizeTitle(p.Title)
		if key == "" {
			continue
		}
		prev, ok := idx.byTitle[key]
		if !ok || p.UpdatedAt.After(prev.UpdatedAt) || (p.UpdatedAt.Equal(prev.UpdatedAt) && p.ID < prev.ID) {
			idx.byTitle[key] = p
		}
	}
	return idx
}

func (idx *index) resolve(title string) *models.PageText {
	return idx.byTitle[parser.NormalizeTitle(title)]
}
