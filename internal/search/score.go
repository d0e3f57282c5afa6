// Package search ranks pages against a multi-keyword query and extracts
// highlighted snippets. It is a heuristic scorer over an in-memory page set,
// not an index.
package search

import (
	"sort"
	"strings"
	"time"

	"github.com/otomatty/zedi-sub000/internal/models"
	"github.com/otomatty/zedi-sub000/internal/parser"
)

// MatchType classifies how a page matched the query.
type MatchType string

const (
	MatchExactTitle MatchType = "exact_title"
	MatchTitle      MatchType = "title"
	MatchBoth       MatchType = "both"
	MatchContent    MatchType = "content"
)

// Scoring weights.
const (
	MaxResults = 10

	// Base scores are spaced so that bonuses never lift a page above the
	// next classification.
	scoreExactTitle = 1000.0
	scoreTitle      = 100.0
	scoreBoth       = 50.0
	scoreContent    = 10.0

	titlePrefixBonus   = 20.0
	occurrenceBonus    = 1.0
	maxOccurrenceBonus = 10.0
	maxRecencyBonus    = 5.0
	recencyWindow      = 10 * 24 * time.Hour
)

var baseScores = map[MatchType]float64{
	MatchExactTitle: scoreExactTitle,
	MatchTitle:      scoreTitle,
	MatchBoth:       scoreBoth,
	MatchContent:    scoreContent,
}

// Result is one ranked page.
type Result struct {
	Page      models.PageSummary `json:"page"`
	MatchType MatchType          `json:"match_type"`
	Score     float64            `json:"score"`
	Snippet   string             `json:"snippet"`
}

// Keywords splits a query on whitespace and lowercases each term.
func Keywords(query string) []string {
	fields := strings.Fields(query)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, strings.ToLower(f))
	}
	return out
}

// Rank returns the pages matching every keyword of query, best first, at most
// MaxResults. Deleted pages never match. now anchors the recency bonus.
// Editor JSON extracts are matched and snippeted on their readable text.
func Rank(pages []models.PageText, query string, now time.Time) []Result {
	keywords := Keywords(query)
	if len(keywords) == 0 {
		return []Result{}
	}
	fullQuery := strings.Join(keywords, " ")

	results := []Result{}
	for _, p := range pages {
		if p.IsDeleted {
			continue
		}
		p.Text = parser.PlainText(p.Text)
		mt, ok := classify(p.Title, p.Text, keywords, fullQuery)
		if !ok {
			continue
		}
		results = append(results, Result{
			Page:      p.Summary(),
			MatchType: mt,
			Score:     score(mt, p, keywords, now),
			Snippet:   Highlight(Snippet(p.Text, keywords), keywords),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Page.UpdatedAt.After(results[j].Page.UpdatedAt)
	})
	if len(results) > MaxResults {
		results = results[:MaxResults]
	}
	return results
}

// classify applies AND semantics: every keyword must appear in the title or
// the text. exact_title requires the whitespace-normalized title to equal the
// query; title means every keyword is in the title; both means the title holds
// some keywords and the text the rest; content means the title holds none.
func classify(title, text string, keywords []string, fullQuery string) (MatchType, bool) {
	lt := strings.ToLower(title)
	lx := strings.ToLower(text)

	inTitle := 0
	for _, k := range keywords {
		t := strings.Contains(lt, k)
		if !t && !strings.Contains(lx, k) {
			return "", false
		}
		if t {
			inTitle++
		}
	}

	switch {
	case strings.Join(strings.Fields(lt), " ") == fullQuery:
		return MatchExactTitle, true
	case inTitle == len(keywords):
		return MatchTitle, true
	case inTitle > 0:
		return MatchBoth, true
	default:
		return MatchContent, true
	}
}

func score(mt MatchType, p models.PageText, keywords []string, now time.Time) float64 {
	s := baseScores[mt]

	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(p.Title)), keywords[0]) {
		s += titlePrefixBonus
	}

	lx := strings.ToLower(p.Text)
	occ := 0.0
	for _, k := range keywords {
		occ += float64(strings.Count(lx, k)) * occurrenceBonus
	}
	s += min(occ, maxOccurrenceBonus)

	if age := now.Sub(p.UpdatedAt); age < recencyWindow {
		if age < 0 {
			age = 0
		}
		s += maxRecencyBonus * (1 - float64(age)/float64(recencyWindow))
	}
	return s
}
