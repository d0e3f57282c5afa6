// Package parser extracts wikilink titles, plain text and previews from page
// content. Content is either plain text / Markdown or a TipTap (ProseMirror) JSON
// document; both forms are accepted everywhere.
package parser

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

var (
	wikilinkRe   = regexp.MustCompile(`\[\[(.*?)\]\]`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Markdown holds the output of parsing a Markdown file.
type Markdown struct {
	Frontmatter map[string]interface{}
	Body        string
	Links       []string
	Title       string
}

// Parse extracts frontmatter, body, title and wikilinks from raw Markdown bytes.
func Parse(data []byte) (*Markdown, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}
	return &Markdown{
		Frontmatter: fm,
		Body:        body,
		Links:       extractLinks(body),
		Title:       deriveTitle(fm, body),
	}, nil
}

// LinkTitles returns the referenced titles of content in order of first
// appearance, trimmed and deduplicated case-insensitively.
func LinkTitles(content string) []string {
	if doc, ok := parseDoc(content); ok {
		var raw []string
		doc.walk(func(n *node) {
			for _, m := range n.Marks {
				if m.Type == "wikiLink" {
					if t, ok := m.Attrs["title"].(string); ok {
						raw = append(raw, t)
					}
				}
			}
			if n.Text != "" {
				raw = append(raw, extractLinks(n.Text)...)
			}
		})
		return dedupeTitles(raw)
	}
	return extractLinks(content)
}

// PlainText returns the readable text of content. JSON documents are
// flattened with one line per block; anything else is returned unchanged.
func PlainText(content string) string {
	doc, ok := parseDoc(content)
	if !ok {
		return content
	}
	var b strings.Builder
	doc.text(&b)
	return strings.TrimSpace(b.String())
}

// Preview collapses whitespace in text and cuts it to limit runes.
func Preview(text string, limit int) string {
	s := strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:limit]))
}

// NormalizeTitle is the key used for case-insensitive title matching.
func NormalizeTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the Markdown body. If no frontmatter is found the entire content is body.
func splitFrontmatter(data []byte) (map[string]interface{}, string, error) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data), nil
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data), nil
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]interface{}
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		// Invalid YAML: keep the whole file as body.
		return nil, string(data), nil
	}

	return fm, body, nil
}

// extractLinks returns deduplicated wikilink targets, normalising aliases.
func extractLinks(body string) []string {
	matches := wikilinkRe.FindAllStringSubmatch(body, -1)
	raw := make([]string, 0, len(matches))
	for _, m := range matches {
		target := m[1]
		// [[Target|Alias]] → Target.
		if i := strings.Index(target, "|"); i >= 0 {
			target = target[:i]
		}
		raw = append(raw, target)
	}
	return dedupeTitles(raw)
}

func dedupeTitles(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	var out []string
	for _, t := range raw {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		key := NormalizeTitle(t)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}

// deriveTitle returns the frontmatter "title" if present, otherwise the first
// H1 heading, otherwise empty string.
func deriveTitle(fm map[string]interface{}, body string) string {
	if fm != nil {
		if t, ok := fm["title"]; ok {
			if s, ok := t.(string); ok && s != "" {
				return s
			}
		}
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
