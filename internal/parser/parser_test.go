package parser

import (
	"strings"
	"testing"
)

func TestParse_FrontmatterAndBody(t *testing.T) {
	input := []byte("---\ntitle: Hello\n---\n# Hello\nBody with [[World]].\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Title != "Hello" {
		t.Errorf("title = %q, want %q", r.Title, "Hello")
	}
	if r.Body != "# Hello\nBody with [[World]].\n" {
		t.Errorf("body = %q", r.Body)
	}
	if len(r.Links) != 1 || r.Links[0] != "World" {
		t.Errorf("links = %v, want [World]", r.Links)
	}
}

func TestParse_NoFrontmatter(t *testing.T) {
	input := []byte("# Just a heading\nSome text.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter, got %v", r.Frontmatter)
	}
	if r.Title != "Just a heading" {
		t.Errorf("title = %q, want %q", r.Title, "Just a heading")
	}
}

func TestParse_InvalidYAMLFallback(t *testing.T) {
	input := []byte("---\n: invalid: yaml: {{{\n---\nBody\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter on invalid YAML")
	}
}

func TestExtractLinks_Basic(t *testing.T) {
	body := "See [[Note A]] and [[Note B|alias]].\nAlso [[note a]] again."
	links := extractLinks(body)
	if len(links) != 2 {
		t.Fatalf("len(links) = %d, want 2", len(links))
	}
	if links[0] != "Note A" || links[1] != "Note B" {
		t.Errorf("links = %v", links)
	}
}

func TestExtractLinks_EmptyTarget(t *testing.T) {
	links := extractLinks("see [[ ]] and [[|alias]]")
	if len(links) != 0 {
		t.Errorf("expected no links, got %v", links)
	}
}

func TestLinkTitles_TipTapDocument(t *testing.T) {
	doc := `{"type":"doc","content":[
		{"type":"paragraph","content":[
			{"type":"text","text":"see "},
			{"type":"text","text":"[[Beta]]","marks":[{"type":"wikiLink","attrs":{"title":"Beta","exists":true}}]},
			{"type":"text","text":" and [[ gamma ]]"}
		]},
		{"type":"paragraph","content":[{"type":"text","text":"[[BETA]] twice"}]}
	]}`
	links := LinkTitles(doc)
	if len(links) != 2 || links[0] != "Beta" || links[1] != "gamma" {
		t.Errorf("links = %v, want [Beta gamma]", links)
	}
}

func TestLinkTitles_JSONThatIsNotADocument(t *testing.T) {
	links := LinkTitles(`{"title":"[[X]]"}`)
	if len(links) != 1 || links[0] != "X" {
		t.Errorf("links = %v, want [X]", links)
	}
}

func TestPlainText_FlattensBlocks(t *testing.T) {
	doc := `{"type":"doc","content":[
		{"type":"heading","content":[{"type":"text","text":"Title"}]},
		{"type":"paragraph","content":[{"type":"text","text":"first"},{"type":"hardBreak"},{"type":"text","text":"second"}]}
	]}`
	got := PlainText(doc)
	if got != "Title\nfirst\nsecond" {
		t.Errorf("PlainText = %q", got)
	}
	if PlainText("plain [[text]]") != "plain [[text]]" {
		t.Errorf("plain text must pass through unchanged")
	}
}

func TestPreview(t *testing.T) {
	if got := Preview("  a\n\n b\tc ", 10); got != "a b c" {
		t.Errorf("Preview = %q", got)
	}
	long := strings.Repeat("あ", 200)
	if got := Preview(long, 120); len([]rune(got)) != 120 {
		t.Errorf("preview rune length = %d, want 120", len([]rune(got)))
	}
}

func TestDeriveTitle_FrontmatterOverH1(t *testing.T) {
	fm := map[string]any{"title": "FM Title"}
	body := "# H1 Title\ntext"
	title := deriveTitle(fm, body)
	if title != "FM Title" {
		t.Errorf("title = %q, want %q", title, "FM Title")
	}
}

func TestDeriveTitle_H1Fallback(t *testing.T) {
	title := deriveTitle(nil, "some text\n# My Heading\nmore")
	if title != "My Heading" {
		t.Errorf("title = %q, want %q", title, "My Heading")
	}
}
