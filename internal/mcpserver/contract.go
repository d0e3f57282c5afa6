package mcpserver

// PageFormat describes how page text is read for previews, links and search.
const PageFormat = `# Page Format

A page has a title and a body. The body is either plain text or an editor
document (TipTap/ProseMirror JSON); both are read the same way.

## Links

- ` + "`[[Title]]`" + ` links to the page with that title. Matching ignores case and
  surrounding whitespace.
- ` + "`[[Title|shown text]]`" + ` links to Title and displays the alias.
- A link whose title matches no page is kept as an unresolved link and shows up
  under ` + "`ghost_links`" + ` in get_page_graph. Creating a page with that title later
  resolves it.
- A page never links to itself.

## Derived fields

- The preview is the first 120 characters of the text with whitespace collapsed.
- Search matches every keyword against the title and the full text. An exact
  title match ranks first.

## Example

` + "```" + `
Notes from the design review.

Follows up on [[Consensus]] and [[Raft|the Raft paper]].
` + "```" + `
`
