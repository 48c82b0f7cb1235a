// Package chunker divides documents into heading-delimited sections for embedding and search.
//
// Markdown documents split on ATX headings (# through ######); fenced code blocks are
// never scanned for headings. Plain text documents split on numbered headings
// ("2.1 Methods"), chapter markers and a short list of keyword headings such as
// "Introduction" or "References".
//
// # Basic Usage
//
//	c := chunker.New()
//	doc, err := c.ChunkFile("/path/to/notes.md")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for _, chunk := range doc.Chunks {
//	    fmt.Printf("%s (page %d): %d tokens\n",
//	        chunk.Heading, chunk.PageNumber, chunk.TokenCount)
//	}
//
// # Pages
//
// A form feed character starts a new page, which is how most PDF and office
// exporters mark page breaks in plain text. Each chunk records the page its
// heading appeared on.
//
// # Sizing
//
// Sections shorter than DefaultMinContentChars are dropped. Sections estimated above
// MaxTokensPerChunk are split at paragraph boundaries; the tail parts keep the
// heading and are typed ChunkContinuation.
package chunker
