package chunker

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/dshills/selectsense-mcp/pkg/types"
)

const (
	// MaxTokensPerChunk is the target maximum token count per chunk
	MaxTokensPerChunk = 1000

	// TokensPerChar is the heuristic for estimating tokens (chars/4)
	TokensPerChar = 4

	// DefaultMinContentChars drops sections too short to carry meaning
	DefaultMinContentChars = 50

	// maxHeadingLen bounds plain-text heading detection
	maxHeadingLen = 150

	// pageBreak separates pages in text exported from paged formats
	pageBreak = '\f'
)

// Format selects the heading grammar used to split a document
type Format int

const (
	// FormatMarkdown splits on ATX headings (# through ######)
	FormatMarkdown Format = iota
	// FormatPlainText splits on numbered, chapter and keyword headings
	FormatPlainText
)

// FormatForPath picks a format from the file extension
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".mdx":
		return FormatMarkdown
	default:
		return FormatPlainText
	}
}

// ChunkStrategy controls how a document is divided
type ChunkStrategy int

const (
	// StrategyHeadingLevel creates one chunk per heading-delimited section
	StrategyHeadingLevel ChunkStrategy = iota
	// StrategyDocumentLevel creates a single chunk for the entire document
	StrategyDocumentLevel
)

// Document is the result of chunking one source
type Document struct {
	Title  string
	Chunks []*types.Chunk
}

// Chunker splits documents into heading-delimited chunks
type Chunker struct {
	minContentChars int
	maxTokens       int
}

// Option configures a Chunker
type Option func(*Chunker)

// WithMinContentChars sets the minimum content length a section needs to be kept
func WithMinContentChars(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.minContentChars = n
		}
	}
}

// WithMaxTokens sets the size above which sections are split at paragraph boundaries
func WithMaxTokens(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// New creates a new Chunker instance
func New(opts ...Option) *Chunker {
	c := &Chunker{
		minContentChars: DefaultMinContentChars,
		maxTokens:       MaxTokensPerChunk,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ChunkFile reads a file and chunks it with the format implied by its extension
func (c *Chunker) ChunkFile(filePath string) (*Document, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	doc := c.Chunk(string(content), FormatForPath(filePath))
	if doc.Title == "" {
		doc.Title = TitleFromPath(filePath)
	}
	return doc, nil
}

// ChunkWithStrategy creates chunks using a specific strategy
func (c *Chunker) ChunkWithStrategy(text string, format Format, strategy ChunkStrategy) *Document {
	switch strategy {
	case StrategyDocumentLevel:
		return c.chunkDocumentLevel(text, format)
	default:
		return c.Chunk(text, format)
	}
}

// Chunk splits text into sections. Title is the first markdown level-1 heading, empty if none.
func (c *Chunker) Chunk(text string, format Format) *Document {
	doc := &Document{}
	var (
		current  *section
		sections []*section
		page     = 1
		inFence  bool
	)

	flush := func() {
		if current != nil {
			sections = append(sections, current)
		}
	}

	for _, raw := range splitLines(text) {
		page += strings.Count(raw, string(pageBreak))
		line := strings.TrimSpace(strings.ReplaceAll(raw, string(pageBreak), ""))

		if format == FormatMarkdown && isFence(line) {
			inFence = !inFence
			continue
		}

		level, heading := 0, ""
		if !inFence && line != "" {
			level, heading = detectHeading(line, format)
		}

		if level > 0 {
			if level == 1 && doc.Title == "" && format == FormatMarkdown {
				doc.Title = heading
			}
			flush()
			current = &section{heading: heading, level: level, page: page}
			continue
		}

		if current == nil {
			if line == "" {
				continue
			}
			current = &section{page: page, preamble: true}
		}
		current.lines = append(current.lines, line)
	}
	flush()

	doc.Chunks = c.buildChunks(sections)
	return doc
}

// chunkDocumentLevel creates a single chunk for the entire document
func (c *Chunker) chunkDocumentLevel(text string, format Format) *Document {
	doc := c.Chunk(text, format)
	content := cleanContent(strings.ReplaceAll(text, string(pageBreak), "\n"))
	if content == "" {
		doc.Chunks = nil
		return doc
	}
	chunk := &types.Chunk{
		Heading:    doc.Title,
		Content:    content,
		PageNumber: 1,
		ChunkType:  types.ChunkDocument,
	}
	chunk.ComputeTokenCount()
	chunk.ComputeContentHash()
	doc.Chunks = []*types.Chunk{chunk}
	return doc
}

// section accumulates lines until the next heading
type section struct {
	heading  string
	level    int
	page     int
	preamble bool
	lines    []string
}

// buildChunks cleans sections, drops short ones and splits oversized ones
func (c *Chunker) buildChunks(sections []*section) []*types.Chunk {
	chunks := make([]*types.Chunk, 0, len(sections))
	for _, s := range sections {
		for i, part := range c.SplitOversized(paragraphs(s.lines)) {
			content := cleanContent(part)
			if len(content) < c.minContentChars || content == "" {
				continue
			}
			chunkType := types.ChunkHeading
			switch {
			case i > 0:
				chunkType = types.ChunkContinuation
			case s.preamble:
				chunkType = types.ChunkPreamble
			}
			chunk := &types.Chunk{
				Heading:    s.heading,
				Level:      s.level,
				Content:    content,
				PageNumber: s.page,
				Position:   len(chunks),
				ChunkType:  chunkType,
			}
			chunk.ComputeTokenCount()
			chunk.ComputeContentHash()
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

// SplitOversized groups paragraphs into parts that stay under the token limit.
// A single paragraph larger than the limit becomes its own part.
func (c *Chunker) SplitOversized(paras []string) []string {
	var (
		parts   []string
		current strings.Builder
	)
	for _, p := range paras {
		if current.Len() > 0 && EstimateTokenCount(current.String()+" "+p) > c.maxTokens {
			parts = append(parts, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(p)
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

var (
	atxHeading = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)

	// plain text heading patterns, most specific first
	plainHeadings = []struct {
		pattern *regexp.Regexp
		level   int
	}{
		{regexp.MustCompile(`^\d+\.\d+\.\d+\.?\s+\S`), 3},
		{regexp.MustCompile(`^\d+\.\d+\.?\s+\S`), 2},
		{regexp.MustCompile(`^\d+\.?\s+[A-Z]`), 1},
		{regexp.MustCompile(`^(Chapter|CHAPTER|Section|SECTION)\s+\d+`), 1},
		{regexp.MustCompile(`^(Introduction|Conclusion|Abstract|Summary|References)\s*:?$`), 1},
		{regexp.MustCompile(`^(Background|Methods|Results|Discussion)\s*:?$`), 2},
	}
)

// detectHeading returns the heading level and text, level 0 when line is body text
func detectHeading(line string, format Format) (int, string) {
	if format == FormatMarkdown {
		m := atxHeading.FindStringSubmatch(line)
		if m == nil {
			return 0, ""
		}
		return len(m[1]), m[2]
	}

	if len(line) < 3 || len(line) > maxHeadingLen {
		return 0, ""
	}
	// a sentence is not a heading
	if strings.HasSuffix(line, ".") && strings.Count(line, " ") > 8 {
		return 0, ""
	}
	for _, h := range plainHeadings {
		if h.pattern.MatchString(line) {
			return h.level, line
		}
	}
	return 0, ""
}

func isFence(line string) bool {
	return strings.HasPrefix(line, "```") || strings.HasPrefix(line, "~~~")
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(text, "\n")
}

// paragraphs joins consecutive non-blank lines
func paragraphs(lines []string) []string {
	var (
		paras   []string
		current []string
	)
	for _, l := range lines {
		if l == "" {
			if len(current) > 0 {
				paras = append(paras, strings.Join(current, " "))
				current = current[:0]
			}
			continue
		}
		current = append(current, l)
	}
	if len(current) > 0 {
		paras = append(paras, strings.Join(current, " "))
	}
	return paras
}

// cleanContent collapses whitespace and strips control characters
func cleanContent(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// TitleFromPath derives a display title from a file name
func TitleFromPath(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	words := strings.FieldsFunc(stem, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	for i, w := range words {
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

// ComputeChunkHash computes the SHA-256 hash for a chunk's content
func ComputeChunkHash(content string) [32]byte {
	return sha256.Sum256([]byte(content))
}

// EstimateTokenCount estimates the number of tokens in a string
func EstimateTokenCount(text string) int {
	return len(text) / TokensPerChar
}
