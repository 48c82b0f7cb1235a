package types

import (
	"crypto/sha256"
	"errors"
)

// ChunkType represents how a document chunk was delimited
type ChunkType string

const (
	ChunkHeading      ChunkType = "heading"      // opened by a detected heading
	ChunkPreamble     ChunkType = "preamble"     // text before the first heading
	ChunkContinuation ChunkType = "continuation" // tail of an oversized section
	ChunkDocument     ChunkType = "document"     // whole document as one chunk
)

// Chunk is one heading-delimited part of a document, ready to embed
type Chunk struct {
	// Content
	Heading     string
	Level       int // 1-6, 0 when no heading was detected
	Content     string
	ContentHash [32]byte // SHA-256 hash for deduplication
	TokenCount  int

	// Location
	PageNumber int
	Position   int

	// Metadata
	ChunkType ChunkType
}

// ValidateContent checks if the chunk content is valid
func (c *Chunk) ValidateContent() error {
	if c.Content == "" {
		return errors.New("chunk content cannot be empty")
	}
	if c.PageNumber <= 0 {
		return errors.New("page number must be positive")
	}
	if c.Position < 0 {
		return errors.New("position cannot be negative")
	}
	return nil
}

// ComputeTokenCount estimates the number of tokens in the chunk
// Uses a simple heuristic: characters / 4
func (c *Chunk) ComputeTokenCount() int {
	c.TokenCount = (len(c.Heading) + len(c.Content)) / 4
	return c.TokenCount
}

// ComputeContentHash computes the SHA-256 hash of the heading and content
func (c *Chunk) ComputeContentHash() {
	c.ContentHash = sha256.Sum256([]byte(c.FullContent()))
}

// ValidateChunkType checks if the chunk type is valid
func (c *Chunk) ValidateChunkType() error {
	switch c.ChunkType {
	case ChunkHeading, ChunkPreamble, ChunkContinuation, ChunkDocument:
		return nil
	default:
		return errors.New("invalid chunk type")
	}
}

// Validate performs comprehensive validation of the chunk
func (c *Chunk) Validate() error {
	if err := c.ValidateContent(); err != nil {
		return err
	}
	if err := c.ValidateChunkType(); err != nil {
		return err
	}

	var zeroHash [32]byte
	if c.ContentHash == zeroHash {
		return errors.New("content hash must be computed")
	}
	return nil
}

// FullContent returns the text that gets embedded: heading, blank line, content
func (c *Chunk) FullContent() string {
	if c.Heading == "" {
		return c.Content
	}
	return c.Heading + "\n\n" + c.Content
}
