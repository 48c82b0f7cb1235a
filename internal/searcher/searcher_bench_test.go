package searcher

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/dshills/selectsense-mcp/pkg/types"
)

func benchCorpus(n, dim int) *mockCorpus {
	r := rand.New(rand.NewSource(42))
	entries := make([]types.CorpusEntry, n)
	for i := range entries {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = r.Float32()*2 - 1
		}
		entries[i] = types.CorpusEntry{
			DocumentID:  fmt.Sprintf("doc-%d", i/10),
			SectionID:   fmt.Sprintf("sec-%d", i),
			Heading:     fmt.Sprintf("Heading %d", i),
			SnippetText: "snippet",
			Embedding:   types.Embedding{Vector: vec},
		}
	}
	return &mockCorpus{entries: entries}
}

func BenchmarkSearchUncached(b *testing.B) {
	emb := newMockEmbedder()
	c := benchCorpus(2000, 2)
	s, err := NewSearcher(emb, c, Config{NoDebounce: true})
	if err != nil {
		b.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.ClearCache()
		if _, err := s.Search(ctx, longQuery); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSearchCached(b *testing.B) {
	emb := newMockEmbedder()
	c := benchCorpus(2000, 2)
	s, err := NewSearcher(emb, c, Config{NoDebounce: true})
	if err != nil {
		b.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	if _, err := s.Search(ctx, longQuery); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Search(ctx, longQuery); err != nil {
			b.Fatal(err)
		}
	}
}
