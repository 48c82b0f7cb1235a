package embedder

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/selectsense-mcp/pkg/types"
)

func TestComputeHash(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "empty string",
			text: "",
			want: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{
			name: "simple text",
			text: "hello world",
			want: "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeHash(tt.text))
		})
	}

	assert.Equal(t, ComputeHash("test"), ComputeHash("test"), "hash must be stable")
}

func TestPrepareText(t *testing.T) {
	got, err := prepareText("  debounce   the\nselection ")
	require.NoError(t, err)
	assert.Equal(t, "debounce the selection", got)

	_, err = prepareText(" \t ")
	assert.True(t, errors.Is(err, ErrEmptyText))
	assert.True(t, errors.Is(err, types.ErrInvalidSelection), "empty text is an invalid selection")
}

func TestValidateBatch(t *testing.T) {
	tests := []struct {
		name    string
		texts   []string
		wantErr error
	}{
		{"valid", []string{"a", "b"}, nil},
		{"empty batch", nil, ErrInvalidInput},
		{"blank entry", []string{"a", "  "}, ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBatch(tt.texts)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr))
		})
	}
}

func TestCache(t *testing.T) {
	t.Run("get returns copy", func(t *testing.T) {
		cache := NewCache(10)
		cache.Set("h", &types.Embedding{Vector: []float32{1, 2, 3}, Model: "m"})

		got, ok := cache.Get("h")
		require.True(t, ok)
		got.Vector[0] = 99

		again, _ := cache.Get("h")
		assert.Equal(t, []float32{1, 2, 3}, again.Vector)
		assert.Equal(t, "m", again.Model)
	})

	t.Run("set stores copy", func(t *testing.T) {
		cache := NewCache(10)
		emb := &types.Embedding{Vector: []float32{1, 2, 3}}
		cache.Set("h", emb)
		emb.Vector[0] = 99

		got, _ := cache.Get("h")
		assert.Equal(t, float32(1), got.Vector[0])
	})

	t.Run("lru eviction", func(t *testing.T) {
		cache := NewCache(2)
		cache.Set("a", &types.Embedding{Vector: []float32{1}})
		cache.Set("b", &types.Embedding{Vector: []float32{2}})
		cache.Set("c", &types.Embedding{Vector: []float32{3}})

		assert.Equal(t, 2, cache.Size())
		_, ok := cache.Get("a")
		assert.False(t, ok)
	})

	t.Run("clear", func(t *testing.T) {
		cache := NewCache(0)
		cache.Set("a", &types.Embedding{Vector: []float32{1}})
		cache.Clear()
		assert.Equal(t, 0, cache.Size())
	})
}

func TestNormalizeVector(t *testing.T) {
	got := NormalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, got[0], 1e-6)
	assert.InDelta(t, 0.8, got[1], 1e-6)

	zero := []float32{0, 0}
	assert.Equal(t, zero, NormalizeVector(zero))
}
