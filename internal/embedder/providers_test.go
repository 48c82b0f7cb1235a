package embedder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/selectsense-mcp/pkg/types"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestLocalProvider(t *testing.T) {
	ctx := context.Background()
	p := NewLocalProvider(0, NewCache(100))

	t.Run("dimension and unit length", func(t *testing.T) {
		emb, err := p.Embed(ctx, "selection driven retrieval")
		require.NoError(t, err)
		assert.Len(t, emb.Vector, LocalDimension)
		assert.Equal(t, DefaultLocalModel, emb.Model)

		var sum float64
		for _, v := range emb.Vector {
			sum += float64(v) * float64(v)
		}
		assert.InDelta(t, 1.0, sum, 1e-5)
	})

	t.Run("deterministic across instances", func(t *testing.T) {
		other := NewLocalProvider(0, nil)
		a, err := p.Embed(ctx, "result caching by signature")
		require.NoError(t, err)
		b, err := other.Embed(ctx, "result caching by signature")
		require.NoError(t, err)
		assert.Equal(t, a.Vector, b.Vector)
	})

	t.Run("whitespace insensitive", func(t *testing.T) {
		a, _ := p.Embed(ctx, "result caching")
		b, _ := p.Embed(ctx, "  result\n\tcaching ")
		assert.Equal(t, a.Vector, b.Vector)
	})

	t.Run("shared vocabulary scores higher", func(t *testing.T) {
		q, _ := p.Embed(ctx, "the debounce timer delays the search")
		near, _ := p.Embed(ctx, "a debounce timer delays each search request")
		far, _ := p.Embed(ctx, "pages render quickly in the viewer")

		assert.Greater(t, cosine(q.Vector, near.Vector), cosine(q.Vector, far.Vector))
	})

	t.Run("empty text", func(t *testing.T) {
		_, err := p.Embed(ctx, "   ")
		assert.True(t, errors.Is(err, types.ErrInvalidSelection))
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := p.Embed(cctx, "uncached text for cancellation")
		assert.True(t, errors.Is(err, types.ErrCancelled))
	})

	t.Run("batch", func(t *testing.T) {
		embs, err := p.EmbedBatch(ctx, []string{"first section", "second section"})
		require.NoError(t, err)
		require.Len(t, embs, 2)
		assert.Equal(t, "first section", embs[0].SourceText)

		_, err = p.EmbedBatch(ctx, []string{"ok", ""})
		assert.True(t, errors.Is(err, ErrInvalidInput))
	})

	t.Run("custom dimension", func(t *testing.T) {
		small := NewLocalProvider(16, nil)
		emb, err := small.Embed(ctx, "tiny vector")
		require.NoError(t, err)
		assert.Len(t, emb.Vector, 16)
		assert.Equal(t, 16, small.Dimension())
	})
}

func TestRetryWithBackoff(t *testing.T) {
	t.Run("default config makes one attempt", func(t *testing.T) {
		callCount := 0
		_, err := retryWithBackoff(context.Background(), DefaultRetryConfig(), func() (string, error) {
			callCount++
			return "", fmt.Errorf("transient error")
		})
		assert.Error(t, err)
		assert.Equal(t, 1, callCount)
	})

	t.Run("retries until success", func(t *testing.T) {
		config := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}

		callCount := 0
		result, err := retryWithBackoff(context.Background(), config, func() (string, error) {
			callCount++
			if callCount < 2 {
				return "", fmt.Errorf("transient error")
			}
			return "success", nil
		})
		assert.NoError(t, err)
		assert.Equal(t, "success", result)
		assert.Equal(t, 2, callCount)
	})

	t.Run("returns last error", func(t *testing.T) {
		config := RetryConfig{MaxAttempts: 4, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}

		callCount := 0
		_, err := retryWithBackoff(context.Background(), config, func() (bool, error) {
			callCount++
			return false, fmt.Errorf("error %d", callCount)
		})
		assert.Equal(t, 4, callCount)
		assert.EqualError(t, err, "error 4")
	})

	t.Run("context cancellation stops retries", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		config := RetryConfig{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond, MaxDelay: 100 * time.Millisecond, Multiplier: 2}

		callCount := 0
		_, err := retryWithBackoff(ctx, config, func() (string, error) {
			callCount++
			if callCount == 2 {
				cancel()
			}
			return "", fmt.Errorf("error")
		})
		assert.Equal(t, context.Canceled, err)
		assert.Equal(t, 2, callCount)
	})
}
