// Package embedder turns selected text into vectors.
//
// Two providers implement Embedder:
//
//   - Client calls a remote endpoint, POST {base}/embed {"text": ...} -> {"embedding": [...]}.
//   - LocalProvider hashes words into a fixed-size vector offline. The reference
//     backend uses it to serve /embed and to index documents.
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.Config{BaseURL: "http://localhost:8080"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer emb.Close()
//
//	vec, err := emb.Embed(ctx, "debounced selection handling")
//	if errors.Is(err, types.ErrEmbeddingUnavailable) {
//	    // show the error, keep previous results
//	}
//
// # Coalescing and Caching
//
// Text is normalised (trimmed, whitespace collapsed) before it is embedded.
// Concurrent Embed calls for the same normalised text share one remote call,
// and successful embeddings are kept in an LRU keyed by SHA-256 of the text:
//
//	cache := embedder.NewCache(10000)
//	if v, ok := cache.Get(embedder.ComputeHash(text)); ok {
//	    return v
//	}
//
// # Failure Handling
//
// Transport errors, non-200 responses and timeouts wrap
// types.ErrEmbeddingUnavailable. A circuit breaker opens after
// BreakerFailures consecutive failures and fails fast for BreakerCooldown.
// The client makes one attempt per call unless RetryConfig.MaxAttempts says otherwise.
package embedder
