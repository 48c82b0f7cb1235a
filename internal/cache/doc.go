// Package cache memoises ranked results per query signature.
//
// A Signature combines the search mode, the normalised query text and the
// threshold bucket (hundredths). Equal signatures always produce equal results
// for one corpus snapshot, so a hit can be served without any remote call:
//
//	c := cache.New(cache.Options{})
//	sig := cache.NewSignature(types.ModeSemantic, text, 0.65)
//	if entry, ok := c.Get(sig); ok {
//	    return entry.Results
//	}
//	results := compute()
//	c.Set(sig, results)
//
// Entries are stamped with the corpus version current at Set time. Calling
// SetCorpusVersion with a new version purges the cache, as does InvalidateAll.
// There is no expiry by default; Options.MaxAge enables one, measured with the
// injected Clock. Size is bounded by an LRU.
package cache
