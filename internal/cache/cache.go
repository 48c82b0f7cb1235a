package cache

import (
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/selectsense-mcp/pkg/types"
)

// DefaultMaxEntries bounds the cache for one reading session.
const DefaultMaxEntries = 1000

// Clock supplies the current time. Tests inject a fake.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// Signature is the cache key. Two signatures are equal exactly when they
// would produce the same results against the same corpus snapshot.
type Signature struct {
	Mode            types.SearchMode
	Query           string
	ThresholdBucket int // threshold in hundredths

	// Scope is the document a query is relative to, set only when the
	// results depend on it.
	Scope string
}

// NewSignature builds a signature from raw inputs. The query is normalised
// and the threshold quantised so equivalent requests share one key.
func NewSignature(mode types.SearchMode, query string, threshold float64) Signature {
	return Signature{
		Mode:            mode,
		Query:           types.NormalizeText(query),
		ThresholdBucket: ThresholdBucket(threshold),
	}
}

// ThresholdBucket maps a threshold onto its two-decimal bucket.
func ThresholdBucket(threshold float64) int {
	return int(math.Round(threshold * 100))
}

// QuantizeThreshold rounds a threshold to two decimals.
func QuantizeThreshold(threshold float64) float64 {
	return float64(ThresholdBucket(threshold)) / 100
}

// Entry is one cached computation. Entries are never mutated after Set.
type Entry struct {
	Signature     Signature
	Results       []types.SearchResult
	CreatedAt     time.Time
	CorpusVersion uint64
}

func (e *Entry) clone() *Entry {
	return &Entry{
		Signature:     e.Signature,
		Results:       types.CloneResults(e.Results),
		CreatedAt:     e.CreatedAt,
		CorpusVersion: e.CorpusVersion,
	}
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Entries       int    `json:"entries"`
	Invalidations uint64 `json:"invalidations"`
	CorpusVersion uint64 `json:"corpus_version"`
}

// Options configures a ResultCache. Zero values select defaults.
type Options struct {
	MaxEntries int
	MaxAge     time.Duration // 0 disables expiry
	Clock      Clock
}

// ResultCache maps signatures to ranked results for the current corpus version.
// It is safe for concurrent use.
type ResultCache struct {
	mu      sync.Mutex
	entries *lru.Cache[Signature, *Entry]
	clock   Clock
	maxAge  time.Duration
	version uint64

	hits          uint64
	misses        uint64
	invalidations uint64
}

// New creates a result cache.
func New(opts Options) *ResultCache {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}

	entries, err := lru.New[Signature, *Entry](opts.MaxEntries)
	if err != nil {
		// only fails for a non-positive size
		entries, _ = lru.New[Signature, *Entry](DefaultMaxEntries)
	}

	return &ResultCache{
		entries: entries,
		clock:   opts.Clock,
		maxAge:  opts.MaxAge,
	}
}

// Get returns a copy of the entry for sig. Entries from an older corpus
// version or past MaxAge are dropped and reported as a miss.
func (c *ResultCache) Get(sig Signature) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries.Get(sig)
	if ok && !c.fresh(entry) {
		c.entries.Remove(sig)
		ok = false
	}
	if !ok {
		c.misses++
		return nil, false
	}

	c.hits++
	return entry.clone(), true
}

func (c *ResultCache) fresh(e *Entry) bool {
	if e.CorpusVersion != c.version {
		return false
	}
	if c.maxAge > 0 && c.clock.Now().Sub(e.CreatedAt) > c.maxAge {
		return false
	}
	return true
}

// Set stores results under sig, replacing any existing entry.
// The slice is copied; later changes by the caller do not leak in.
func (c *ResultCache) Set(sig Signature, results []types.SearchResult) {
	if results == nil {
		results = []types.SearchResult{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Add(sig, &Entry{
		Signature:     sig,
		Results:       types.CloneResults(results),
		CreatedAt:     c.clock.Now(),
		CorpusVersion: c.version,
	})
}

// Clear empties the cache for the session. Statistics are kept.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}

// InvalidateAll drops every entry because the corpus changed.
func (c *ResultCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
	c.invalidations++
}

// SetCorpusVersion records the version of the snapshot results are computed
// against. A change invalidates every entry and reports true.
func (c *ResultCache) SetCorpusVersion(v uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v == c.version {
		return false
	}
	c.version = v
	c.entries.Purge()
	c.invalidations++
	return true
}

// CorpusVersion returns the version entries are currently stamped with.
func (c *ResultCache) CorpusVersion() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Len returns the number of stored entries, including any not yet found stale.
func (c *ResultCache) Len() int {
	return c.entries.Len()
}

// Stats returns a snapshot of the counters.
func (c *ResultCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:          c.hits,
		Misses:        c.misses,
		Entries:       c.entries.Len(),
		Invalidations: c.invalidations,
		CorpusVersion: c.version,
	}
}
