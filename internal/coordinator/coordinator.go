package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dshills/selectsense-mcp/pkg/types"
)

// Defaults
const (
	DefaultDebounce  = 500 * time.Millisecond
	DefaultMinLength = 10
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("coordinator closed")

// Phase is the coordinator state.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhasePending   Phase = "pending"
	PhaseFetching  Phase = "fetching"
	PhaseSettled   Phase = "settled"
	PhaseCancelled Phase = "cancelled"
	PhaseFailed    Phase = "failed"
)

// Active reports whether a query for the current selection is pending,
// running, or done.
func (p Phase) Active() bool {
	return p == PhasePending || p == PhaseFetching || p == PhaseSettled
}

// Outcome is what one fetch produced.
type Outcome struct {
	Results   []types.SearchResult
	FromCache bool
	Mode      types.SearchMode // settings the results were computed with
	Threshold float64
}

// Event describes one state transition.
type Event struct {
	Phase      Phase
	Selection  types.Selection
	Outcome    Outcome // PhaseSettled only
	Err        error   // PhaseFailed only
	Generation uint64
	Reset      bool // results must be cleared
}

// FetchFunc computes results for a selection. It should honour ctx but the
// coordinator does not rely on it: late results of a superseded generation
// are dropped.
type FetchFunc func(ctx context.Context, sel types.Selection) (Outcome, error)

// Config configures a Coordinator. Zero values select defaults.
type Config struct {
	Debounce  time.Duration
	MinLength int // in runes, after trimming
	Clock     Clock
	Logger    *slog.Logger

	// NoDebounce makes Select fire immediately. A zero Debounce selects the default.
	NoDebounce bool
}

// Coordinator turns a stream of selections into at most one live query.
//
// Every new selection, manual search, cancel and reset advances the
// generation. A fetch commits its outcome only if its generation is still
// current, so a slow response can never overwrite a newer one.
//
// Listener callbacks run with the coordinator lock held, in generation order.
// A listener must not call back into the Coordinator.
type Coordinator struct {
	fetch    FetchFunc
	listener func(Event)
	debounce time.Duration
	minLen   int
	clock    Clock
	logger   *slog.Logger

	mu      sync.Mutex
	phase   Phase
	gen     uint64
	current *types.Selection
	timer   Timer
	cancel  context.CancelFunc
	closed  bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a Coordinator. listener may be nil.
func New(fetch FetchFunc, listener func(Event), cfg Config) *Coordinator {
	switch {
	case cfg.NoDebounce:
		cfg.Debounce = 0
	case cfg.Debounce <= 0:
		cfg.Debounce = DefaultDebounce
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultMinLength
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if listener == nil {
		listener = func(Event) {}
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Coordinator{
		fetch:      fetch,
		listener:   listener,
		debounce:   cfg.Debounce,
		minLen:     cfg.MinLength,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		phase:      PhaseIdle,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}
}

// Select records a new selection and (re)starts the debounce timer.
// Short selections reset the coordinator; repeating the current selection is a no-op.
func (c *Coordinator) Select(sel types.Selection) {
	sel = sel.Normalized()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	if sel.Len() < c.minLen {
		c.resetLocked()
		return
	}

	if c.current != nil && c.current.SameQuery(sel) && c.phase.Active() {
		return
	}

	c.scheduleLocked(sel)
}

// Refresh re-runs the current selection after the debounce, for when the
// settings that shape its results changed. It does nothing without a selection.
func (c *Coordinator) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.current == nil {
		return
	}
	c.scheduleLocked(*c.current)
}

func (c *Coordinator) scheduleLocked(sel types.Selection) {
	c.supersedeLocked()
	c.current = &sel
	c.phase = PhasePending
	gen := c.gen
	c.timer = c.clock.AfterFunc(c.debounce, func() { c.fire(gen) })
	c.emitLocked(Event{Phase: PhasePending, Selection: sel})
}

// fire runs when the debounce timer of generation gen expires
func (c *Coordinator) fire(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.gen || c.phase != PhasePending {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	sel := *c.current
	ctx := c.beginFetchLocked(c.baseCtx)
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		out, err := c.fetch(ctx, sel)
		c.complete(gen, out, err)
	}()
}

// Search runs a query for sel immediately, bypassing the debounce.
// It returns types.ErrInvalidSelection for short selections and
// types.ErrCancelled when a newer selection superseded it.
func (c *Coordinator) Search(ctx context.Context, sel types.Selection) (Outcome, error) {
	sel = sel.Normalized()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Outcome{}, ErrClosed
	}
	if sel.Len() < c.minLen {
		c.resetLocked()
		c.mu.Unlock()
		return Outcome{}, fmt.Errorf("%w: %d characters, need %d", types.ErrInvalidSelection, sel.Len(), c.minLen)
	}

	c.supersedeLocked()
	c.current = &sel
	gen := c.gen
	fetchCtx := c.beginFetchLocked(ctx)
	c.mu.Unlock()

	out, err := c.fetch(fetchCtx, sel)
	if !c.complete(gen, out, err) {
		return Outcome{}, fmt.Errorf("%w: superseded by a newer selection", types.ErrCancelled)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) && !errors.Is(err, types.ErrCancelled) {
			return Outcome{}, fmt.Errorf("%w: %w", types.ErrCancelled, err)
		}
		return Outcome{}, err
	}
	return out, nil
}

func (c *Coordinator) beginFetchLocked(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel
	c.phase = PhaseFetching
	c.emitLocked(Event{Phase: PhaseFetching, Selection: *c.current})
	return ctx
}

// complete commits the outcome of generation gen and reports whether it was current
func (c *Coordinator) complete(gen uint64, out Outcome, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.closed {
		c.logger.Debug("dropping stale response", "generation", gen, "current", c.gen)
		return false
	}

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	sel := *c.current

	switch {
	case err == nil:
		c.phase = PhaseSettled
		c.emitLocked(Event{Phase: PhaseSettled, Selection: sel, Outcome: out})
	case errors.Is(err, types.ErrCancelled) || errors.Is(err, context.Canceled):
		c.phase = PhaseCancelled
		c.emitLocked(Event{Phase: PhaseCancelled, Selection: sel})
	case errors.Is(err, types.ErrInvalidSelection):
		c.phase = PhaseIdle
		c.emitLocked(Event{Phase: PhaseIdle, Selection: sel})
	default:
		c.phase = PhaseFailed
		c.emitLocked(Event{Phase: PhaseFailed, Selection: sel, Err: err})
	}
	return true
}

// Cancel abandons pending and in-flight work. Results already shown stay.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.phase == PhaseIdle {
		return
	}
	c.supersedeLocked()
	c.phase = PhaseCancelled
	var sel types.Selection
	if c.current != nil {
		sel = *c.current
	}
	c.emitLocked(Event{Phase: PhaseCancelled, Selection: sel})
}

// Reset abandons all work, forgets the current selection and clears results.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.resetLocked()
}

func (c *Coordinator) resetLocked() {
	c.supersedeLocked()
	c.current = nil
	c.phase = PhaseIdle
	c.emitLocked(Event{Phase: PhaseIdle, Reset: true})
}

// supersedeLocked advances the generation and stops the timer and any in-flight fetch
func (c *Coordinator) supersedeLocked() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Coordinator) emitLocked(ev Event) {
	ev.Generation = c.gen
	c.listener(ev)
}

// Phase returns the current state.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Generation returns the current generation.
func (c *Coordinator) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Current returns the selection being served, if any.
func (c *Coordinator) Current() (types.Selection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return types.Selection{}, false
	}
	return *c.current, true
}

// Close stops the timer, cancels in-flight work and waits for debounced
// fetches to return. Later calls are ignored.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.supersedeLocked()
	c.closed = true
	c.mu.Unlock()

	c.baseCancel()
	c.wg.Wait()
}
