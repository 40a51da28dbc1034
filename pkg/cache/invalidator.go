package cache

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultDebounceDelay is the delay between the last cache-busting event
// for an owner and the actual invalidation.
const DefaultDebounceDelay = 2 * time.Second

// ExplicitDebounceDelay is the shorter delay used for writes originating
// from explicit, user-confirmed actions, for perceived immediacy.
const ExplicitDebounceDelay = 500 * time.Millisecond

// Invalidator coalesces rapid successive cache-busting events per owner
// into a single delayed invalidation of the retrieval-result cache.
//
// Re-triggering an owner within the debounce window cancels the pending
// timer and schedules a new one, so only the last scheduled invalidation
// fires. This turns a burst of writes (e.g. several facts extracted from
// one message) into one cache clear instead of one per write.
//
// All methods are safe for concurrent use.
type Invalidator struct {
	// retrieval is the retrieval-result cache whose owner entries are
	// cleared when a debounce timer fires.
	retrieval *TTLCache

	delay         time.Duration
	explicitDelay time.Duration

	timers map[string]*time.Timer
	mu     sync.Mutex
	closed bool

	logger zerolog.Logger
}

// NewInvalidator creates a new debounced invalidator for the given
// retrieval-result cache.
//
// Parameters:
//   - retrieval: The retrieval-result cache to clear per owner
//   - delay: Debounce delay. If 0, defaults to DefaultDebounceDelay.
//   - explicitDelay: Delay for explicit actions. If 0, defaults to
//     ExplicitDebounceDelay.
//   - logger: Structured logger. Use zerolog.Nop() to disable logging.
func NewInvalidator(retrieval *TTLCache, delay, explicitDelay time.Duration, logger zerolog.Logger) *Invalidator {
	if delay == 0 {
		delay = DefaultDebounceDelay
	}
	if explicitDelay == 0 {
		explicitDelay = ExplicitDebounceDelay
	}
	return &Invalidator{
		retrieval:     retrieval,
		delay:         delay,
		explicitDelay: explicitDelay,
		timers:        make(map[string]*time.Timer),
		logger:        logger.With().Str("component", "invalidator").Logger(),
	}
}

// Trigger schedules a debounced invalidation for the owner, cancelling any
// pending one. When explicit is true the shorter delay is used.
func (i *Invalidator) Trigger(ownerID string, explicit bool) {
	delay := i.delay
	if explicit {
		delay = i.explicitDelay
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return
	}

	// Re-arming means cancel-then-reschedule.
	if timer, ok := i.timers[ownerID]; ok {
		timer.Stop()
	}

	i.timers[ownerID] = time.AfterFunc(delay, func() {
		i.fire(ownerID)
	})
}

// fire clears the owner's retrieval-cache entries and drops the timer.
func (i *Invalidator) fire(ownerID string) {
	i.mu.Lock()
	delete(i.timers, ownerID)
	i.mu.Unlock()

	removed := i.retrieval.DeleteByPrefix(OwnerPrefix(ownerID))
	i.logger.Debug().
		Str("owner_id", ownerID).
		Int("removed", removed).
		Msg("invalidated retrieval cache")
}

// PendingCount returns the number of owners with a pending invalidation.
func (i *Invalidator) PendingCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.timers)
}

// Close cancels all pending timers. Further triggers are ignored.
func (i *Invalidator) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.closed = true
	for ownerID, timer := range i.timers {
		timer.Stop()
		delete(i.timers, ownerID)
	}
}
