package ratelimit

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// BaseDelay is the pessimistic reset window assumed when the server
	// hasn't told us when an endpoint's quota refreshes.
	BaseDelay = 35 * time.Minute

	// MinimumSpacing is the hard floor between requests to the same
	// endpoint, independent of quota accounting.
	MinimumSpacing = 5 * time.Minute

	// InitialQuota is the conservative remaining-call count assumed for an
	// endpoint before the server has reported anything.
	InitialQuota = 250

	// SafetyBuffer is the remaining-call count at which the tracker stops
	// allowing requests rather than running the quota to zero.
	SafetyBuffer = 10

	maxDenyBackoff     = 4 * time.Hour
	maxAdvisoryBackoff = 2 * time.Hour
)

type endpointState struct {
	remaining   int
	tracked     bool
	resetAt     time.Time
	attempts    int
	lastRequest time.Time
}

/*
Tracker keeps conservative per-endpoint rate limit bookkeeping for the
X API. Server-reported limits lag reality, and one over-limit burst can earn
a long server-side suspension, so the tracker gates on its own local state
and only folds in server headers as they arrive.

All state is in-memory and process-lifetime only. A single coarse mutex
serializes every read and write; calls are minutes apart, so correctness
wins over throughput here.
*/
type Tracker struct {
	mu        sync.Mutex
	endpoints map[string]*endpointState

	now func() time.Time
}

func NewTracker() *Tracker {
	log.Infof("rate limit tracker initialized: base delay %s, minimum spacing %s", BaseDelay, MinimumSpacing)
	return &Tracker{
		endpoints: map[string]*endpointState{},
		now:       time.Now,
	}
}

// Update folds server-reported limit headers into local state. It never
// fails; callers just skip it when the response carried no metadata.
func (t *Tracker) Update(endpoint string, remaining int, reset time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.state(endpoint)
	st.remaining = remaining
	st.tracked = true
	if !reset.IsZero() {
		st.resetAt = reset
	}
	log.WithField("endpoint", endpoint).WithField("remaining", remaining).Debugf("rate limit updated, reset in %s", time.Until(reset).Round(time.Second))
}

/*
Allow reports whether a request to the endpoint may go out now, and records
the request if so. The check and the recording happen in one critical
section so concurrent callers can't both squeeze through the same slot.

A deny escalates the endpoint's attempt counter; this is the only place the
counter escalates. WaitTime reads it without mutating, so a caller that is
denied and then asks how long to sleep sees the post-increment value.
*/
func (t *Tracker) Allow(endpoint string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.state(endpoint)
	now := t.now()

	// Hard spacing floor, regardless of what the quota looks like.
	if !st.lastRequest.IsZero() {
		sinceLast := now.Sub(st.lastRequest)
		if sinceLast < MinimumSpacing {
			log.WithField("endpoint", endpoint).Infof("enforcing minimum spacing, %s until next slot", (MinimumSpacing - sinceLast).Round(time.Second))
			return false
		}
	}

	if !st.tracked {
		log.WithField("endpoint", endpoint).Info("no rate limit information, assuming conservative initial quota")
		st.remaining = InitialQuota
		st.tracked = true
		st.lastRequest = now
		return true
	}

	if st.remaining <= SafetyBuffer {
		resetAt := st.resetAt
		if resetAt.IsZero() {
			resetAt = now.Add(BaseDelay)
		}
		if resetAt.After(now) {
			st.attempts++
			backoff := expBackoff(BaseDelay, 3, st.attempts, maxDenyBackoff)
			log.WithField("endpoint", endpoint).
				WithField("remaining", st.remaining).
				WithField("attempts", st.attempts).
				Warnf("quota protection active: %s until reset plus %s backoff", resetAt.Sub(now).Round(time.Second), backoff)
			return false
		}
		// The window has rolled over; treat the quota as refreshed.
		st.remaining = InitialQuota
		st.resetAt = time.Time{}
	}

	st.lastRequest = now
	if st.attempts > 0 {
		log.WithField("endpoint", endpoint).Info("resetting attempt count after allowed request")
	}
	st.attempts = 0
	return true
}

// WaitTime is the advisory sleep before the endpoint is worth retrying:
// time until the reset plus exponential backoff for repeated denials. It
// never mutates state.
func (t *Tracker) WaitTime(endpoint string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.state(endpoint)
	now := t.now()

	resetAt := st.resetAt
	if resetAt.IsZero() {
		resetAt = now.Add(BaseDelay)
	}
	baseWait := resetAt.Sub(now)
	if baseWait < 0 {
		baseWait = 0
	}

	var backoff time.Duration
	if st.attempts > 0 {
		backoff = expBackoff(BaseDelay, 2, st.attempts, maxAdvisoryBackoff)
	}

	total := baseWait + backoff
	log.WithField("endpoint", endpoint).Debugf("advisory wait %s (reset %s, backoff %s)", total.Round(time.Second), baseWait.Round(time.Second), backoff.Round(time.Second))
	return total
}

// state returns the tracked entry for an endpoint, creating it on first
// sight. Callers must hold the lock.
func (t *Tracker) state(endpoint string) *endpointState {
	st, ok := t.endpoints[endpoint]
	if !ok {
		st = &endpointState{}
		t.endpoints[endpoint] = st
	}
	return st
}

// expBackoff computes base * factor^attempts, capped at limit. The loop
// multiplies instead of using math.Pow so durations never round through
// floats.
func expBackoff(base time.Duration, factor int, attempts int, limit time.Duration) time.Duration {
	backoff := base
	for i := 0; i < attempts; i++ {
		backoff *= time.Duration(factor)
		if backoff >= limit {
			return limit
		}
	}
	if backoff > limit {
		return limit
	}
	return backoff
}
