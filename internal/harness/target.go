package harness

import (
	"context"
	"time"
)

const (
	// DefaultResolveTimeout bounds the wait for a target to appear.
	DefaultResolveTimeout = 10 * time.Second

	// resolvePollInterval is the probe cadence inside Resolve.
	resolvePollInterval = 100 * time.Millisecond
)

// Target is a logical UI target: an ordered list of candidate selectors
// treated as alternatives (declared order = preference order), plus a wait
// policy. Application UIs evolve, so coupling a step to a single selector is
// brittle; the candidates let an id selector and a data-attribute selector
// both address the same logical control. A Target is immutable once defined.
type Target struct {
	Name      string
	Selectors []string
	Visible   bool
	Timeout   time.Duration
}

// Match is a resolved target: the concrete selector that won.
type Match struct {
	Target   Target
	Selector string
}

// Resolve tries the target's candidate selectors in declaration order until
// one matches, probing at a fixed cadence up to the target's timeout. The
// first candidate that yields a match wins; no further candidates are
// attempted. Timeout is the only error kind: absence before the deadline is
// a *NotFoundError, and the caller decides its severity.
func Resolve(ctx context.Context, b Browser, t Target) (Match, error) {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}
	deadline := time.Now().Add(timeout)

	for {
		selector, err := b.FirstMatch(ctx, t.Selectors, t.Visible)
		if err != nil {
			return Match{}, err
		}
		if selector != "" {
			return Match{Target: t, Selector: selector}, nil
		}

		if time.Now().After(deadline) {
			return Match{}, &NotFoundError{Target: t.Name, Selectors: t.Selectors, Timeout: timeout}
		}

		select {
		case <-ctx.Done():
			return Match{}, ctx.Err()
		case <-time.After(resolvePollInterval):
		}
	}
}

// Present reports whether the target currently matches, without waiting.
// Scenarios use it to guard optional affordances.
func Present(ctx context.Context, b Browser, t Target) (bool, error) {
	selector, err := b.FirstMatch(ctx, t.Selectors, t.Visible)
	if err != nil {
		return false, err
	}
	return selector != "", nil
}
