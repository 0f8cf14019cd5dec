// Package budget reports how much wall-clock time an invocation has left.
// Long loops check it between units of work and stop early instead of being
// cut off by the host.
package budget

import (
	"context"
	"time"
)

type Budget interface {
	Remaining() time.Duration
}

// Func adapts a plain function to Budget.
type Func func() time.Duration

func (f Func) Remaining() time.Duration {
	return f()
}

type deadline struct {
	at  time.Time
	now func() time.Time
}

// Until returns a budget that runs out at t.
func Until(t time.Time) Budget {
	return &deadline{at: t, now: time.Now}
}

// For returns a budget of d starting now.
func For(d time.Duration) Budget {
	return Until(time.Now().Add(d))
}

// FromContext uses the context deadline when there is one, otherwise a
// budget of fallback starting now.
func FromContext(ctx context.Context, fallback time.Duration) Budget {
	if d, ok := ctx.Deadline(); ok {
		return Until(d)
	}
	return For(fallback)
}

func (d *deadline) Remaining() time.Duration {
	left := d.at.Sub(d.now())
	if left < 0 {
		return 0
	}
	return left
}

// Unlimited never runs out.
var Unlimited Budget = Func(func() time.Duration { return time.Duration(1<<63 - 1) })
