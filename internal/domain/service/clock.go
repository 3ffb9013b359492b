package service

import "time"

// Clock abstracts wall-clock and monotonic time so that orchestrator
// scheduling decisions (interval elapsed? retry due?) are deterministic
// under test. Grounded on the teacher's consistent use of time.Now() at
// call sites (e.g. GenerationJob.CreatedAt = time.Now()); this repo
// threads a single Clock through the application layer instead of calling
// time.Now() directly, since orchestrator ticking is the one place where
// that matters for tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now().
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock is a test Clock that always returns the same instant unless
// advanced.
type FixedClock struct {
	t time.Time
}

func NewFixedClock(t time.Time) *FixedClock { return &FixedClock{t: t} }

func (c *FixedClock) Now() time.Time { return c.t }

func (c *FixedClock) Advance(d time.Duration) { c.t = c.t.Add(d) }
