package health

import (
	"context"
	"sync"
	"time"
)

// Kind names how a Checker probes a node
type Kind string

const (
	KindTCP        Kind = "tcp"
	KindActiveTest Kind = "active-test"
)

// Result is the outcome of one probe
type Result struct {
	OK     bool
	Detail string
	At     time.Time
	Took   time.Duration
}

func finish(start time.Time, ok bool, detail string) Result {
	return Result{OK: ok, Detail: detail, At: start, Took: time.Since(start)}
}

// Checker probes one tracker or storage node
type Checker interface {
	Check(ctx context.Context) Result
	Kind() Kind
}

// Policy bounds a probe and decides when failures make a node unhealthy
type Policy struct {
	// Timeout bounds each probe
	Timeout time.Duration

	// FailAfter consecutive failures mark the node unhealthy
	FailAfter int

	// Grace ignores failures for this long after a Verdict is created
	Grace time.Duration
}

func DefaultPolicy() Policy {
	return Policy{Timeout: 5 * time.Second, FailAfter: 3}
}

// Verdict folds successive results for one node
type Verdict struct {
	Healthy  bool
	Failures int
	Last     Result
	since    time.Time
}

// NewVerdict starts healthy
func NewVerdict() *Verdict {
	return &Verdict{Healthy: true, since: time.Now()}
}

// Observe records res. Failures inside the grace period are kept as Last
// but not counted.
func (v *Verdict) Observe(res Result, p Policy) {
	v.Last = res
	if res.OK {
		v.Failures = 0
		v.Healthy = true
		return
	}
	if p.Grace > 0 && time.Since(v.since) < p.Grace {
		return
	}
	v.Failures++
	if v.Failures >= max(p.FailAfter, 1) {
		v.Healthy = false
	}
}

// Run probes once under p.Timeout and folds the result into v
func Run(ctx context.Context, c Checker, v *Verdict, p Policy) Result {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	res := c.Check(ctx)
	v.Observe(res, p)
	return res
}

// Target is a named node to sweep
type Target struct {
	Name    string
	Checker Checker
}

// Outcome pairs a Target with its probe result
type Outcome struct {
	Target
	Result
}

// Sweep probes every target concurrently and returns the outcomes in target
// order
func Sweep(ctx context.Context, targets []Target, p Policy) []Outcome {
	out := make([]Outcome, len(targets))
	var wg sync.WaitGroup
	for i, t := range targets {
		i, t := i, t
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i] = Outcome{Target: t, Result: Run(ctx, t.Checker, NewVerdict(), p)}
		}()
	}
	wg.Wait()
	return out
}
