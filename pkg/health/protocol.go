package health

import (
	"context"
	"fmt"
	"time"
)

// Pinger is implemented by tracker.Client and storage.Client
type Pinger interface {
	ActiveTest(ctx context.Context) error
}

// ActiveTestChecker sends an active test through a client's connection pool.
// It fails for a node that accepts connections but does not answer.
type ActiveTestChecker struct {
	Pinger Pinger
}

func NewActiveTestChecker(p Pinger) *ActiveTestChecker {
	return &ActiveTestChecker{Pinger: p}
}

func (a *ActiveTestChecker) Check(ctx context.Context) Result {
	start := time.Now()
	if err := a.Pinger.ActiveTest(ctx); err != nil {
		return finish(start, false, fmt.Sprintf("active test: %v", err))
	}
	return finish(start, true, "answered")
}

func (a *ActiveTestChecker) Kind() Kind { return KindActiveTest }
