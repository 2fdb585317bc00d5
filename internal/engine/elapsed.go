package engine

import (
	"context"
	"sync"
	"time"

	"routinely/internal/domain"
)

// Elapsed is the running time shown for an execution at now. It freezes at
// the pause instant while Paused and equals the stored total once Finished.
func Elapsed(exec domain.Execution, now time.Time) time.Duration {
	var d time.Duration
	switch exec.State() {
	case domain.StateRunning:
		d = now.Sub(exec.StartedAt)
	case domain.StatePaused:
		d = exec.PausedAt.Sub(exec.StartedAt)
	case domain.StateFinished:
		if exec.TotalDurationSeconds != nil {
			return time.Duration(*exec.TotalDurationSeconds) * time.Second
		}
		d = exec.FinishedAt.Sub(exec.StartedAt)
	}
	if d < 0 {
		return 0
	}
	return d.Truncate(time.Second)
}

// ExecutionView pairs an execution with its derived state.
type ExecutionView struct {
	domain.Execution
	State          domain.State `json:"state"`
	ElapsedSeconds int64        `json:"elapsed_seconds"`
}

func View(exec domain.Execution, now time.Time) ExecutionView {
	return ExecutionView{
		Execution:      exec,
		State:          exec.State(),
		ElapsedSeconds: int64(Elapsed(exec, now) / time.Second),
	}
}

// ElapsedTicker reports the elapsed time of a Running execution at a fixed
// interval until stopped. The zero value uses a one second interval.
type ElapsedTicker struct {
	Interval time.Duration
	Now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Sync starts the ticker when exec is Running and stops it otherwise. Call it
// after every lifecycle transition.
func (t *ElapsedTicker) Sync(ctx context.Context, exec domain.Execution, fn func(time.Duration)) bool {
	if exec.State() != domain.StateRunning {
		t.Stop()
		return false
	}
	return t.Start(ctx, exec, fn)
}

// Start begins ticking for a Running execution, replacing any previous run.
// It reports false and does nothing for other states.
func (t *ElapsedTicker) Start(ctx context.Context, exec domain.Execution, fn func(time.Duration)) bool {
	if exec.State() != domain.StateRunning {
		return false
	}

	interval := t.Interval
	if interval <= 0 {
		interval = time.Second
	}
	now := t.Now
	if now == nil {
		now = time.Now
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	t.mu.Lock()
	prevCancel, prevDone := t.cancel, t.done
	t.cancel, t.done = cancel, done
	t.mu.Unlock()
	if prevCancel != nil {
		prevCancel()
		<-prevDone
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		fn(Elapsed(exec, now()))
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				fn(Elapsed(exec, now()))
			}
		}
	}()
	return true
}

// Stop halts the ticker and waits for the last callback to return.
func (t *ElapsedTicker) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether a tick loop is active.
func (t *ElapsedTicker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}
