package serviceclient

import (
	"context"
	"time"
)

// realClock is the default Clock backed by the system timer.
type realClock struct{}

// NewRealClock returns a Clock backed by time.Now and time.Timer.
func NewRealClock() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
