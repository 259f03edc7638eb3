package handler

import (
	"context"
	"time"
)

// Wait sleeps for params.duration seconds (default 1) and then succeeds.
// It returns early only when ctx is done.
func (b *Builtins) Wait(ctx context.Context, req *Request) (*Result, error) {
	d, err := durationParam(req.Params, "duration", time.Second)
	if err != nil {
		return nil, err
	}

	req.Logf("INFO", "waiting %s", d)
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return NewResult().Set("waited_seconds", d.Seconds()), nil
	}
}
