package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskDispatcherCollectsOutcomes(t *testing.T) {
	d := NewTaskDispatcher(2)
	var ran atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())

	d.Go(ctx, "ok", func(ctx context.Context) error {
		ran.Add(1)
		return nil
	})
	d.Go(ctx, "fails", func(ctx context.Context) error {
		ran.Add(1)
		return errors.New("unavailable")
	})
	d.Go(ctx, "panics", func(ctx context.Context) error {
		ran.Add(1)
		panic("boom")
	})
	cancel()
	d.Go(ctx, "after cancel", func(ctx context.Context) error {
		ran.Add(1)
		return ctx.Err()
	})

	outcomes := d.Wait()
	assert.Len(t, outcomes, 4)
	assert.Equal(t, int32(4), ran.Load())
	assert.Equal(t, 2, Failed(outcomes))

	assert.Empty(t, d.Wait())
}
