package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/yeremiapane/roster-sync/utils"
	"golang.org/x/sync/errgroup"
)

// TaskOutcome is the result of one best-effort task.
type TaskOutcome struct {
	Name string
	Err  error
}

// TaskDispatcher runs side effects whose failure must not affect the caller.
// Tasks never propagate errors or panics; outcomes are collected by Wait.
type TaskDispatcher struct {
	group    errgroup.Group
	mutex    sync.Mutex
	outcomes []TaskOutcome
}

// NewTaskDispatcher allows at most limit tasks in flight.
func NewTaskDispatcher(limit int) *TaskDispatcher {
	d := &TaskDispatcher{}
	if limit > 0 {
		d.group.SetLimit(limit)
	}
	return d
}

// Go dispatches fn. The task gets a context that is not cancelled with ctx.
func (d *TaskDispatcher) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	taskCtx := context.WithoutCancel(ctx)
	d.group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
			if err != nil {
				utils.ErrorLogger.WithError(err).WithField("task", name).Error("best-effort task failed")
			}
			d.mutex.Lock()
			d.outcomes = append(d.outcomes, TaskOutcome{Name: name, Err: err})
			d.mutex.Unlock()
			err = nil
		}()
		return fn(taskCtx)
	})
}

// Wait blocks until every dispatched task finished and returns their outcomes.
func (d *TaskDispatcher) Wait() []TaskOutcome {
	_ = d.group.Wait()
	d.mutex.Lock()
	defer d.mutex.Unlock()
	out := d.outcomes
	d.outcomes = nil
	return out
}

// Failed counts outcomes with an error.
func Failed(outcomes []TaskOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}
