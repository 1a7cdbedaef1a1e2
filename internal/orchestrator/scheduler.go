package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nidhogg/nuka-dispatch/internal/models"
	"github.com/nidhogg/nuka-dispatch/internal/worker"
	"go.uber.org/zap"
)

// invoke runs w's execution contract inside a pool slot and the configured
// deadline. A nil result, a panic, a returned error and Success=false all
// come back as a non-nil error; the result is returned whenever there is one.
func (o *Orchestrator) invoke(ctx context.Context, w *worker.Worker, in models.Input) (res *models.Result, err error) {
	if w.Executor == nil {
		return nil, fmt.Errorf("worker %s has no executor", w.ID)
	}

	select {
	case o.pool <- struct{}{}: // acquire slot
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-o.pool }() // release slot

	if o.cfg.ExecuteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.ExecuteTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("worker panicked",
				zap.String("worker", w.ID),
				zap.Any("panic", r))
			res, err = nil, fmt.Errorf("worker %s panicked: %v", w.ID, r)
		}
	}()

	o.logger.Debug("invoking worker",
		zap.String("worker", w.ID),
		zap.String("name", w.Name))

	res, err = w.Executor.Execute(ctx, in)
	if err != nil {
		return res, err
	}
	if res == nil {
		return nil, errors.New("worker returned no result")
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "worker reported failure"
		}
		return res, errors.New(msg)
	}
	return res, nil
}

// contribute invokes a worker outside the task path and records the outcome
// against it. Failures are captured in the returned contribution.
func (o *Orchestrator) contribute(ctx context.Context, w *worker.Worker, role models.Role, in models.Input) models.Contribution {
	start := time.Now()
	res, err := o.invoke(ctx, w, in)
	dur := time.Since(start)
	if err != nil {
		res = failureResult(res, err)
	}
	o.dir.RecordOutcome(w.ID, err == nil)
	o.sink.RecordWorkerOutcome(w.ID, w.Name, err == nil, dur)
	return models.Contribution{WorkerID: w.ID, Role: role, Result: res, Duration: dur}
}

func failureResult(res *models.Result, err error) *models.Result {
	out := models.Failure(err.Error())
	if res != nil {
		out.Data = res.Data
		out.Metadata = res.Metadata
	}
	return out
}
