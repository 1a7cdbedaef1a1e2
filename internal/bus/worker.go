package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nidhogg/nuka-dispatch/internal/models"
	"github.com/nidhogg/nuka-dispatch/internal/worker"
	"go.uber.org/zap"
)

const dispatcherID = "nuka-dispatch"

// remoteExecutor runs a worker that lives in another process and listens
// on its bus stream.
type remoteExecutor struct {
	bus    *MessageBus
	stream string
}

// Execute implements worker.Executor.
func (r *remoteExecutor) Execute(ctx context.Context, in models.Input) (*models.Result, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal input: %w", err)
	}
	reply, err := r.bus.Request(ctx, dispatcherID, r.stream, string(payload))
	if err != nil {
		return nil, err
	}
	var res models.Result
	if err := json.Unmarshal([]byte(reply.Payload), &res); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	return &res, nil
}

// Template returns a worker factory for the "remote" kind. The worker's
// stream name comes from config.stream and defaults to its name.
func (mb *MessageBus) Template() worker.Factory {
	return func(args worker.TemplateArgs) (worker.Executor, error) {
		stream := args.Config["stream"]
		if stream == "" {
			stream = args.Name
		}
		if stream == "" {
			return nil, fmt.Errorf("remote worker requires a name or config.stream")
		}
		return &remoteExecutor{bus: mb, stream: stream}, nil
	}
}

// Serve consumes task messages addressed to name, runs them through exec
// and publishes the results. It returns when ctx is cancelled.
func (mb *MessageBus) Serve(ctx context.Context, name string, exec worker.Executor) {
	for msg := range mb.Subscribe(ctx, WorkerStream(name), false) {
		if msg.Type != TypeTask || msg.ReplyTo == "" {
			continue
		}
		go mb.handle(ctx, name, exec, msg)
	}
}

func (mb *MessageBus) handle(ctx context.Context, name string, exec worker.Executor, msg *Message) {
	var res *models.Result
	var in models.Input
	if err := json.Unmarshal([]byte(msg.Payload), &in); err != nil {
		res = models.Failure(fmt.Sprintf("decode input: %v", err))
	} else if out, err := exec.Execute(ctx, in); err != nil {
		res = models.Failure(err.Error())
	} else if out == nil {
		res = models.Failure("worker returned no result")
	} else {
		res = out
	}

	data, err := json.Marshal(res)
	if err != nil {
		data, _ = json.Marshal(models.Failure(fmt.Sprintf("encode result: %v", err)))
	}
	err = mb.Publish(ctx, msg.ReplyTo, &Message{
		From:          name,
		To:            msg.From,
		Type:          TypeResult,
		CorrelationID: msg.CorrelationID,
		Payload:       string(data),
	})
	if err != nil {
		mb.logger.Warn("publish result failed",
			zap.String("worker", name),
			zap.String("correlation", msg.CorrelationID),
			zap.Error(err))
	}
}
