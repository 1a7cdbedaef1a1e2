package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/nidhogg/nuka-dispatch/internal/models"
)

// ErrUnknownTemplate is returned by Instantiate for an unregistered template name.
var ErrUnknownTemplate = errors.New("unknown worker template")

// TemplateArgs are the initialisation arguments for a templated worker.
type TemplateArgs struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Type           string            `json:"type"`
	OrganizationID string            `json:"organization_id"`
	WorkflowID     string            `json:"workflow_id,omitempty"`
	PhaseID        string            `json:"phase_id,omitempty"`
	Capabilities   []string          `json:"capabilities"`
	MaxConcurrent  int               `json:"max_concurrent"`
	Config         map[string]string `json:"config,omitempty"`
}

// Factory builds the execution contract for a templated worker.
type Factory func(args TemplateArgs) (Executor, error)

// RegisterTemplate makes a worker kind available to Instantiate.
func (d *Directory) RegisterTemplate(name string, f Factory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.templates[name] = f
}

// Templates lists the registered template names.
func (d *Directory) Templates() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.templates))
	for n := range d.templates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Instantiate constructs, but does not register, a worker of the named kind.
func (d *Directory) Instantiate(name string, args TemplateArgs) (*Worker, error) {
	d.mu.RLock()
	f, ok := d.templates[name]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}
	exec, err := f(args)
	if err != nil {
		return nil, fmt.Errorf("instantiate %s: %w", name, err)
	}
	typ := args.Type
	if typ == "" {
		typ = name
	}
	return &Worker{
		ID:             args.ID,
		Name:           args.Name,
		Type:           typ,
		OrganizationID: args.OrganizationID,
		WorkflowID:     args.WorkflowID,
		PhaseID:        args.PhaseID,
		Capabilities:   append([]string(nil), args.Capabilities...),
		MaxConcurrent:  args.MaxConcurrent,
		Status:         StatusActive,
		Executor:       exec,
	}, nil
}

func registerBuiltinTemplates(d *Directory) {
	d.templates["echo"] = func(TemplateArgs) (Executor, error) {
		return ExecutorFunc(echo), nil
	}
	d.templates["http"] = newHTTPExecutor
}

// echo succeeds with its input as data.
func echo(_ context.Context, in models.Input) (*models.Result, error) {
	data := make(map[string]any, len(in.Metadata)+4)
	for k, v := range in.Metadata {
		data[k] = v
	}
	data["organization_id"] = in.OrganizationID
	if in.ObjectID != "" {
		data["object_id"] = in.ObjectID
	}
	if in.WorkflowID != "" {
		data["workflow_id"] = in.WorkflowID
	}
	if in.PhaseID != "" {
		data["phase_id"] = in.PhaseID
	}
	return &models.Result{Success: true, Data: data}, nil
}

// httpExecutor posts the input as JSON and decodes a Result from the reply.
type httpExecutor struct {
	endpoint string
	client   *http.Client
}

func newHTTPExecutor(args TemplateArgs) (Executor, error) {
	endpoint := args.Config["endpoint"]
	if endpoint == "" {
		return nil, fmt.Errorf("http worker requires config.endpoint")
	}
	timeout := 60 * time.Second
	if s := args.Config["timeout"]; s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("parse timeout %q: %w", s, err)
		}
		timeout = d
	}
	return &httpExecutor{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

func (h *httpExecutor) Execute(ctx context.Context, in models.Input) (*models.Result, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal input: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", h.endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("worker endpoint returned %d: %s", resp.StatusCode, string(raw))
	}
	var res models.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &res, nil
}
