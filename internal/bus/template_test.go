package bus

import (
	"testing"

	"go.uber.org/zap"

	"github.com/nidhogg/nuka-dispatch/internal/worker"
)

func TestTemplateStream(t *testing.T) {
	mb := New(nil, zap.NewNop())
	factory := mb.Template()

	tests := []struct {
		name string
		args worker.TemplateArgs
		want string
	}{
		{"defaults to name", worker.TemplateArgs{Name: "mailer"}, "mailer"},
		{"config overrides", worker.TemplateArgs{Name: "mailer", Config: map[string]string{"stream": "outbound"}}, "outbound"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec, err := factory(tt.args)
			if err != nil {
				t.Fatalf("factory: %v", err)
			}
			r, ok := exec.(*remoteExecutor)
			if !ok {
				t.Fatalf("executor type = %T", exec)
			}
			if r.stream != tt.want {
				t.Errorf("stream = %q, want %q", r.stream, tt.want)
			}
		})
	}

	if _, err := factory(worker.TemplateArgs{}); err == nil {
		t.Error("expected error without name or stream")
	}
}

func TestWorkerStream(t *testing.T) {
	if got := WorkerStream("scout"); got != "nuka:dispatch:worker:scout" {
		t.Errorf("WorkerStream = %q", got)
	}
}
