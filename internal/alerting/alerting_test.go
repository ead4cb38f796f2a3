package alerting

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/okanya/scriptbox/internal/config"
	"github.com/okanya/scriptbox/internal/domain"
	"github.com/okanya/scriptbox/internal/notification"
)

type fakeLister struct {
	insts []domain.Instance
}

func (f *fakeLister) List(_ context.Context) ([]domain.Instance, error) {
	return f.insts, nil
}

type fakeProber struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeProber) Check(_ context.Context, _ *domain.Instance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeProber) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type captureSender struct {
	mu   sync.Mutex
	msgs []*notification.Message
}

func (c *captureSender) Type() string { return "capture" }

func (c *captureSender) Send(_ context.Context, msg *notification.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func testWatcher(t *testing.T, insts []domain.Instance, prober *fakeProber) (*Watcher, *captureSender) {
	t.Helper()
	sender := &captureSender{}
	d := notification.NewDispatcher(slog.New(slog.NewTextHandler(io.Discard, nil)))
	d.RegisterSender(sender)

	cfg := &config.AlertingConfig{
		Enabled:             true,
		PollIntervalSeconds: 3600,
		CooldownSeconds:     900,
		MaxConcurrentProbes: 2,
	}
	w := NewWatcher(&fakeLister{insts: insts}, prober, d, cfg, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return w, sender
}

func pgInstance(name string, enabled bool) domain.Instance {
	return domain.Instance{
		Name:    name,
		Kind:    domain.DatabasePostgres,
		Host:    "db.internal",
		Port:    5432,
		Enabled: enabled,
	}
}

func TestWatcher_AlertsOnUnreachable(t *testing.T) {
	prober := &fakeProber{err: errors.New("connection refused")}
	w, sender := testWatcher(t, []domain.Instance{pgInstance("pg-main", true)}, prober)

	w.tick(context.Background())

	if got := sender.count(); got != 1 {
		t.Fatalf("notifications = %d, want 1", got)
	}
	msg := sender.msgs[0]
	if want := "Instance unreachable: pg-main"; msg.Subject != want {
		t.Errorf("subject = %q, want %q", msg.Subject, want)
	}
	if msg.Metadata["previous_status"] != "unknown" {
		t.Errorf("previous_status = %q, want unknown", msg.Metadata["previous_status"])
	}
	if msg.Metadata["status"] != statusUnreachable {
		t.Errorf("status = %q, want %q", msg.Metadata["status"], statusUnreachable)
	}
}

func TestWatcher_RepeatedFailureNotifiesOnce(t *testing.T) {
	prober := &fakeProber{err: errors.New("connection refused")}
	w, sender := testWatcher(t, []domain.Instance{pgInstance("pg-main", true)}, prober)

	w.tick(context.Background())
	w.tick(context.Background())
	w.tick(context.Background())

	if got := sender.count(); got != 1 {
		t.Errorf("notifications = %d, want 1 (steady failure is not a transition)", got)
	}
}

func TestWatcher_FlappingSuppressedByCooldown(t *testing.T) {
	prober := &fakeProber{err: errors.New("connection refused")}
	w, sender := testWatcher(t, []domain.Instance{pgInstance("pg-main", true)}, prober)
	ctx := context.Background()

	w.tick(ctx) // unreachable: alert
	prober.setErr(nil)
	w.tick(ctx) // recovered: logged only
	prober.setErr(errors.New("connection refused"))
	w.tick(ctx) // unreachable again inside the cooldown window

	if got := sender.count(); got != 1 {
		t.Errorf("notifications = %d, want 1 (re-alert inside cooldown)", got)
	}
}

func TestWatcher_RecoveryUpdatesStateWithoutNotifying(t *testing.T) {
	prober := &fakeProber{err: errors.New("connection refused")}
	w, sender := testWatcher(t, []domain.Instance{pgInstance("pg-main", true)}, prober)
	ctx := context.Background()

	w.tick(ctx)
	prober.setErr(nil)
	w.tick(ctx)

	if got := sender.count(); got != 1 {
		t.Errorf("notifications = %d, want 1 (recovery is not announced)", got)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if st := w.state["pg-main"]; st == nil || st.status != statusOK {
		t.Errorf("state = %+v, want status %q", st, statusOK)
	}
}

func TestWatcher_SkipsDisabledInstances(t *testing.T) {
	prober := &fakeProber{}
	w, sender := testWatcher(t, []domain.Instance{
		pgInstance("pg-main", true),
		pgInstance("pg-staging", false),
	}, prober)

	w.tick(context.Background())

	if prober.calls != 1 {
		t.Errorf("probe calls = %d, want 1 (disabled instance skipped)", prober.calls)
	}
	if got := sender.count(); got != 0 {
		t.Errorf("notifications = %d, want 0", got)
	}
}

func TestWatcher_StartStop(t *testing.T) {
	prober := &fakeProber{}
	w, _ := testWatcher(t, nil, prober)

	cancel := w.Start(context.Background())
	cancel()
}

func TestProbeTarget(t *testing.T) {
	cases := []struct {
		name string
		inst domain.Instance
		want string
	}{
		{"host and port", domain.Instance{Host: "db.internal", Port: 5432}, "db.internal:5432"},
		{"host only", domain.Instance{Host: "db.internal"}, "db.internal"},
		{"uri only", domain.Instance{URI: "mongodb://mongo.internal:27017"}, "configured URI"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := probeTarget(&tc.inst); got != tc.want {
				t.Errorf("probeTarget = %q, want %q", got, tc.want)
			}
		})
	}
}
