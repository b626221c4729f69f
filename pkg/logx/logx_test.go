package logx

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingSender struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingSender) SendAlert(_ context.Context, text string) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, text)
	r.mu.Unlock()
	return nil
}

func (r *recordingSender) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("nothing happens", String("k", "v"))
	l.With(Int("n", 1)).Error("still nothing")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want Level
		ok   bool
	}{
		{in: "", want: LevelInfo, ok: true},
		{in: "debug", want: LevelDebug, ok: true},
		{in: "WARNING", want: LevelWarn, ok: true},
		{in: "error", want: LevelError, ok: true},
		{in: "loud", ok: false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		if ok != tt.ok {
			t.Fatalf("ParseLevel(%q) ok = %v, want %v", tt.in, ok, tt.ok)
		}
		if ok && got != tt.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFormatAlertSortsFields(t *testing.T) {
	t.Parallel()
	line := []byte(`{"level":"error","time":"x","message":"delivery failed","sub":"7","kind":"auth"}`)
	got := formatAlert(line)
	want := "[ERROR] delivery failed\n- kind=auth\n- sub=7"
	if got != want {
		t.Fatalf("formatAlert = %q, want %q", got, want)
	}
}

func TestAlertSinkForwardsOnlyAboveMinLevel(t *testing.T) {
	t.Parallel()
	rec := &recordingSender{}
	svc, log := New(Config{
		Level:  "debug",
		Alerts: AlertConfig{Enabled: true, MinLevel: "error", RatePerSec: 50},
	}, rec)
	t.Cleanup(func() { _ = svc.Close() })

	log.Warn("just a warning")
	log.Error("transport down", String("kind", "network"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(rec.snapshot()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	msgs := rec.snapshot()
	if len(msgs) != 1 {
		t.Fatalf("alerts = %d, want 1 (%v)", len(msgs), msgs)
	}
	if !strings.Contains(msgs[0], "transport down") || !strings.Contains(msgs[0], "kind=network") {
		t.Fatalf("unexpected alert text: %q", msgs[0])
	}
}
