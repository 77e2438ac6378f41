package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/coppervoice/skinnyd/internal/infrastructure/config"
)

func TestDisabledWriterIsNil(t *testing.T) {
	w, err := Connect(config.TelemetryConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Connect disabled: %v", err)
	}
	if w != nil {
		t.Fatal("disabled writer should be nil")
	}
}

func TestNilWriterIsNoOp(t *testing.T) {
	var w *Writer

	// None of these should panic.
	w.Registration("SEP001122334455", "7960")
	w.SessionClosed("SEP001122334455", "keepalive_timeout")
	w.CallPlaced("reception")
	w.CallReceived("reception")
	w.CallFailed("reception")
	w.CallDuration("reception", 30*time.Second)
	w.Reload(3, 2)
	w.SetOnError(func(error) {})
	w.Flush()

	if err := w.HealthCheck(context.Background()); err != nil {
		t.Errorf("nil HealthCheck: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("nil Close: %v", err)
	}
}

func TestConnectUnreachable(t *testing.T) {
	cfg := config.TelemetryConfig{
		Enabled: true,
		URL:     "http://127.0.0.1:19997",
		Token:   "test",
		Org:     "test",
		Bucket:  "skinnyd",
	}

	if _, err := Connect(cfg); err == nil {
		t.Error("Connect() expected error for unreachable server")
	}
}

func TestDisconnectedWriterDropsPoints(t *testing.T) {
	w := &Writer{connected: false}

	// Points must be dropped without touching the nil writeAPI.
	w.Registration("SEP001122334455", "7960")
	w.CallPlaced("reception")
	w.Flush()

	if err := w.HealthCheck(context.Background()); err != ErrNotConnected {
		t.Errorf("HealthCheck = %v, want ErrNotConnected", err)
	}
}
