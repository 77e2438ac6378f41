package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/coppervoice/skinnyd/internal/infrastructure/config"
)

// Sentinel errors for telemetry operations.
var (
	ErrConnectionFailed = errors.New("telemetry: connection failed")
	ErrNotConnected     = errors.New("telemetry: client not connected")
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second

	defaultBatchSize = 100

	// millisecondsPerSecond converts seconds to milliseconds for the InfluxDB API.
	millisecondsPerSecond = 1000
)

// Writer records operational counters to InfluxDB.
//
// A nil *Writer is valid: every method becomes a no-op. Callers hold a
// Writer unconditionally and only connect one when telemetry is enabled,
// so the call sites stay free of enabled checks.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Writes are non-blocking and batched by the underlying client.
type Writer struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	cfg      config.TelemetryConfig

	connected bool
	mu        sync.RWMutex

	// onError is called when async write errors occur.
	onError func(err error)
}

// Connect establishes a connection to the InfluxDB server.
//
// Returns (nil, nil) when telemetry is disabled; the nil Writer is
// usable as a no-op sink.
func Connect(cfg config.TelemetryConfig) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 10
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(defaultBatchSize)).
			SetFlushInterval(uint(flushInterval)*millisecondsPerSecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	w := &Writer{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		cfg:       cfg,
		connected: true,
	}

	go w.handleWriteErrors(w.writeAPI.Errors())

	return w, nil
}

// handleWriteErrors processes async write errors from the WriteAPI.
func (w *Writer) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		w.mu.RLock()
		callback := w.onError
		w.mu.RUnlock()

		if callback != nil {
			callback(err)
		}
	}
}

// SetOnError sets a callback invoked when async write errors occur.
// Safe to call on a nil Writer.
func (w *Writer) SetOnError(callback func(err error)) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.onError = callback
	w.mu.Unlock()
}

// ready reports whether points can be queued.
func (w *Writer) ready() bool {
	if w == nil {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// Registration records a device completing registration.
func (w *Writer) Registration(deviceID, model string) {
	if !w.ready() {
		return
	}
	w.writeAPI.WritePoint(write.NewPoint(
		"registrations",
		map[string]string{"device": deviceID, "model": model},
		map[string]interface{}{"count": 1},
		time.Now(),
	))
}

// SessionClosed records a session ending, tagged with the reason:
// "unregister", "keepalive_timeout", "transport_error", "reset".
func (w *Writer) SessionClosed(deviceID, reason string) {
	if !w.ready() {
		return
	}
	w.writeAPI.WritePoint(write.NewPoint(
		"session_closures",
		map[string]string{"device": deviceID, "reason": reason},
		map[string]interface{}{"count": 1},
		time.Now(),
	))
}

// CallPlaced records an outbound call attempt from a line.
func (w *Writer) CallPlaced(line string) {
	w.callEvent(line, "placed")
}

// CallReceived records an inbound call offered to a line.
func (w *Writer) CallReceived(line string) {
	w.callEvent(line, "received")
}

// CallFailed records a call that could not be set up (no route,
// congestion, media failure).
func (w *Writer) CallFailed(line string) {
	w.callEvent(line, "failed")
}

func (w *Writer) callEvent(line, event string) {
	if !w.ready() {
		return
	}
	w.writeAPI.WritePoint(write.NewPoint(
		"calls",
		map[string]string{"line": line, "event": event},
		map[string]interface{}{"count": 1},
		time.Now(),
	))
}

// CallDuration records the connected time of a completed call.
func (w *Writer) CallDuration(line string, d time.Duration) {
	if !w.ready() {
		return
	}
	w.writeAPI.WritePoint(write.NewPoint(
		"call_durations",
		map[string]string{"line": line},
		map[string]interface{}{"seconds": d.Seconds()},
		time.Now(),
	))
}

// Reload records a configuration reload, with device counts before and
// after the prune.
func (w *Writer) Reload(devicesBefore, devicesAfter int) {
	if !w.ready() {
		return
	}
	w.writeAPI.WritePoint(write.NewPoint(
		"reloads",
		nil,
		map[string]interface{}{
			"devices_before": devicesBefore,
			"devices_after":  devicesAfter,
		},
		time.Now(),
	))
}

// HealthCheck verifies the InfluxDB connection is alive and functioning.
// Safe to call on a nil Writer.
func (w *Writer) HealthCheck(ctx context.Context) error {
	if w == nil {
		return nil
	}
	if !w.ready() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := w.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("telemetry health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("telemetry health check failed: server not healthy")
	}
	return nil
}

// Flush forces all pending writes to be sent.
// Safe to call on a nil Writer and after Close.
func (w *Writer) Flush() {
	if !w.ready() {
		return
	}
	w.writeAPI.Flush()
}

// Close flushes pending writes and shuts the client down.
// Safe to call on a nil Writer.
func (w *Writer) Close() error {
	if w == nil || w.client == nil {
		return nil
	}

	w.mu.Lock()
	w.connected = false
	w.mu.Unlock()

	w.writeAPI.Flush()
	w.client.Close()

	return nil
}
