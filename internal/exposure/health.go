package exposure

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/knxbridge/internal/busclient"
)

const defaultHealthInterval = 30 * time.Second

// BusStatus reports the bus client's connection state and counters.
// *busclient.Client satisfies it.
type BusStatus interface {
	IsConnected() bool
	Stats() busclient.Stats
}

// HealthReporter publishes the bridge's health at regular intervals.
type HealthReporter struct {
	bridgeID       string
	version        string
	gatewayAddress string
	topic          string
	qos            byte
	startTime      time.Time
	interval       time.Duration
	publisher      Publisher
	bus            BusStatus

	accessoryCount   int
	accessoryCountMu sync.RWMutex

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger Logger
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	BridgeID string
	Version  string

	// GatewayAddress is reported as-is, e.g. "tcp://localhost:6720".
	GatewayAddress string

	// Topic defaults to knxbridge/health.
	Topic string
	QoS   byte

	// Interval defaults to 30 seconds.
	Interval time.Duration

	Publisher Publisher
	Bus       BusStatus
	Logger    Logger
}

// NewHealthReporter creates a health reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	topic := cfg.Topic
	if topic == "" {
		topic = "knxbridge/health"
	}

	return &HealthReporter{
		bridgeID:       cfg.BridgeID,
		version:        cfg.Version,
		gatewayAddress: cfg.GatewayAddress,
		topic:          topic,
		qos:            cfg.QoS,
		startTime:      time.Now(),
		interval:       interval,
		publisher:      cfg.Publisher,
		bus:            cfg.Bus,
		logger:         cfg.Logger,
		done:           make(chan struct{}),
	}
}

// Start begins periodic health reporting until ctx is cancelled or Stop is
// called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publishStatus(HealthStopping, "")
	})
}

// SetAccessoryCount updates the number of exposed accessories.
func (h *HealthReporter) SetAccessoryCount(count int) {
	h.accessoryCountMu.Lock()
	h.accessoryCount = count
	h.accessoryCountMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.bus == nil || !h.bus.IsConnected() {
		return HealthDegraded, "gateway disconnected"
	}
	return HealthHealthy, ""
}

// Message builds the health message for status.
func (h *HealthReporter) Message(status HealthStatus, reason string) HealthMessage {
	h.accessoryCountMu.RLock()
	count := h.accessoryCount
	h.accessoryCountMu.RUnlock()

	msg := HealthMessage{
		Bridge:             h.bridgeID,
		Timestamp:          time.Now().UTC(),
		Status:             status,
		Version:            h.version,
		UptimeSeconds:      int64(time.Since(h.startTime).Seconds()),
		AccessoriesManaged: count,
		Reason:             reason,
	}
	if h.bus != nil {
		msg.Gateway = &GatewayStatus{
			Address: h.gatewayAddress,
			Stats:   h.bus.Stats(),
		}
	}
	return msg
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	payload, err := json.Marshal(h.Message(status, reason))
	if err != nil {
		return err
	}
	return h.publisher.Publish(h.topic, payload, h.qos, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	if h.logger != nil {
		h.logger.Error(msg, "error", err)
	}
}
