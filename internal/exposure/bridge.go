package exposure

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/knxbridge/internal/accessory"
	"github.com/nerrad567/knxbridge/internal/infrastructure/mqtt"
)

// defaultCommandTimeout bounds one set command, including any reads a
// window covering issues before retargeting.
const defaultCommandTimeout = 10 * time.Second

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Publisher is the publishing half of the MQTT client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// MQTTClient is the interface for MQTT operations. *mqtt.Client satisfies it.
type MQTTClient interface {
	Publisher
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	SetOnConnect(callback func())
}

// Accessories is the lookup the bridge routes commands through.
// *accessory.Registry satisfies it.
type Accessories interface {
	Get(id string) (accessory.Accessory, bool)
	All() []accessory.Accessory
}

// Options holds configuration for creating a Bridge.
type Options struct {
	BridgeID string
	Version  string

	// GatewayAddress is reported in health messages.
	GatewayAddress string

	Topics mqtt.Topics
	QoS    byte

	HealthInterval time.Duration
	CommandTimeout time.Duration

	MQTT   MQTTClient
	Bus    BusStatus
	Logger Logger
}

// Bridge exposes accessories over MQTT: it publishes every state change as a
// retained message and executes set commands against the accessories.
//
// Bridge implements accessory.StateSink, so it can be created before the
// accessory registry and handed to it; commands are only accepted after Start.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	topics         mqtt.Topics
	qos            byte
	commandTimeout time.Duration
	mqtt           MQTTClient
	health         *HealthReporter
	logger         Logger

	accessories   Accessories
	accessoriesMu sync.RWMutex

	// Last published state per accessory, for change detection.
	stateCache   map[string]accessory.State
	stateCacheMu sync.Mutex

	// Commands run off the MQTT delivery goroutine; Stop cancels ctx and
	// waits for them.
	commands  sync.WaitGroup
	cmdMu     sync.Mutex
	stopped   bool
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc
}

// New creates a bridge. Call Start to begin accepting commands.
func New(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("%w: MQTT client is required", ErrMissingDependency)
	}

	timeout := opts.CommandTimeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		topics:         opts.Topics,
		qos:            opts.QoS,
		commandTimeout: timeout,
		mqtt:           opts.MQTT,
		logger:         opts.Logger,
		stateCache:     make(map[string]accessory.State),
		ctx:            ctx,
		ctxCancel:      cancel,
	}
	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:       opts.BridgeID,
		Version:        opts.Version,
		GatewayAddress: opts.GatewayAddress,
		Topic:          opts.Topics.Health(),
		QoS:            opts.QoS,
		Interval:       opts.HealthInterval,
		Publisher:      opts.MQTT,
		Bus:            opts.Bus,
		Logger:         opts.Logger,
	})
	return b, nil
}

// Start subscribes to set commands, publishes the state of every accessory
// and starts health reporting.
func (b *Bridge) Start(ctx context.Context, accessories Accessories) error {
	b.accessoriesMu.Lock()
	b.accessories = accessories
	b.accessoriesMu.Unlock()

	all := accessories.All()
	b.health.SetAccessoryCount(len(all))
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	topic := b.topics.AllAccessorySets()
	if err := b.mqtt.Subscribe(topic, b.qos, b.handleSet); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", topic)

	// Republish retained state after every broker reconnect.
	b.mqtt.SetOnConnect(b.PublishAll)

	b.PublishAll()
	b.health.Start(ctx)

	b.logInfo("exposure started", "accessories", len(all))
	return nil
}

// Stop aborts in-flight commands, waits for their acks and stops health
// reporting.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.cmdMu.Lock()
		b.stopped = true
		b.cmdMu.Unlock()

		b.ctxCancel()
		b.commands.Wait()
		b.health.Stop()
		b.logInfo("exposure stopped")
	})
}

// StateChanged implements accessory.StateSink. Unchanged states are not
// republished.
func (b *Bridge) StateChanged(a accessory.Accessory, s accessory.State) {
	if b.stateUnchanged(a.ID(), s) {
		return
	}
	b.publishState(a, s)
}

// PublishAll publishes the current state of every accessory, changed or not.
func (b *Bridge) PublishAll() {
	b.accessoriesMu.RLock()
	accessories := b.accessories
	b.accessoriesMu.RUnlock()
	if accessories == nil {
		return
	}

	for _, a := range accessories.All() {
		s := a.State()
		b.stateUnchanged(a.ID(), s)
		b.publishState(a, s)
	}
}

func (b *Bridge) publishState(a accessory.Accessory, s accessory.State) {
	payload, err := json.Marshal(NewStateMessage(a, s))
	if err != nil {
		b.logError("failed to marshal state", err, "accessory", a.ID())
		return
	}
	if err := b.mqtt.Publish(b.topics.AccessoryState(a.ID()), payload, b.qos, true); err != nil {
		b.logWarn("failed to publish state", "accessory", a.ID(), "error", err)
		return
	}
	b.logDebug("state published", "accessory", a.ID(), "state", s)
}

// handleSet validates a set command and hands it to its own goroutine, so a
// command waiting on the bus never holds up delivery of the next one. The
// returned error covers only validation and is logged by the MQTT client;
// the outcome is always reported on the ack topic when the accessory can be
// identified.
func (b *Bridge) handleSet(topic string, payload []byte) error {
	id, ok := b.topics.AccessoryIDFromSetTopic(topic)
	if !ok {
		return fmt.Errorf("%w: unexpected topic %s", ErrMalformedCommand, topic)
	}

	var cmd SetMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		err = fmt.Errorf("%w: %w", ErrMalformedCommand, err)
		b.publishAckError(cmd, id, "", err)
		return err
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.Property == "" {
		err := fmt.Errorf("%w: property is required", ErrMalformedCommand)
		b.publishAckError(cmd, id, "", err)
		return err
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"accessory", id,
		"property", cmd.Property,
		"source", cmd.Source)

	b.accessoriesMu.RLock()
	accessories := b.accessories
	b.accessoriesMu.RUnlock()
	if accessories == nil {
		b.publishAckError(cmd, id, "", ErrNotStarted)
		return ErrNotStarted
	}

	a, ok := accessories.Get(id)
	if !ok {
		err := fmt.Errorf("%w: %s", accessory.ErrUnknownAccessory, id)
		b.publishAckError(cmd, id, "", err)
		return err
	}

	b.cmdMu.Lock()
	if b.stopped {
		b.cmdMu.Unlock()
		b.publishAckError(cmd, id, a.Address(), ErrStopped)
		return ErrStopped
	}
	b.commands.Add(1)
	b.cmdMu.Unlock()

	go b.execute(cmd, a)
	return nil
}

func (b *Bridge) execute(cmd SetMessage, a accessory.Accessory) {
	defer b.commands.Done()

	ctx, cancel := context.WithTimeout(b.ctx, b.commandTimeout)
	defer cancel()

	if err := a.Set(ctx, cmd.Property, cmd.Value); err != nil {
		b.logWarn("command failed", "command_id", cmd.ID, "accessory", a.ID(), "error", err)
		b.publishAckError(cmd, a.ID(), a.Address(), err)
		return
	}
	b.publishAck(NewAckMessage(cmd, a))
}

func (b *Bridge) publishAckError(cmd SetMessage, accessoryID, address string, err error) {
	b.publishAck(NewAckError(cmd, accessoryID, address, ErrorCode(err), err.Error()))
}

func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.Ack(ack.AccessoryID), payload, b.qos, false); err != nil {
		b.logError("failed to publish ack", err, "command_id", ack.CommandID)
	}
}

// stateUnchanged records s and reports whether it equals the previous state.
func (b *Bridge) stateUnchanged(id string, s accessory.State) bool {
	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()

	if statesEqual(b.stateCache[id], s) {
		return true
	}
	cp := make(accessory.State, len(s))
	for k, v := range s {
		cp[k] = v
	}
	b.stateCache[id] = cp
	return false
}

// statesEqual compares two states key by key. Values are scalars produced
// by the accessories (bool, int, float64, string).
func statesEqual(a, b accessory.State) bool {
	if a == nil || len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || av != bv {
			return false
		}
	}
	return true
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
