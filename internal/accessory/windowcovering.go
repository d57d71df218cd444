package accessory

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/nerrad567/knxbridge/internal/busclient"
	"github.com/nerrad567/knxbridge/internal/infrastructure/config"
	"github.com/nerrad567/knxbridge/internal/knx"
)

// PositionState is the derived movement of a window covering.
type PositionState string

const (
	PositionIncreasing PositionState = "increasing"
	PositionDecreasing PositionState = "decreasing"
	PositionStopped    PositionState = "stopped"
)

// WindowCovering drives a blind or shutter through a target position address
// and follows its status address, both DPT 5.001.
//
// Positions are held internally as 0..100 "percent closed", the way most
// actuators report them, and presented as "percent open" unless Reverse is
// set. Movement is inferred from the gap between target and current position.
type WindowCovering struct {
	*base
	cfg config.WindowCoveringConfig

	// setMu serialises Set so a retarget sequence is not interleaved.
	setMu sync.Mutex

	current int
	target  int
	state   PositionState
}

// NewWindowCovering creates a covering and subscribes it to its target and
// status addresses.
func NewWindowCovering(cfg config.WindowCoveringConfig, deps Deps) (*WindowCovering, error) {
	cfg = cfg.WithDefaults()
	w := &WindowCovering{
		base:  newBase(cfg.ID, cfg.Name, KindWindowCovering, cfg.TargetAddress, knx.DPTPercent, deps),
		cfg:   cfg,
		state: PositionStopped,
	}
	w.self = w
	if err := w.subscribe(w, cfg.TargetAddress, cfg.StatusAddress); err != nil {
		return nil, err
	}
	return w, nil
}

// fromDevice maps a device value in [MinValue, MaxValue] to 0..100.
func (w *WindowCovering) fromDevice(v float64) int {
	v = clamp(v, w.cfg.MinValue, w.cfg.MaxValue)
	span := w.cfg.MaxValue - w.cfg.MinValue
	return int(math.Round((v - w.cfg.MinValue) / span * 100))
}

// toDevice maps 0..100 back into the device range.
func (w *WindowCovering) toDevice(p int) float64 {
	span := w.cfg.MaxValue - w.cfg.MinValue
	return w.cfg.MinValue + math.Round(float64(p)/100*span)
}

// present converts between the internal and presented orientation. The
// mapping is its own inverse.
func (w *WindowCovering) present(p int) int {
	if w.cfg.Reverse {
		return p
	}
	return 100 - p
}

func (w *WindowCovering) refreshLocked() {
	epsilon := math.Floor((w.cfg.MaxValue - w.cfg.MinValue) / 100)
	gap := math.Abs(float64(w.target - w.current))
	switch {
	case gap <= epsilon:
		w.state = PositionStopped
	case w.target < w.current:
		w.state = PositionIncreasing
	default:
		w.state = PositionDecreasing
	}
}

// BusUpdate implements busclient.Subscriber.
func (w *WindowCovering) BusUpdate(u busclient.Update) {
	v, ok := w.decodeFloat(u, knx.DPTPercent)
	if !ok {
		return
	}
	pos := w.fromDevice(v)

	w.mu.Lock()
	switch u.Address {
	case w.cfg.StatusAddress:
		w.current = pos
		if w.state == PositionStopped {
			// Moved by something other than us.
			w.target = pos
		}
		w.refreshLocked()
	case w.cfg.TargetAddress:
		if pos == w.target {
			w.mu.Unlock()
			return
		}
		w.target = pos
		w.refreshLocked()
	default:
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	w.logDebug("position update", "address", u.Address, "position", pos)
	w.publish()
}

// PositionState returns the derived movement.
func (w *WindowCovering) PositionState() PositionState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// State implements Accessory.
func (w *WindowCovering) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return State{
		"current_position": w.present(w.current),
		"target_position":  w.present(w.target),
		"position_state":   string(w.state),
	}
}

// Set implements Accessory.
func (w *WindowCovering) Set(ctx context.Context, property string, value any) error {
	switch property {
	case "target_position":
		v, err := floatValue(property, value)
		if err != nil {
			return err
		}
		if v < 0 || v > 100 {
			return fmt.Errorf("%w: target_position %v outside 0..100", ErrInvalidValue, v)
		}
		return w.setTarget(ctx, w.present(int(math.Round(v))))

	case "hold_position":
		if w.cfg.HoldAddress == "" {
			return unknownProperty(w, property)
		}
		hold, err := boolValue(property, value)
		if err != nil {
			return err
		}
		return w.write(ctx, w.cfg.HoldAddress, knx.DPTSwitch, hold)

	case "current_position", "position_state":
		return readOnly(w, property)
	}
	return unknownProperty(w, property)
}

// setTarget moves the covering to target (internal orientation). When the
// covering is already moving it first establishes where it is: by stopping
// it and reading the status if a hold address exists, otherwise by assuming
// the previous target was reached.
func (w *WindowCovering) setTarget(ctx context.Context, target int) error {
	w.setMu.Lock()
	defer w.setMu.Unlock()

	w.mu.Lock()
	if target == w.target {
		w.mu.Unlock()
		return nil
	}
	previous := w.target
	moving := w.state != PositionStopped
	w.mu.Unlock()

	if moving {
		if w.cfg.HoldAddress != "" {
			previous = w.stopAndLocate(ctx)
		} else {
			w.mu.Lock()
			w.current = previous
			w.mu.Unlock()
		}
	}
	return w.changeTarget(ctx, previous, target)
}

// stopAndLocate halts the covering and returns its reported position.
func (w *WindowCovering) stopAndLocate(ctx context.Context) int {
	if err := w.write(ctx, w.cfg.HoldAddress, knx.DPTSwitch, true); err != nil {
		w.logWarn("hold before retarget failed", "address", w.cfg.HoldAddress, "error", err)
	}

	p, err := w.bus.Read(w.cfg.StatusAddress).Wait(ctx)
	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.logWarn("status read after hold failed", "address", w.cfg.StatusAddress, "error", err)
		return w.current
	}
	v, err := p.Float(knx.DPTPercent)
	if err != nil {
		w.logWarn("undecodable status after hold", "payload", p.String(), "error", err)
		return w.current
	}
	w.current = w.fromDevice(v)
	return w.current
}

// changeTarget adopts target optimistically and rolls back to previous if the
// bus write fails.
func (w *WindowCovering) changeTarget(ctx context.Context, previous, target int) error {
	w.mu.Lock()
	w.target = target
	w.refreshLocked()
	w.mu.Unlock()
	w.publish()

	if err := w.write(ctx, w.cfg.TargetAddress, knx.DPTPercent, w.toDevice(target)); err != nil {
		w.mu.Lock()
		w.target = previous
		w.refreshLocked()
		w.mu.Unlock()
		w.publish()
		w.logError("target position write failed", "target", target, "error", err)
		return err
	}
	return nil
}
