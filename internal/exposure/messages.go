package exposure

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/knxbridge/internal/accessory"
	"github.com/nerrad567/knxbridge/internal/busclient"
)

// SetMessage asks the bridge to change one accessory property.
// Topic: {prefix}/accessory/{id}/set
type SetMessage struct {
	// ID correlates the acknowledgement. Generated when absent.
	ID string `json:"id,omitempty"`

	Property string `json:"property"`
	Value    any    `json:"value"`

	// Source indicates where the command originated ("homekit", "automation", ...).
	Source string `json:"source,omitempty"`
}

// AckStatus represents the outcome of a set command.
type AckStatus string

const (
	// AckAccepted indicates the bus write was handed to the gateway.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the bus did not complete in time.
	AckTimeout AckStatus = "timeout"
)

// AckMessage acknowledges a set command.
// Topic: {prefix}/ack/{id}
type AckMessage struct {
	CommandID   string    `json:"command_id"`
	Timestamp   time.Time `json:"timestamp"`
	AccessoryID string    `json:"accessory_id"`
	Property    string    `json:"property,omitempty"`
	Status      AckStatus `json:"status"`

	// Address is the accessory's primary group address (e.g., "1/2/3").
	Address string `json:"address,omitempty"`

	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage carries an accessory's full state.
// Topic: {prefix}/accessory/{id}/state
// QoS: configured, Retained: Yes
type StateMessage struct {
	AccessoryID string          `json:"accessory_id"`
	Name        string          `json:"name"`
	Kind        accessory.Kind  `json:"kind"`
	Timestamp   time.Time       `json:"timestamp"`
	State       accessory.State `json:"state"`
	Address     string          `json:"address"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge's operational status.
// Topic: {prefix}/health
// QoS: configured, Retained: Yes
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	Gateway *GatewayStatus `json:"gateway,omitempty"`

	AccessoriesManaged int `json:"accessories_managed"`

	// Reason explains the status (especially for degraded).
	Reason string `json:"reason,omitempty"`
}

// GatewayStatus describes the knxd connection and bus client counters.
type GatewayStatus struct {
	Address string `json:"address"`
	busclient.Stats
}

// NewAckMessage creates a successful acknowledgement.
func NewAckMessage(cmd SetMessage, a accessory.Accessory) AckMessage {
	return AckMessage{
		CommandID:   cmd.ID,
		Timestamp:   time.Now().UTC(),
		AccessoryID: a.ID(),
		Property:    cmd.Property,
		Status:      AckAccepted,
		Address:     a.Address(),
	}
}

// NewAckError creates an acknowledgement with error details.
func NewAckError(cmd SetMessage, accessoryID, address, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	return AckMessage{
		CommandID:   cmd.ID,
		Timestamp:   time.Now().UTC(),
		AccessoryID: accessoryID,
		Property:    cmd.Property,
		Status:      status,
		Address:     address,
		Error: &AckError{
			Code:    code,
			Message: message,
		},
	}
}

// NewStateMessage creates a state message for an accessory.
func NewStateMessage(a accessory.Accessory, s accessory.State) StateMessage {
	return StateMessage{
		AccessoryID: a.ID(),
		Name:        a.Name(),
		Kind:        a.Kind(),
		Timestamp:   time.Now().UTC(),
		State:       s,
		Address:     a.Address(),
	}
}

// ErrorCode classifies err into one of the ErrCode constants.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, accessory.ErrUnknownAccessory):
		return ErrCodeNotConfigured
	case errors.Is(err, accessory.ErrUnknownProperty),
		errors.Is(err, accessory.ErrReadOnly),
		errors.Is(err, accessory.ErrNotSupported),
		errors.Is(err, ErrMalformedCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, accessory.ErrInvalidValue),
		errors.Is(err, busclient.ErrInvalidValue),
		errors.Is(err, busclient.ErrInvalidAddress):
		return ErrCodeInvalidParameters
	case errors.Is(err, busclient.ErrReadTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, busclient.ErrEphemeralOpen),
		errors.Is(err, busclient.ErrConnect),
		errors.Is(err, busclient.ErrClosed):
		return ErrCodeDeviceUnreachable
	case errors.Is(err, busclient.ErrRequestChannel),
		errors.Is(err, busclient.ErrSend):
		return ErrCodeProtocolError
	}
	return ErrCodeBridgeError
}
