package knx

import "errors"

// Domain errors for the knx package.
var (
	// ErrConnectionFailed is returned when a socket to knxd cannot be opened.
	ErrConnectionFailed = errors.New("knx: connection to knxd failed")

	// ErrHandshakeFailed is returned when knxd rejects or does not confirm
	// an EIB_OPEN_* request.
	ErrHandshakeFailed = errors.New("knx: knxd handshake failed")

	// ErrClosed is returned when an operation is attempted on a closed Conn.
	ErrClosed = errors.New("knx: connection closed")

	// ErrMonitorOpen is returned when OpenGroupMonitor is called twice.
	ErrMonitorOpen = errors.New("knx: group monitor already open")

	// ErrInvalidGroupAddress is returned when a group address string
	// cannot be parsed.
	ErrInvalidGroupAddress = errors.New("knx: invalid group address")

	// ErrInvalidDPT is returned when a datapoint type identifier is invalid
	// or not supported.
	ErrInvalidDPT = errors.New("knx: invalid datapoint type")

	// ErrEncodingFailed is returned when encoding a value to KNX format fails.
	ErrEncodingFailed = errors.New("knx: encoding failed")

	// ErrDecodingFailed is returned when decoding KNX data to a value fails.
	ErrDecodingFailed = errors.New("knx: decoding failed")

	// ErrInvalidTelegram is returned when a received message is malformed.
	ErrInvalidTelegram = errors.New("knx: invalid telegram")

	// ErrProtocolDesync is returned when the stream framing can no longer
	// be trusted. The connection must be closed.
	ErrProtocolDesync = errors.New("knx: protocol desync")
)
