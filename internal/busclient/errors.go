package busclient

import "errors"

var (
	// ErrConnect is returned by Connect when the monitor cannot be attached.
	ErrConnect = errors.New("busclient: connect failed")

	// ErrEphemeralOpen tags a request that failed while opening its own
	// gateway socket.
	ErrEphemeralOpen = errors.New("busclient: open request socket")

	// ErrRequestChannel tags a request that failed while binding the socket
	// to the destination group address.
	ErrRequestChannel = errors.New("busclient: open request channel")

	// ErrSend tags a request that failed while transmitting its APDU.
	ErrSend = errors.New("busclient: send")

	// ErrReadTimeout is returned when no response arrives within ReadTimeout.
	ErrReadTimeout = errors.New("busclient: read timed out")

	// ErrClosed is returned for requests still queued when the client closes.
	ErrClosed = errors.New("busclient: client closed")

	// ErrInvalidAddress is returned for group addresses that do not parse.
	ErrInvalidAddress = errors.New("busclient: invalid group address")

	// ErrInvalidValue is returned when a write value cannot be encoded.
	ErrInvalidValue = errors.New("busclient: invalid value")

	// ErrNilSubscriber is returned by Subscribe for a nil subscriber.
	ErrNilSubscriber = errors.New("busclient: nil subscriber")

	// errAttached and errAttaching are returned by attach when another caller
	// already owns the monitor or is opening it.
	errAttached  = errors.New("busclient: already attached")
	errAttaching = errors.New("busclient: attach in progress")
)
