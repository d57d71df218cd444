package knx

import (
	"encoding/binary"
	"fmt"
	"time"
)

// knxd client protocol message types.
const (
	// EIBClose closes the knxd connection.
	EIBClose uint16 = 0x0006

	// EIBOpenTGroup binds the socket to one destination group address.
	// Payload: dest(2) + write_only(1). knxd echoes the type on success.
	EIBOpenTGroup uint16 = 0x0022

	// EIBAPDUPacket carries one APDU on a T_GROUP socket.
	EIBAPDUPacket uint16 = 0x0025

	// EIBOpenGroupCon opens a group monitor socket.
	// Payload: reserved(1) + write_only(1) + reserved(1).
	EIBOpenGroupCon uint16 = 0x0026

	// EIBGroupPacket carries a group telegram on a GROUPCON socket.
	// Received payload: src(2) + dest(2) + TPCI(1) + APCI|data(1) + data...
	EIBGroupPacket uint16 = 0x0027
)

// APCI codes for group communication (upper two bits of the second APDU byte).
const (
	APCIRead     byte = 0x00
	APCIResponse byte = 0x40
	APCIWrite    byte = 0x80

	apciMask      = 0xC0
	shortDataMask = 0x3F
)

const (
	knxdHeaderSize = 4
	groupPacketMin = 6
)

// Telegram is a group telegram observed on the bus.
type Telegram struct {
	// Source is the sender's individual address, e.g. "1.1.5".
	Source string

	Destination GroupAddress

	// APCI is one of APCIRead, APCIResponse or APCIWrite.
	APCI byte

	// Data is the payload. For short frames it is the single 6-bit value.
	Data Payload

	// Short is true when the value travelled inside the APCI byte.
	Short bool

	Timestamp time.Time
}

// ParseTelegram parses the payload of an EIB_GROUP_PACKET received on a
// group monitor socket.
func ParseTelegram(data []byte) (Telegram, error) {
	if len(data) < groupPacketMin {
		return Telegram{}, fmt.Errorf("%w: too short (%d bytes, need at least %d)",
			ErrInvalidTelegram, len(data), groupPacketMin)
	}

	t := Telegram{
		Source:      FormatIndividualAddress(binary.BigEndian.Uint16(data[0:2])),
		Destination: GroupAddressFromUint16(binary.BigEndian.Uint16(data[2:4])),
		APCI:        data[5] & apciMask,
		Timestamp:   time.Now(),
	}

	switch {
	case len(data) > groupPacketMin:
		t.Data = append(Payload(nil), data[groupPacketMin:]...)
	case t.APCI == APCIWrite || t.APCI == APCIResponse:
		t.Data = Payload{data[5] & shortDataMask}
		t.Short = true
	}

	return t, nil
}

// IsWrite reports whether t is a group write.
func (t Telegram) IsWrite() bool { return t.APCI == APCIWrite }

// IsResponse reports whether t is a group read response.
func (t Telegram) IsResponse() bool { return t.APCI == APCIResponse }

// String returns a human-readable representation of the telegram.
func (t Telegram) String() string {
	return fmt.Sprintf("Telegram{%s -> %s, %s, Data:%s}", t.Source, t.Destination, APCIName(t.APCI), t.Data)
}

// APCIName returns "read", "response", "write" or "unknown".
func APCIName(apci byte) string {
	switch apci {
	case APCIRead:
		return "read"
	case APCIResponse:
		return "response"
	case APCIWrite:
		return "write"
	default:
		return "unknown"
	}
}

// EncodeReadAPDU returns the APDU for a group read request.
func EncodeReadAPDU() []byte {
	return []byte{0x00, APCIRead}
}

// EncodeWriteAPDU returns the APDU for a group write of data.
// Values of short-frame DPTs are packed into the APCI byte.
func EncodeWriteAPDU(dpt DPT, data Payload) []byte {
	return encodeAPDU(APCIWrite, dpt, data)
}

// EncodeResponseAPDU returns the APDU answering a group read.
func EncodeResponseAPDU(dpt DPT, data Payload) []byte {
	return encodeAPDU(APCIResponse, dpt, data)
}

func encodeAPDU(apci byte, dpt DPT, data Payload) []byte {
	if dpt.FitsShortFrame() && len(data) == 1 {
		return []byte{0x00, apci | (data[0] & shortDataMask)}
	}
	apdu := make([]byte, 2+len(data))
	apdu[1] = apci
	copy(apdu[2:], data)
	return apdu
}

// EncodeGroupPacket builds the payload of an EIB_GROUP_PACKET as knxd sends
// it to monitor sockets: src(2) + dest(2) + APDU.
func EncodeGroupPacket(src uint16, dest GroupAddress, apdu []byte) []byte {
	buf := make([]byte, 4+len(apdu))
	binary.BigEndian.PutUint16(buf[0:2], src)
	binary.BigEndian.PutUint16(buf[2:4], dest.ToUint16())
	copy(buf[4:], apdu)
	return buf
}

// EncodeMessage wraps a payload in knxd framing.
//
//	Byte 0-1: size = type(2) + len(payload), excluding the size field itself
//	Byte 2-3: message type
//	Byte 4+:  payload
func EncodeMessage(msgType uint16, payload []byte) []byte {
	buf := make([]byte, knxdHeaderSize+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(2+len(payload))) //nolint:gosec // bounded by small message sizes
	binary.BigEndian.PutUint16(buf[2:4], msgType)
	copy(buf[4:], payload)
	return buf
}

// ParseMessage splits a complete knxd message into type and payload.
func ParseMessage(data []byte) (msgType uint16, payload []byte, err error) {
	if len(data) < knxdHeaderSize {
		return 0, nil, fmt.Errorf("%w: message too short (%d bytes)", ErrInvalidTelegram, len(data))
	}

	declared := binary.BigEndian.Uint16(data[0:2])
	if int(declared) != len(data)-2 {
		return 0, nil, fmt.Errorf("%w: size mismatch (declared %d, have %d)",
			ErrInvalidTelegram, declared, len(data)-2)
	}

	msgType = binary.BigEndian.Uint16(data[2:4])
	if len(data) > knxdHeaderSize {
		payload = data[knxdHeaderSize:]
	}
	return msgType, payload, nil
}
