// Package knx implements the subset of the knxd client protocol used by the
// bridge.
//
// A knxd daemon exposes the KNX bus over a stream socket (TCP, default port
// 6720, or a Unix socket). Every message on that socket is framed as:
//
//	size(2) | type(2) | payload
//
// where size counts the type and payload but not itself.
//
// Two connection modes are used:
//
//   - Group monitor (EIB_OPEN_GROUPCON): a long-lived socket that receives
//     every group telegram seen on the bus, including our own.
//   - Request channel (EIB_OPEN_T_GROUP): a short-lived socket bound to one
//     destination group address, used to send a single read or write APDU.
//
// # Group Addresses
//
// Group addresses use the 3-level format Main/Middle/Sub (e.g. "2/1/5") and
// are packed into 16 bits as main<<11 | middle<<8 | sub.
//
// # Datapoint Types
//
// Values are encoded and decoded per DPT:
//
//   - DPT 1.xxx: 1-bit (switch, bool, up/down)
//   - DPT 3.xxx: 4-bit dimming/blind control
//   - DPT 5.xxx: 1-byte unsigned (percentage, angle, raw)
//   - DPT 9.xxx: 2-byte float (temperature, lux, humidity, ppm)
//   - DPT 17/18: scene number and scene control
//   - DPT 232.600: 3-byte RGB colour
//
// Received payloads carry no type information. GuessValue decodes them by
// length the way eibd's parser does; callers that know the expected DPT use
// Payload.Decode instead.
//
// # References
//
//   - knxd daemon: https://github.com/knxd/knxd
package knx
