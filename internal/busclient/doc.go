// Package busclient is the bus communication layer between device adapters
// and a knxd gateway.
//
// A single Client owns:
//
//   - the gateway connection: one long-lived group monitor socket, plus a
//     fresh socket opened per outgoing request;
//   - the request scheduler: a strict FIFO queue with at most one request on
//     the wire at a time;
//   - the event router: write events fan out to subscribers in registration
//     order, read responses resolve the oldest outstanding read for the same
//     group address.
//
// # Operations
//
//	client.Subscribe("1/2/3", adapter)            // write events + one synthetic update per attach
//	v, err := client.Read("1/2/4").Wait(ctx)      // resolved by the next response on 1/2/4
//	err = client.Write("1/2/3", knx.DPTSwitch, true).Err(ctx)
//
// Read and Write return immediately with a Future that resolves exactly once.
//
// # Connection lifecycle
//
//	disconnected ──Connect──► connecting ──monitor open──► attached
//	     ▲                                                    │
//	     └──────────── monitor closed (retry every 100 ms) ◄──┘
//
// A failed initial Connect is reported to the caller and not retried. Once a
// connection has been established, losing it triggers reconnection attempts
// at a fixed interval until Close. Every attach re-reads all subscribed
// addresses before any other queued request is transmitted.
//
// # Correlation
//
// Responses carry no request identifier on the bus, so a response on address
// A completes the oldest pending read of A, whoever triggered the response.
// Each request carries a UUID for log correlation only.
package busclient
