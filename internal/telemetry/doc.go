// Package telemetry writes bus traffic and accessory state to a time-series
// store.
//
// Every write and response seen on the monitor becomes a bus_traffic point
// tagged with kind, destination, source and guessed DPT. Every accessory state
// change becomes an accessory_state point with one field per numeric or
// boolean property.
package telemetry
