// Package accessory implements the device adapters that sit on top of the
// bus client: switches, fans, window coverings, thermostats and a family of
// read-only sensors.
//
// Each accessory subscribes to its group addresses on construction, keeps a
// small in-memory state decoded with the DPT it expects, and reports every
// state change to a StateSink. Commands arrive through Set with a property
// name and value, and are translated into bus writes.
//
// State is never persisted; after a restart or reconnect the bus client's
// implicit read on each subscription repopulates it.
//
// Usage:
//
//	reg, err := accessory.NewRegistry(cfg.Accessories, accessory.Deps{
//	    Bus:    client,
//	    Sink:   publisher,
//	    Logger: log,
//	})
//	err = reg.Set(ctx, "hall-light", "on", true)
package accessory
