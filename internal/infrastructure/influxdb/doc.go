// Package influxdb wraps influxdb-client-go v2 for the bridge's telemetry.
//
// Writes are non-blocking and batched according to influxdb.batch_size and
// influxdb.flush_interval; asynchronous failures are reported through
// SetOnError.
//
//	client, err := influxdb.Connect(cfg.InfluxDB, map[string]string{"bridge": cfg.Bridge.ID})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WritePoint("accessory_state",
//	    map[string]string{"accessory_id": "thermostat-3-0-1"},
//	    map[string]any{"current_temperature": 21.5},
//	    time.Time{})
package influxdb
