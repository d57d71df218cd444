package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePoint queues one point. A zero timestamp means now. Points written
// while disconnected are dropped.
//
// Example:
//
//	client.WritePoint("bus_traffic",
//	    map[string]string{"destination": "1/0/1", "kind": "write"},
//	    map[string]any{"payload": "01", "value": 1.0},
//	    time.Time{})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}
