package busclient

import (
	"context"

	"github.com/nerrad567/knxbridge/internal/knx"
)

// KNXD adapts a knx.Dialer to the Gateway interface.
func KNXD(d *knx.Dialer) Gateway {
	return knxdGateway{d: d}
}

type knxdGateway struct {
	d *knx.Dialer
}

func (g knxdGateway) Open(ctx context.Context) (GatewayConn, error) {
	conn, err := g.d.Open(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

var (
	_ GatewayConn     = (*knx.Conn)(nil)
	_ telegramCounter = (*knx.Conn)(nil)
)
