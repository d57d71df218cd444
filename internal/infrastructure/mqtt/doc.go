// Package mqtt is the bridge's broker session on top of paho.mqtt.golang.
//
// Accessory states go out retained on {prefix}/accessory/{id}/state and
// commands come in on {prefix}/accessory/{id}/set; Topics builds every name.
// The bridge announces itself on {prefix}/status, and the broker flips that
// to offline through the will if the process dies.
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllAccessorySets(), 1, handleSet)
package mqtt
