// Package exposure publishes accessory state over MQTT and turns MQTT set
// commands into accessory property changes.
//
// Topics (prefix defaults to "knxbridge"):
//
//	{prefix}/accessory/{id}/state   retained StateMessage
//	{prefix}/accessory/{id}/set     SetMessage {"id","property","value"}
//	{prefix}/ack/{id}               AckMessage for every set command
//	{prefix}/health                 retained HealthMessage, periodic
//	{prefix}/status                 online/offline, also the LWT
package exposure
