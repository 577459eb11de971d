// Package mqtt provides MQTT client connectivity for devio.
//
// devio publishes device inventory, per-device counters, registration
// events and finished requests to an MQTT broker so that monitoring tools can
// follow the device subsystem without polling the HTTP API. It also listens on
// {prefix}/command/+ for a small set of inbound commands.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Last Will and Testament (LWT) for offline detection
//
// # Security Considerations
//
//   - Use TLS (cfg.Broker.TLS=true) when the broker is not on localhost
//   - Credentials should come from DEVIO_MQTT_USERNAME / DEVIO_MQTT_PASSWORD
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.PublishJSON(topics.DeviceStats(4, 0), stats, true)
//
//	err = client.Subscribe(topics.AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        return handleCommand(topic, payload)
//	    })
package mqtt
