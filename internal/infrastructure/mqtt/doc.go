// Package mqtt connects the serial bridge to the MQTT broker.
//
// The broker carries three things for the bridge: reading state published
// per device, manual commands subscribed from graylogic/command/serial/+,
// and the retained bridge health message whose Last Will marks the bridge
// offline if it dies.
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT,
//	    mqtt.WithWill(mqtt.Will{Topic: "graylogic/health/serial", Payload: lwt, QoS: 1}),
//	    mqtt.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// TLS is enabled with cfg.Broker.TLS and requires TLS 1.2 or newer.
// Subscriptions are restored after reconnects with 1s..60s backoff.
package mqtt
