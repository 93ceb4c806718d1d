// Package mqtt provides MQTT client connectivity for Hydro Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Retained publishing of state documents
//   - Topic subscriptions with wildcard validation
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// The broker is the shared state channel between Hydro Core, the dashboards
// and the relay microcontroller on each floor. Every floor slice (mode,
// relay status, schedule) is one retained JSON document, so any client that
// subscribes immediately receives the current value.
//
//	Hydro Core ↔ MQTT Broker ↔ Relay controllers
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
//	err = client.Subscribe(topics.AllStateDocuments(2), 1,
//	    func(topic string, payload []byte) error {
//	        root, _ := topics.DocumentRoot(topic)
//	        fmt.Println(root, string(payload))
//	        return nil
//	    })
package mqtt
