// The coordinator home telemetry and rule system
//
// Features
//
// - Event-driven: sensors, occupancy and weather feeds arrive over mqtt
//
// - Declarative rules plus built-in energy management (load shedding,
// peak deferral, anomaly detection)
//
// - Deferred actions with a cancellable schedule
//
// - Alarm arm/disarm with entry point monitoring
//
// - Durable recording of readings, actions and alerts
//
// - Remotely controllable over http
//
// Run everything with:
//
//	COORD_MQTT=tcp://127.0.0.1:1883 coordinator run
package coordinator
