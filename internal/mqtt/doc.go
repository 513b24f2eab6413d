// Package mqtt publishes reeve's presence and runtime status to an
// MQTT broker as a Home Assistant device: retained discovery configs
// for each sensor, an availability topic backed by a last-will
// message, and a periodic state loop covering uptime, version, active
// sessions, daily token and request counts, last request time, and
// the default model.
//
// Connection management uses Eclipse Paho v2's autopaho package,
// which reconnects automatically. Discovery configs and the "online"
// birth message are republished on every (re-)connect, so a restarted
// broker rebuilds the device without intervention.
package mqtt
