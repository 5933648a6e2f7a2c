// Package mqtt forwards tool-loop events from the in-process bus to an
// MQTT broker so external dashboards can watch tool rounds live.
//
// The forwarder uses Eclipse Paho v2's [autopaho] package for connection
// management with automatic reconnection. On every (re-)connect it
// publishes a retained "online" birth message to the availability topic;
// a will message flips it to "offline" on unexpected disconnects.
package mqtt
