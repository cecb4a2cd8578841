package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Name          string       `json:"name"`
	State         string       `json:"state"`
	Controller    string       `json:"controller"`
	Ready         bool         `json:"ready"`
	LastChange    string       `json:"last_change,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"event_counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	On  int `json:"on"`
	Off int `json:"off"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	MonitorPin      int    `json:"monitor_pin"`
	MonitorInverted bool   `json:"monitor_inverted"`
	ControlPin      int    `json:"control_pin"`
	PulseMs         int64  `json:"pulse_ms"`
	HeartbeatMs     int64  `json:"heartbeat_ms"`
	ResyncMs        int64  `json:"resync_ms"`
	Backend         string `json:"backend"`
	Broker          string `json:"broker"`
	HTTPAddr        string `json:"http_addr"`
	HomeKit         bool   `json:"homekit"`
	HistoryPath     string `json:"history_path,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	state := string(snap.State)
	if state == "" {
		state = "UNKNOWN"
	}

	inner := StatusInner{
		Name:          snap.Config.Name,
		State:         state,
		Controller:    snap.Controller,
		Ready:         snap.Ready(),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			On:  snap.Counts.On,
			Off: snap.Counts.Off,
		},
		Config: ConfigJSON{
			MonitorPin:      snap.Config.MonitorPin,
			MonitorInverted: snap.Config.MonitorInverted,
			ControlPin:      snap.Config.ControlPin,
			PulseMs:         snap.Config.PulseMs,
			HeartbeatMs:     snap.Config.HeartbeatMs,
			ResyncMs:        snap.Config.ResyncMs,
			Backend:         snap.Config.Backend,
			Broker:          snap.Config.Broker,
			HTTPAddr:        snap.Config.HTTPAddr,
			HomeKit:         snap.Config.HomeKit,
			HistoryPath:     snap.Config.HistoryPath,
		},
	}
	if !snap.LastChange.IsZero() {
		inner.LastChange = snap.LastChange.UTC().Format(time.RFC3339)
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
