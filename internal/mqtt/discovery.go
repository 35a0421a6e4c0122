//go:build !no_mqtt

package mqtt

import (
	"fmt"

	"cuby-bridge/internal/coordinator"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/climate/cuby_abc123/climate/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
	Name         string   `json:"name"`
}

// haClimate is the climate entity discovery payload. The bridge publishes
// a resolved state document, so every template is a plain key lookup.
type haClimate struct {
	Name                    string   `json:"name"`
	UniqueID                string   `json:"unique_id"`
	AvailabilityTopic       string   `json:"availability_topic"`
	Modes                   []string `json:"modes"`
	ModeStateTopic          string   `json:"mode_state_topic"`
	ModeStateTemplate       string   `json:"mode_state_template"`
	ModeCommandTopic        string   `json:"mode_command_topic"`
	TemperatureStateTopic   string   `json:"temperature_state_topic"`
	TemperatureStateTmpl    string   `json:"temperature_state_template"`
	TemperatureCommandTopic string   `json:"temperature_command_topic"`
	CurrentTemperatureTopic string   `json:"current_temperature_topic,omitempty"`
	CurrentTemperatureTmpl  string   `json:"current_temperature_template,omitempty"`
	FanModes                []string `json:"fan_modes,omitempty"`
	FanModeStateTopic       string   `json:"fan_mode_state_topic,omitempty"`
	FanModeStateTemplate    string   `json:"fan_mode_state_template,omitempty"`
	FanModeCommandTopic     string   `json:"fan_mode_command_topic,omitempty"`
	MinTemp                 float64  `json:"min_temp"`
	MaxTemp                 float64  `json:"max_temp"`
	TempStep                float64  `json:"temp_step"`
	TemperatureUnit         string   `json:"temperature_unit,omitempty"`
	Device                  haDevice `json:"device"`
}

// haDiscovery is the generic payload for switch, sensor and binary_sensor
// entities.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	CommandTopic      string   `json:"command_topic,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	Icon              string   `json:"icon,omitempty"`
	Device            haDevice `json:"device"`
}

// haMode maps a native HVAC mode to the HA climate mode vocabulary.
func haMode(mode string) string {
	if mode == coordinator.ModeFan {
		return "fan_only"
	}
	return mode
}

// nativeMode maps an HA climate mode back to the native vocabulary.
func nativeMode(mode string) string {
	if mode == "fan_only" {
		return coordinator.ModeFan
	}
	return mode
}

func deviceIdentifier(dev *coordinator.Device) string {
	return "cuby_" + dev.ID
}

// switchEntities are the toggle attributes exposed as HA switches, in
// discovery order.
var switchEntities = []struct {
	attr string
	name string
	icon string
}{
	{"swing_vertical", "Vertical Swing", "mdi:arrow-up-down"},
	{"swing_horizontal", "Horizontal Swing", "mdi:arrow-left-right"},
	{"eco", "Eco", "mdi:leaf"},
	{"turbo", "Turbo", "mdi:rocket-launch"},
	{"long", "Long Airflow", "mdi:weather-windy"},
}

// buildDiscovery generates HA discovery messages for a device based on
// its capabilities. Temperatures in discovery (min/max) are expressed in
// displayUnit; the bridge publishes state in the same unit.
func buildDiscovery(dev *coordinator.Device, prefix, discoveryPrefix string, displayUnit coordinator.Unit) []discoveryMsg {
	avail := prefix + "/bridge/state"
	stateTopic := prefix + "/" + dev.ID
	nodeID := deviceIdentifier(dev)

	haDev := haDevice{
		Identifiers:  []string{nodeID},
		Manufacturer: "Cuby",
		Model:        dev.Model,
		SWVersion:    dev.FirmwareVersion,
		Name:         dev.Name,
	}

	modes := []string{"off"}
	for _, m := range dev.Capabilities.Modes {
		modes = append(modes, haMode(m))
	}

	climate := haClimate{
		Name:                    dev.Name,
		UniqueID:                nodeID + "_climate",
		AvailabilityTopic:       avail,
		Modes:                   modes,
		ModeStateTopic:          stateTopic,
		ModeStateTemplate:       "{{ value_json.mode }}",
		ModeCommandTopic:        stateTopic + "/set/mode",
		TemperatureStateTopic:   stateTopic,
		TemperatureStateTmpl:    "{{ value_json.target_temperature }}",
		TemperatureCommandTopic: stateTopic + "/set/temperature",
		CurrentTemperatureTopic: stateTopic,
		CurrentTemperatureTmpl:  "{{ value_json.current_temperature }}",
		MinTemp:                 coordinator.ConvertTemp(coordinator.MinTargetC, coordinator.UnitCelsius, displayUnit),
		MaxTemp:                 coordinator.ConvertTemp(coordinator.MaxTargetC, coordinator.UnitCelsius, displayUnit),
		TempStep:                1,
		TemperatureUnit:         string(displayUnit),
		Device:                  haDev,
	}
	if len(dev.Capabilities.FanSpeeds) > 0 {
		climate.FanModes = dev.Capabilities.FanSpeeds
		climate.FanModeStateTopic = stateTopic
		climate.FanModeStateTemplate = "{{ value_json.fan_mode }}"
		climate.FanModeCommandTopic = stateTopic + "/set/fan_mode"
	}

	msgs := []discoveryMsg{{
		Topic:   fmt.Sprintf("%s/climate/%s/climate/config", discoveryPrefix, nodeID),
		Payload: mustJSON(climate),
	}}

	for _, sw := range switchEntities {
		if !supportsSwitch(dev.Capabilities, sw.attr) {
			continue
		}
		msgs = append(msgs, discoveryMsg{
			Topic: fmt.Sprintf("%s/switch/%s/%s/config", discoveryPrefix, nodeID, sw.attr),
			Payload: mustJSON(haDiscovery{
				Name:              dev.Name + " " + sw.name,
				UniqueID:          nodeID + "_" + sw.attr,
				StateTopic:        stateTopic,
				CommandTopic:      stateTopic + "/set/" + sw.attr,
				AvailabilityTopic: avail,
				ValueTemplate:     fmt.Sprintf("{{ value_json.%s }}", sw.attr),
				PayloadOn:         "ON",
				PayloadOff:        "OFF",
				Icon:              sw.icon,
				Device:            haDev,
			}),
		})
	}

	unitLabel := "°C"
	if displayUnit == coordinator.UnitFahrenheit {
		unitLabel = "°F"
	}
	msgs = append(msgs, discoveryMsg{
		Topic: fmt.Sprintf("%s/sensor/%s/temperature/config", discoveryPrefix, nodeID),
		Payload: mustJSON(haDiscovery{
			Name:              dev.Name + " Temperature",
			UniqueID:          nodeID + "_temperature",
			StateTopic:        stateTopic,
			AvailabilityTopic: avail,
			ValueTemplate:     "{{ value_json.current_temperature }}",
			UnitOfMeasurement: unitLabel,
			DeviceClass:       "temperature",
			StateClass:        "measurement",
			Device:            haDev,
		}),
	})
	msgs = append(msgs, discoveryMsg{
		Topic: fmt.Sprintf("%s/sensor/%s/humidity/config", discoveryPrefix, nodeID),
		Payload: mustJSON(haDiscovery{
			Name:              dev.Name + " Humidity",
			UniqueID:          nodeID + "_humidity",
			StateTopic:        stateTopic,
			AvailabilityTopic: avail,
			ValueTemplate:     "{{ value_json.humidity }}",
			UnitOfMeasurement: "%",
			DeviceClass:       "humidity",
			StateClass:        "measurement",
			Device:            haDev,
		}),
	})

	// Stale flag so dashboards can tell a live record from a held one.
	msgs = append(msgs, discoveryMsg{
		Topic: fmt.Sprintf("%s/binary_sensor/%s/stale/config", discoveryPrefix, nodeID),
		Payload: mustJSON(haDiscovery{
			Name:              dev.Name + " Stale",
			UniqueID:          nodeID + "_stale",
			StateTopic:        stateTopic,
			AvailabilityTopic: avail,
			ValueTemplate:     "{{ 'ON' if value_json.stale else 'OFF' }}",
			DeviceClass:       "problem",
			Device:            haDev,
		}),
	})

	return msgs
}

func supportsSwitch(caps coordinator.Capabilities, attr string) bool {
	switch attr {
	case "swing_vertical":
		return caps.SwingVertical
	case "swing_horizontal":
		return caps.SwingHorizontal
	default:
		return caps.SupportsFlag(attr)
	}
}

// buildRemoveDiscovery generates empty retained messages to remove a
// device from HA.
func buildRemoveDiscovery(deviceID, discoveryPrefix string) []discoveryMsg {
	nodeID := "cuby_" + deviceID

	components := []struct{ comp, obj string }{
		{"climate", "climate"},
		{"sensor", "temperature"},
		{"sensor", "humidity"},
		{"binary_sensor", "stale"},
	}
	for _, sw := range switchEntities {
		components = append(components, struct{ comp, obj string }{"switch", sw.attr})
	}

	var msgs []discoveryMsg
	for _, c := range components {
		msgs = append(msgs, discoveryMsg{
			Topic:   fmt.Sprintf("%s/%s/%s/%s/config", discoveryPrefix, c.comp, nodeID, c.obj),
			Payload: nil, // empty retained = delete
		})
	}
	return msgs
}
