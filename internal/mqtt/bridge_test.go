//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"testing"
	"time"

	"cuby-bridge/internal/coordinator"
)

func testDevice() *coordinator.Device {
	return &coordinator.Device{
		ID:              "abc123",
		Name:            "Living Room AC",
		Model:           "Cuby G4",
		FirmwareVersion: "1.4.2",
		Capabilities:    coordinator.DefaultCapabilities(),
	}
}

func findMsg(msgs []discoveryMsg, topic string) *discoveryMsg {
	for i := range msgs {
		if msgs[i].Topic == topic {
			return &msgs[i]
		}
	}
	return nil
}

func TestDiscoveryClimate(t *testing.T) {
	msgs := buildDiscovery(testDevice(), "cuby", "homeassistant", coordinator.UnitCelsius)
	if len(msgs) == 0 {
		t.Fatal("expected discovery messages")
	}

	msg := findMsg(msgs, "homeassistant/climate/cuby_abc123/climate/config")
	if msg == nil {
		t.Fatal("climate discovery not found")
	}

	var payload haClimate
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}

	if payload.Name != "Living Room AC" {
		t.Errorf("name = %q", payload.Name)
	}
	if payload.UniqueID != "cuby_abc123_climate" {
		t.Errorf("unique_id = %q", payload.UniqueID)
	}
	if payload.ModeCommandTopic != "cuby/abc123/set/mode" {
		t.Errorf("mode_command_topic = %q", payload.ModeCommandTopic)
	}
	if payload.TemperatureCommandTopic != "cuby/abc123/set/temperature" {
		t.Errorf("temperature_command_topic = %q", payload.TemperatureCommandTopic)
	}
	if payload.AvailabilityTopic != "cuby/bridge/state" {
		t.Errorf("availability_topic = %q", payload.AvailabilityTopic)
	}
	if payload.MinTemp != 16 || payload.MaxTemp != 30 {
		t.Errorf("temp range = %v..%v, want 16..30", payload.MinTemp, payload.MaxTemp)
	}
	if payload.TemperatureUnit != "C" {
		t.Errorf("temperature_unit = %q", payload.TemperatureUnit)
	}
	if payload.Device.Model != "Cuby G4" || payload.Device.SWVersion != "1.4.2" {
		t.Errorf("device block = %+v", payload.Device)
	}

	wantModes := map[string]bool{"off": true, "auto": true, "cool": true, "heat": true, "dry": true, "fan_only": true}
	if len(payload.Modes) != len(wantModes) {
		t.Fatalf("modes = %v", payload.Modes)
	}
	for _, m := range payload.Modes {
		if !wantModes[m] {
			t.Errorf("unexpected mode %q", m)
		}
	}
	if len(payload.FanModes) != 4 {
		t.Errorf("fan_modes = %v", payload.FanModes)
	}
}

func TestDiscoveryFahrenheitRange(t *testing.T) {
	msgs := buildDiscovery(testDevice(), "cuby", "homeassistant", coordinator.UnitFahrenheit)
	msg := findMsg(msgs, "homeassistant/climate/cuby_abc123/climate/config")
	if msg == nil {
		t.Fatal("climate discovery not found")
	}
	var payload haClimate
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.MinTemp != 60.8 || payload.MaxTemp != 86 {
		t.Errorf("temp range = %v..%v, want 60.8..86", payload.MinTemp, payload.MaxTemp)
	}
	if payload.TemperatureUnit != "F" {
		t.Errorf("temperature_unit = %q", payload.TemperatureUnit)
	}
}

func TestDiscoverySwitchesFollowCapabilities(t *testing.T) {
	dev := testDevice()
	dev.Capabilities.SwingHorizontal = false
	dev.Capabilities.Flags = []string{coordinator.FlagEco}

	msgs := buildDiscovery(dev, "cuby", "homeassistant", coordinator.UnitCelsius)

	if findMsg(msgs, "homeassistant/switch/cuby_abc123/swing_vertical/config") == nil {
		t.Error("vertical swing switch missing")
	}
	if findMsg(msgs, "homeassistant/switch/cuby_abc123/swing_horizontal/config") != nil {
		t.Error("horizontal swing advertised despite missing capability")
	}
	if findMsg(msgs, "homeassistant/switch/cuby_abc123/eco/config") == nil {
		t.Error("eco switch missing")
	}
	if findMsg(msgs, "homeassistant/switch/cuby_abc123/turbo/config") != nil {
		t.Error("turbo advertised despite missing capability")
	}

	sw := findMsg(msgs, "homeassistant/switch/cuby_abc123/eco/config")
	var payload haDiscovery
	if err := json.Unmarshal(sw.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.CommandTopic != "cuby/abc123/set/eco" {
		t.Errorf("command_topic = %q", payload.CommandTopic)
	}
	if payload.ValueTemplate != "{{ value_json.eco }}" {
		t.Errorf("value_template = %q", payload.ValueTemplate)
	}
}

func TestDiscoverySensors(t *testing.T) {
	msgs := buildDiscovery(testDevice(), "cuby", "homeassistant", coordinator.UnitCelsius)

	msg := findMsg(msgs, "homeassistant/sensor/cuby_abc123/temperature/config")
	if msg == nil {
		t.Fatal("temperature sensor discovery not found")
	}
	var payload haDiscovery
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.DeviceClass != "temperature" {
		t.Errorf("device_class = %q", payload.DeviceClass)
	}
	if payload.UnitOfMeasurement != "°C" {
		t.Errorf("unit = %q", payload.UnitOfMeasurement)
	}

	if findMsg(msgs, "homeassistant/sensor/cuby_abc123/humidity/config") == nil {
		t.Error("humidity sensor discovery not found")
	}
	if findMsg(msgs, "homeassistant/binary_sensor/cuby_abc123/stale/config") == nil {
		t.Error("stale binary sensor discovery not found")
	}
}

func TestRemoveDiscoveryCoversAllComponents(t *testing.T) {
	built := buildDiscovery(testDevice(), "cuby", "homeassistant", coordinator.UnitCelsius)
	removed := buildRemoveDiscovery("abc123", "homeassistant")

	topics := make(map[string]bool, len(removed))
	for _, msg := range removed {
		if msg.Payload != nil {
			t.Errorf("remove payload for %s is not empty", msg.Topic)
		}
		topics[msg.Topic] = true
	}
	for _, msg := range built {
		if !topics[msg.Topic] {
			t.Errorf("discovery topic %s has no matching removal", msg.Topic)
		}
	}
}

func TestStateDocument(t *testing.T) {
	target := 22.0
	current := 24.5
	humidity := 51.0
	fan := coordinator.FanHigh
	swing := true
	eco := false

	st := coordinator.DeviceState{
		DeviceID:           "abc123",
		Power:              true,
		Mode:               coordinator.ModeFan,
		TargetTemperature:  &target,
		CurrentTemperature: &current,
		Humidity:           &humidity,
		FanSpeed:           &fan,
		SwingVertical:      &swing,
		Eco:                &eco,
		Unit:               coordinator.UnitCelsius,
		LastUpdated:        time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	doc := stateDocument(st, coordinator.UnitCelsius)
	if doc["power"] != "ON" {
		t.Errorf("power = %v", doc["power"])
	}
	if doc["mode"] != "fan_only" {
		t.Errorf("mode = %v, want fan_only", doc["mode"])
	}
	if doc["target_temperature"] != 22.0 {
		t.Errorf("target = %v", doc["target_temperature"])
	}
	if doc["fan_mode"] != coordinator.FanHigh {
		t.Errorf("fan_mode = %v", doc["fan_mode"])
	}
	if doc["swing_vertical"] != "ON" {
		t.Errorf("swing_vertical = %v", doc["swing_vertical"])
	}
	if doc["eco"] != "OFF" {
		t.Errorf("eco = %v", doc["eco"])
	}
	if _, ok := doc["swing_horizontal"]; ok {
		t.Error("unreported attribute leaked into document")
	}
	if doc["stale"] != false {
		t.Errorf("stale = %v", doc["stale"])
	}
}

func TestStateDocumentPowerOffMapsToOffMode(t *testing.T) {
	st := coordinator.DeviceState{
		DeviceID: "abc123",
		Power:    false,
		Mode:     coordinator.ModeCool,
		Unit:     coordinator.UnitCelsius,
	}
	doc := stateDocument(st, coordinator.UnitCelsius)
	if doc["mode"] != "off" {
		t.Errorf("mode = %v, want off when power is off", doc["mode"])
	}
}

func TestStateDocumentUnitConversion(t *testing.T) {
	target := 22.0
	current := 25.0
	st := coordinator.DeviceState{
		DeviceID:           "abc123",
		Power:              true,
		Mode:               coordinator.ModeCool,
		TargetTemperature:  &target,
		CurrentTemperature: &current,
		Unit:               coordinator.UnitCelsius,
	}

	doc := stateDocument(st, coordinator.UnitFahrenheit)
	if doc["target_temperature"] != 71.6 {
		t.Errorf("target = %v, want 71.6", doc["target_temperature"])
	}
	if doc["current_temperature"] != 77.0 {
		t.Errorf("current = %v, want 77", doc["current_temperature"])
	}
	if doc["unit"] != "F" {
		t.Errorf("unit = %v", doc["unit"])
	}
}

func TestModeMapping(t *testing.T) {
	if haMode(coordinator.ModeFan) != "fan_only" {
		t.Error("fan should map to fan_only")
	}
	if haMode(coordinator.ModeCool) != "cool" {
		t.Error("cool should pass through")
	}
	if nativeMode("fan_only") != coordinator.ModeFan {
		t.Error("fan_only should map back to fan")
	}
	if nativeMode("heat") != "heat" {
		t.Error("heat should pass through")
	}
}

func TestParseOnOff(t *testing.T) {
	cases := []struct {
		in   string
		want bool
		ok   bool
	}{
		{"ON", true, true},
		{"off", false, true},
		{" On ", true, true},
		{"1", true, true},
		{"0", false, true},
		{"toggle", false, false},
		{"", false, false},
	}
	for _, tc := range cases {
		got, ok := parseOnOff(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("parseOnOff(%q) = (%v, %v), want (%v, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
