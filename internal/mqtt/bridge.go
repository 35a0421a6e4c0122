//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"cuby-bridge/internal/coordinator"
	"cuby-bridge/internal/store"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker          string
	Username        string
	Password        string
	TopicPrefix     string
	DiscoveryPrefix string
}

// Bridge publishes coordinator state to MQTT with HA autodiscovery and
// turns per-attribute command topics into coordinator calls.
type Bridge struct {
	client     pahomqtt.Client
	coord      *coordinator.Coordinator
	prefix     string
	discPrefix string
	logger     *slog.Logger
	unsub      func()
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(coord *coordinator.Coordinator, cfg Config, logger *slog.Logger) (*Bridge, error) {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "cuby"
	}
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = "homeassistant"
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		coord:      coord,
		prefix:     cfg.TopicPrefix,
		discPrefix: cfg.DiscoveryPrefix,
		logger:     logger.With("component", "mqtt"),
		ctx:        ctx,
		cancel:     cancel,
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("cuby-bridge").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.publishAllDiscovery()
			b.publishAllStates()
			b.subscribeCommands()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	// Assign before Connect: the OnConnect handler publishes through b.client.
	b.client = pahomqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		cancel()
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		cancel()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// Start subscribes to coordinator events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.coord.Events().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event coordinator.Event) {
	switch event.Type {
	case coordinator.EventDeviceState:
		if st, ok := event.Data.(coordinator.DeviceState); ok {
			b.publishState(st)
		}
	case coordinator.EventDeviceStale:
		data, ok := event.Data.(map[string]any)
		if !ok {
			return
		}
		if st, ok := data["state"].(*coordinator.DeviceState); ok && st != nil {
			b.publishState(*st)
		}
	case coordinator.EventDevicesLoaded:
		// Selection may have changed; refresh discovery and subscriptions.
		b.publishAllDiscovery()
		b.subscribeCommands()
	case coordinator.EventDeviceUnavailable:
		data, ok := event.Data.(map[string]any)
		if !ok {
			return
		}
		if id, _ := data["device_id"].(string); id != "" {
			b.removeDevice(id)
		}
	}
}

// displayUnit resolves the configured presentation unit; with the
// follow-device setting, the device's own unit wins.
func (b *Bridge) displayUnit(native coordinator.Unit) coordinator.Unit {
	switch b.coord.Settings().DisplayUnit {
	case store.UnitCelsius:
		return coordinator.UnitCelsius
	case store.UnitFahrenheit:
		return coordinator.UnitFahrenheit
	default:
		if native == "" {
			return coordinator.UnitCelsius
		}
		return native
	}
}

// stateDocument flattens a canonical state record into the resolved
// document HA templates read. Temperatures are converted to the display
// unit here; the canonical record stays in the device's native unit.
func stateDocument(st coordinator.DeviceState, display coordinator.Unit) map[string]any {
	doc := map[string]any{
		"power": onOff(st.Power),
		"mode":  "off",
		"unit":  string(display),
		"stale": st.Stale,
	}
	if st.Power {
		doc["mode"] = haMode(st.Mode)
	}
	if st.TargetTemperature != nil {
		doc["target_temperature"] = roundTenth(coordinator.ConvertTemp(*st.TargetTemperature, st.Unit, display))
	}
	if st.CurrentTemperature != nil {
		doc["current_temperature"] = roundTenth(coordinator.ConvertTemp(*st.CurrentTemperature, st.Unit, display))
	}
	if st.Humidity != nil {
		doc["humidity"] = *st.Humidity
	}
	if st.FanSpeed != nil {
		doc["fan_mode"] = *st.FanSpeed
	}
	if st.SwingVertical != nil {
		doc["swing_vertical"] = onOff(*st.SwingVertical)
	}
	if st.SwingHorizontal != nil {
		doc["swing_horizontal"] = onOff(*st.SwingHorizontal)
	}
	if st.Eco != nil {
		doc["eco"] = onOff(*st.Eco)
	}
	if st.Turbo != nil {
		doc["turbo"] = onOff(*st.Turbo)
	}
	if st.Long != nil {
		doc["long"] = onOff(*st.Long)
	}
	if !st.LastUpdated.IsZero() {
		doc["last_updated"] = st.LastUpdated.Format(time.RFC3339)
	}
	return doc
}

func (b *Bridge) publishState(st coordinator.DeviceState) {
	doc := stateDocument(st, b.displayUnit(st.Unit))
	b.publish(b.prefix+"/"+st.DeviceID, mustJSON(doc), true)
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(b.prefix+"/bridge/state", []byte(state), true)
}

func (b *Bridge) publishAllDiscovery() {
	for _, dev := range b.coord.Devices() {
		native := coordinator.UnitCelsius
		if st, ok := b.coord.State(dev.ID); ok {
			native = st.Unit
		}
		for _, msg := range buildDiscovery(dev, b.prefix, b.discPrefix, b.displayUnit(native)) {
			b.publish(msg.Topic, msg.Payload, true)
		}
		b.logger.Info("published HA discovery", "device", dev.ID, "name", dev.Name)
	}
}

func (b *Bridge) publishAllStates() {
	for _, dev := range b.coord.Devices() {
		if st, ok := b.coord.State(dev.ID); ok {
			b.publishState(st)
		}
	}
}

func (b *Bridge) removeDevice(deviceID string) {
	for _, msg := range buildRemoveDiscovery(deviceID, b.discPrefix) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	// Clear the retained state document too.
	b.publish(b.prefix+"/"+deviceID, nil, true)
}

func (b *Bridge) subscribeCommands() {
	for _, dev := range b.coord.Devices() {
		topic := b.prefix + "/" + dev.ID + "/set/+"
		id := dev.ID
		b.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			parts := strings.Split(msg.Topic(), "/")
			attr := parts[len(parts)-1]
			b.handleCommand(id, attr, msg.Payload())
		})
	}
}

func (b *Bridge) handleCommand(deviceID, attr string, payload []byte) {
	value := strings.TrimSpace(string(payload))
	ctx, cancel := context.WithTimeout(b.ctx, 10*time.Second)
	defer cancel()

	var err error
	switch attr {
	case "mode":
		mode := strings.ToLower(value)
		if mode == "off" {
			err = b.coord.SetPower(ctx, deviceID, false)
		} else {
			err = b.coord.SetMode(ctx, deviceID, nativeMode(mode))
		}
	case "power":
		on, ok := parseOnOff(value)
		if !ok {
			b.logger.Warn("invalid power payload", "device", deviceID, "payload", value)
			return
		}
		err = b.coord.SetPower(ctx, deviceID, on)
	case "temperature":
		var v float64
		v, err = strconv.ParseFloat(value, 64)
		if err != nil {
			b.logger.Warn("invalid temperature payload", "device", deviceID, "payload", value)
			return
		}
		native := coordinator.UnitCelsius
		if st, ok := b.coord.State(deviceID); ok {
			native = st.Unit
		}
		err = b.coord.SetTargetTemperature(ctx, deviceID, v, b.displayUnit(native))
	case "fan_mode":
		err = b.coord.SetFanSpeed(ctx, deviceID, strings.ToLower(value))
	case "swing_vertical", "swing_horizontal":
		on, ok := parseOnOff(value)
		if !ok {
			return
		}
		axis := coordinator.SwingVertical
		if attr == "swing_horizontal" {
			axis = coordinator.SwingHorizontal
		}
		err = b.coord.SetSwing(ctx, deviceID, axis, on)
	case coordinator.FlagEco, coordinator.FlagTurbo, coordinator.FlagLong:
		on, ok := parseOnOff(value)
		if !ok {
			return
		}
		err = b.coord.SetFlag(ctx, deviceID, attr, on)
	default:
		b.logger.Warn("unknown command attribute", "device", deviceID, "attr", attr)
		return
	}

	if err != nil {
		b.logger.Warn("command failed", "device", deviceID, "attr", attr, "err", err)
	}
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func onOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}

func parseOnOff(v string) (bool, bool) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "ON", "TRUE", "1":
		return true, true
	case "OFF", "FALSE", "0":
		return false, true
	}
	return false, false
}

// roundTenth keeps published temperatures readable after conversion.
func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
