package coordinator

import (
	"context"
	"fmt"
	"math"

	"cuby-bridge/internal/auth"
	"cuby-bridge/internal/cubyapi"
)

// fieldUpdate is one optimistic field write attached to a command.
type fieldUpdate struct {
	field string
	value any
}

// SetPower turns the unit on or off.
func (c *Coordinator) SetPower(ctx context.Context, deviceID string, on bool) error {
	if _, ok := c.Device(deviceID); !ok {
		return &cubyapi.DeviceNotFoundError{DeviceID: deviceID}
	}
	return c.dispatch(ctx, deviceID, cubyapi.PowerCommand(on),
		fieldUpdate{"power", on})
}

// SetMode switches the HVAC mode. Setting a mode powers the unit on.
func (c *Coordinator) SetMode(ctx context.Context, deviceID, mode string) error {
	dev, ok := c.Device(deviceID)
	if !ok {
		return &cubyapi.DeviceNotFoundError{DeviceID: deviceID}
	}
	if !dev.Capabilities.SupportsMode(mode) {
		return &UnsupportedFeatureError{DeviceID: deviceID, Feature: "mode " + mode}
	}
	return c.dispatch(ctx, deviceID, cubyapi.ModeCommand(mode),
		fieldUpdate{"mode", mode}, fieldUpdate{"power", true})
}

// SetTargetTemperature sets the setpoint. The value may arrive in either
// unit; it is converted to the device's native unit, clamped to the
// supported range, and rounded to whole degrees as the API requires.
func (c *Coordinator) SetTargetTemperature(ctx context.Context, deviceID string, value float64, unit Unit) error {
	if _, ok := c.Device(deviceID); !ok {
		return &cubyapi.DeviceNotFoundError{DeviceID: deviceID}
	}

	native := c.nativeUnit(deviceID)
	celsius := ConvertTemp(value, unit, UnitCelsius)
	if celsius < MinTargetC {
		celsius = MinTargetC
	}
	if celsius > MaxTargetC {
		celsius = MaxTargetC
	}
	degrees := int(math.Round(ConvertTemp(celsius, UnitCelsius, native)))

	return c.dispatch(ctx, deviceID, cubyapi.TemperatureCommand(degrees),
		fieldUpdate{"target_temperature", float64(degrees)})
}

// SetFanSpeed sets the fan speed.
func (c *Coordinator) SetFanSpeed(ctx context.Context, deviceID, speed string) error {
	dev, ok := c.Device(deviceID)
	if !ok {
		return &cubyapi.DeviceNotFoundError{DeviceID: deviceID}
	}
	if !dev.Capabilities.SupportsFanSpeed(speed) {
		return &UnsupportedFeatureError{DeviceID: deviceID, Feature: "fan speed " + speed}
	}
	return c.dispatch(ctx, deviceID, cubyapi.FanCommand(speed),
		fieldUpdate{"fan_speed", speed})
}

// SetSwing toggles a swing axis ("vertical" or "horizontal").
func (c *Coordinator) SetSwing(ctx context.Context, deviceID, axis string, on bool) error {
	dev, ok := c.Device(deviceID)
	if !ok {
		return &cubyapi.DeviceNotFoundError{DeviceID: deviceID}
	}
	if !dev.Capabilities.SupportsSwing(axis) {
		return &UnsupportedFeatureError{DeviceID: deviceID, Feature: "swing " + axis}
	}

	var apiAxis, field string
	switch axis {
	case SwingVertical:
		apiAxis, field = "verticalVane", "swing_vertical"
	case SwingHorizontal:
		apiAxis, field = "horizontalVane", "swing_horizontal"
	default:
		return fmt.Errorf("unknown swing axis %q", axis)
	}
	return c.dispatch(ctx, deviceID, cubyapi.VaneCommand(apiAxis, on),
		fieldUpdate{field, on})
}

// SetFlag toggles an auxiliary flag ("eco", "turbo", "long").
func (c *Coordinator) SetFlag(ctx context.Context, deviceID, flag string, on bool) error {
	dev, ok := c.Device(deviceID)
	if !ok {
		return &cubyapi.DeviceNotFoundError{DeviceID: deviceID}
	}
	if !dev.Capabilities.SupportsFlag(flag) {
		return &UnsupportedFeatureError{DeviceID: deviceID, Feature: "flag " + flag}
	}
	return c.dispatch(ctx, deviceID, cubyapi.FlagCommand(flag, on),
		fieldUpdate{flag, on})
}

// dispatch sends one control payload and, on success, applies the
// optimistic writes and records them as pending until the next poll
// supersedes them. A rejected or failed command leaves the canonical
// record at its pre-command value and the error is surfaced to the
// caller.
func (c *Coordinator) dispatch(ctx context.Context, deviceID string, cmd cubyapi.Command, updates ...fieldUpdate) error {
	token, err := c.tokens.Token()
	if err != nil {
		c.emitReauth()
		return err
	}

	if err := c.api.SendCommand(ctx, token, deviceID, cmd); err != nil {
		if cubyapi.IsAuthError(err) {
			c.tokens.Invalidate()
			c.emitReauth()
			return auth.ErrReauthRequired
		}
		c.logger.Warn("command failed", "device", deviceID, "type", cmd["type"], "err", err)
		return err
	}

	e := c.entry(deviceID)
	e.mu.Lock()
	if !e.hasState {
		e.state = DeviceState{DeviceID: deviceID, Unit: UnitCelsius, Mode: ModeAuto}
		e.hasState = true
	}
	e.gen++
	now := c.now()
	for _, u := range updates {
		applyField(&e.state, u.field, u.value)
		e.pending = append(e.pending, PendingCommand{
			DeviceID: deviceID,
			Field:    u.field,
			Value:    u.value,
			IssuedAt: now,
			gen:      e.gen,
		})
	}
	e.state.LastUpdated = now
	snapshot := e.state
	e.mu.Unlock()

	c.logger.Info("command sent", "device", deviceID, "type", cmd["type"])
	c.events.Emit(Event{Type: EventCommandSent, Data: map[string]any{
		"device_id": deviceID,
		"command":   cmd["type"],
	}})
	c.events.Emit(Event{Type: EventDeviceState, Data: snapshot})
	return nil
}

// nativeUnit returns the unit the device itself reports in, defaulting
// to Celsius before the first successful poll.
func (c *Coordinator) nativeUnit(deviceID string) Unit {
	if st, ok := c.State(deviceID); ok && st.Unit != "" {
		return st.Unit
	}
	return UnitCelsius
}
