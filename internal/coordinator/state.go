package coordinator

import (
	"fmt"
	"time"
)

// Unit is a temperature unit as reported by the device.
type Unit string

const (
	UnitCelsius    Unit = "C"
	UnitFahrenheit Unit = "F"
)

// HVAC modes. "off" is not a device mode: power is a separate attribute,
// and the presentation layer maps power=false to an off state.
const (
	ModeAuto = "auto"
	ModeCool = "cool"
	ModeHeat = "heat"
	ModeDry  = "dry"
	ModeFan  = "fan"
)

// Fan speeds.
const (
	FanAuto   = "auto"
	FanLow    = "low"
	FanMedium = "medium"
	FanHigh   = "high"
)

// Swing axes.
const (
	SwingVertical   = "vertical"
	SwingHorizontal = "horizontal"
)

// Auxiliary toggle flags.
const (
	FlagEco   = "eco"
	FlagTurbo = "turbo"
	FlagLong  = "long"
)

// Target temperature bounds, in Celsius.
const (
	MinTargetC = 16
	MaxTargetC = 30
)

// CToF converts Celsius to Fahrenheit.
func CToF(c float64) float64 { return c*9/5 + 32 }

// FToC converts Fahrenheit to Celsius.
func FToC(f float64) float64 { return (f - 32) * 5 / 9 }

// ConvertTemp converts a temperature between units.
func ConvertTemp(v float64, from, to Unit) float64 {
	if from == to {
		return v
	}
	if from == UnitCelsius {
		return CToF(v)
	}
	return FToC(v)
}

// Capabilities is the feature set a device supports. Immutable for the
// session, like the device itself.
type Capabilities struct {
	Modes           []string `json:"modes"`
	FanSpeeds       []string `json:"fan_speeds"`
	SwingVertical   bool     `json:"swing_vertical"`
	SwingHorizontal bool     `json:"swing_horizontal"`
	Flags           []string `json:"flags"`
}

// DefaultCapabilities is what a device gets when the cloud omits the
// capability block, matching the standard Cuby controller feature set.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		Modes:           []string{ModeAuto, ModeCool, ModeHeat, ModeDry, ModeFan},
		FanSpeeds:       []string{FanAuto, FanLow, FanMedium, FanHigh},
		SwingVertical:   true,
		SwingHorizontal: true,
		Flags:           []string{FlagEco, FlagTurbo, FlagLong},
	}
}

func (c Capabilities) SupportsMode(mode string) bool {
	return contains(c.Modes, mode)
}

func (c Capabilities) SupportsFanSpeed(speed string) bool {
	return contains(c.FanSpeeds, speed)
}

func (c Capabilities) SupportsSwing(axis string) bool {
	switch axis {
	case SwingVertical:
		return c.SwingVertical
	case SwingHorizontal:
		return c.SwingHorizontal
	}
	return false
}

func (c Capabilities) SupportsFlag(flag string) bool {
	return contains(c.Flags, flag)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Device is one A/C unit registered to the account. Discovered once per
// session from the device list and immutable afterwards; capability
// changes require rediscovery.
type Device struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Model           string       `json:"model,omitempty"`
	FirmwareVersion string       `json:"firmware_version,omitempty"`
	Capabilities    Capabilities `json:"capabilities"`
}

// DeviceState is the canonical state record for one device, derived only
// from poll results plus optimistic command writes. Temperatures are
// always in the device's native unit; display conversion happens at the
// presentation boundary and never mutates this record.
//
// Pointer fields distinguish "unsupported / never reported" (nil) from a
// real value, so a device without fan control is not shown as fan=off.
type DeviceState struct {
	DeviceID           string    `json:"device_id"`
	Power              bool      `json:"power"`
	Mode               string    `json:"mode"`
	TargetTemperature  *float64  `json:"target_temperature,omitempty"`
	CurrentTemperature *float64  `json:"current_temperature,omitempty"`
	Humidity           *float64  `json:"humidity,omitempty"`
	FanSpeed           *string   `json:"fan_speed,omitempty"`
	SwingVertical      *bool     `json:"swing_vertical,omitempty"`
	SwingHorizontal    *bool     `json:"swing_horizontal,omitempty"`
	Eco                *bool     `json:"eco,omitempty"`
	Turbo              *bool     `json:"turbo,omitempty"`
	Long               *bool     `json:"long,omitempty"`
	Unit               Unit      `json:"unit"`
	LastUpdated        time.Time `json:"last_updated"`
	Stale              bool      `json:"stale"`
}

// PendingCommand is an optimistic write awaiting confirmation by a poll.
// It lives only between dispatch and the next successful poll that
// supersedes it; it is never persisted.
type PendingCommand struct {
	DeviceID string    `json:"device_id"`
	Field    string    `json:"field"`
	Value    any       `json:"value"`
	IssuedAt time.Time `json:"issued_at"`

	// gen is the device generation the command was applied at; used to
	// decide whether an in-flight poll predates the command.
	gen uint64
}

// UnsupportedFeatureError is returned when a command targets a capability
// the device does not have. The check is local: no network call is made.
type UnsupportedFeatureError struct {
	DeviceID string
	Feature  string
}

func (e *UnsupportedFeatureError) Error() string {
	return fmt.Sprintf("device %s does not support %s", e.DeviceID, e.Feature)
}

// applyField writes one optimistic field value onto a state record.
func applyField(st *DeviceState, field string, value any) {
	switch field {
	case "power":
		if v, ok := value.(bool); ok {
			st.Power = v
		}
	case "mode":
		if v, ok := value.(string); ok {
			st.Mode = v
		}
	case "target_temperature":
		if v, ok := value.(float64); ok {
			st.TargetTemperature = &v
		}
	case "fan_speed":
		if v, ok := value.(string); ok {
			st.FanSpeed = &v
		}
	case "swing_vertical":
		if v, ok := value.(bool); ok {
			st.SwingVertical = &v
		}
	case "swing_horizontal":
		if v, ok := value.(bool); ok {
			st.SwingHorizontal = &v
		}
	case FlagEco:
		if v, ok := value.(bool); ok {
			st.Eco = &v
		}
	case FlagTurbo:
		if v, ok := value.(bool); ok {
			st.Turbo = &v
		}
	case FlagLong:
		if v, ok := value.(bool); ok {
			st.Long = &v
		}
	}
}
