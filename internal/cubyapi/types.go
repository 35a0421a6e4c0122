package cubyapi

import "encoding/json"

// Token is the result of a successful authentication.
type Token struct {
	Token     string
	ExpiresIn int64 // seconds
}

// tokenResponse tolerates both field spellings the API has used.
type tokenResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Capabilities advertises what a device supports. The cloud omits the
// block entirely for most units, in which case DefaultCapabilities applies.
type Capabilities struct {
	Modes           []string `json:"modes,omitempty"`
	FanSpeeds       []string `json:"fanSpeeds,omitempty"`
	SwingVertical   bool     `json:"verticalVane,omitempty"`
	SwingHorizontal bool     `json:"horizontalVane,omitempty"`
	Flags           []string `json:"flags,omitempty"`
}

// Device is one entry of GET /devices.
type Device struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Alias           string        `json:"alias,omitempty"`
	Model           string        `json:"model,omitempty"`
	FirmwareVersion string        `json:"firmwareVersion,omitempty"`
	Status          string        `json:"status,omitempty"`
	Capabilities    *Capabilities `json:"capabilities,omitempty"`
}

// devicesResponse tolerates both a bare array and a wrapped object.
type devicesResponse struct {
	Devices []Device `json:"devices"`
}

// RawState is the raw document of GET /devices/{id}?getState=true.
// LastState and Data are kept loosely typed; the cloud is inconsistent
// about value types ("on" vs true, "23" vs 23), so interpretation is the
// normalizer's job, not the client's.
type RawState struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Alias           string         `json:"alias,omitempty"`
	Model           string         `json:"model,omitempty"`
	FirmwareVersion string         `json:"firmwareVersion,omitempty"`
	Status          string         `json:"status,omitempty"`
	LastState       map[string]any `json:"lastState"`
	Data            map[string]any `json:"data"`
}

// Command is a control payload for POST /state/{id}. Every payload
// carries a "type" key naming the attribute being set.
type Command map[string]any

// MarshalJSON keeps Command encoding explicit.
func (c Command) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any(c))
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// PowerCommand builds {"type":"power","power":"on"|"off"}.
func PowerCommand(on bool) Command {
	return Command{"type": "power", "power": onOff(on)}
}

// ModeCommand builds {"type":"mode","mode":...,"power":"on"}. Setting a
// mode always powers the unit on, matching the control API contract.
func ModeCommand(mode string) Command {
	return Command{"type": "mode", "mode": mode, "power": "on"}
}

// TemperatureCommand builds {"type":"temperature","temperature":N}.
// The API accepts whole degrees only.
func TemperatureCommand(degrees int) Command {
	return Command{"type": "temperature", "temperature": degrees}
}

// FanCommand builds {"type":"fan","fan":...}.
func FanCommand(speed string) Command {
	return Command{"type": "fan", "fan": speed}
}

// VaneCommand builds a swing payload for axis "verticalVane" or
// "horizontalVane".
func VaneCommand(axis string, on bool) Command {
	return Command{"type": axis, axis: onOff(on)}
}

// FlagCommand builds a toggle payload for "eco", "turbo" or "long".
func FlagCommand(flag string, on bool) Command {
	return Command{"type": flag, flag: onOff(on)}
}
