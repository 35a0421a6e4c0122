package coordinator

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"cuby-bridge/internal/cubyapi"
)

// Normalize converts a raw cloud state document into a canonical
// DeviceState. It is a pure function.
//
// Numeric fields that are missing, null, or non-numeric fall back to the
// previous record's value (never to zero), and the result still counts as
// a successful update. Fan and swing fields absent from the payload map
// to nil (unsupported), not to off. Only a payload with no usable state
// at all fails, with a MalformedResponseError.
func Normalize(deviceID string, raw cubyapi.RawState, prev *DeviceState, now time.Time) (DeviceState, error) {
	last := raw.LastState
	data := raw.Data
	if len(last) == 0 && len(data) == 0 {
		return DeviceState{}, &cubyapi.MalformedResponseError{
			Op:  "normalize " + deviceID,
			Err: errors.New("payload carries no state"),
		}
	}

	st := DeviceState{
		DeviceID:    deviceID,
		Unit:        UnitCelsius,
		Mode:        ModeAuto,
		LastUpdated: now,
	}
	if prev != nil {
		st.Unit = prev.Unit
		st.Mode = prev.Mode
	}

	if u, ok := coerceString(last["units"]); ok {
		switch strings.ToLower(u) {
		case "c":
			st.Unit = UnitCelsius
		case "f":
			st.Unit = UnitFahrenheit
		}
	}

	if p, ok := coerceBool(last["power"]); ok {
		st.Power = p
	} else if prev != nil {
		st.Power = prev.Power
	}

	if m, ok := coerceString(last["mode"]); ok {
		m = strings.ToLower(m)
		if contains(DefaultCapabilities().Modes, m) {
			st.Mode = m
		}
	}

	if v, ok := coerceFloat(last["temperature"]); ok {
		st.TargetTemperature = &v
	} else if prev != nil {
		st.TargetTemperature = prev.TargetTemperature
	}

	if rawFan, present := last["fan"]; present {
		if f, ok := coerceString(rawFan); ok {
			f = strings.ToLower(f)
			if contains(DefaultCapabilities().FanSpeeds, f) {
				st.FanSpeed = &f
			}
		}
		if st.FanSpeed == nil && prev != nil {
			st.FanSpeed = prev.FanSpeed
		}
	}

	st.SwingVertical = coerceOptionalBool(last, "verticalVane")
	st.SwingHorizontal = coerceOptionalBool(last, "horizontalVane")
	st.Eco = coerceOptionalBool(last, FlagEco)
	st.Turbo = coerceOptionalBool(last, FlagTurbo)
	st.Long = coerceOptionalBool(last, FlagLong)

	if v, ok := coerceFloat(data["temperature"]); ok {
		st.CurrentTemperature = &v
	} else if prev != nil {
		st.CurrentTemperature = prev.CurrentTemperature
	}
	if v, ok := coerceFloat(data["humidity"]); ok {
		st.Humidity = &v
	} else if prev != nil {
		st.Humidity = prev.Humidity
	}

	return st, nil
}

// coerceOptionalBool maps an absent key to nil, distinguishing a missing
// capability from a reported off state.
func coerceOptionalBool(m map[string]any, key string) *bool {
	raw, present := m[key]
	if !present {
		return nil
	}
	if b, ok := coerceBool(raw); ok {
		return &b
	}
	return nil
}

// coerceBool interprets the value spellings the cloud has been seen to
// use for boolean-like fields: "on"/"off", "1"/"0", true/false, numbers.
func coerceBool(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case float64:
		return val != 0, true
	case int:
		return val != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "on", "true", "yes", "1":
			return true, true
		case "off", "false", "no", "0":
			return false, true
		}
	}
	return false, false
}

// coerceFloat accepts numbers and numeric strings; anything else
// (including null) is rejected so the caller can retain the prior value.
func coerceFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func coerceString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return strings.TrimSpace(s), true
}
