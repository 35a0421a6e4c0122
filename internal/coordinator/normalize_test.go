package coordinator

import (
	"errors"
	"math"
	"testing"
	"time"

	"cuby-bridge/internal/cubyapi"
)

func floatPtr(v float64) *float64 { return &v }
func strPtr(v string) *string     { return &v }
func boolPtr(v bool) *bool        { return &v }

func TestNormalizeFullPayload(t *testing.T) {
	raw := cubyapi.RawState{
		ID: "ac1",
		LastState: map[string]any{
			"power":          "on",
			"mode":           "cool",
			"fan":            "high",
			"temperature":    float64(22),
			"units":          "c",
			"verticalVane":   "on",
			"horizontalVane": "off",
			"eco":            "off",
			"turbo":          "on",
			"long":           "off",
		},
		Data: map[string]any{
			"temperature": 24.5,
			"humidity":    float64(55),
		},
	}

	now := time.Now()
	st, err := Normalize("ac1", raw, nil, now)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if !st.Power {
		t.Error("expected power on")
	}
	if st.Mode != ModeCool {
		t.Errorf("mode = %q, want cool", st.Mode)
	}
	if st.FanSpeed == nil || *st.FanSpeed != FanHigh {
		t.Errorf("fan = %v, want high", st.FanSpeed)
	}
	if st.TargetTemperature == nil || *st.TargetTemperature != 22 {
		t.Errorf("target = %v, want 22", st.TargetTemperature)
	}
	if st.Unit != UnitCelsius {
		t.Errorf("unit = %q, want C", st.Unit)
	}
	if st.SwingVertical == nil || !*st.SwingVertical {
		t.Error("expected vertical swing on")
	}
	if st.SwingHorizontal == nil || *st.SwingHorizontal {
		t.Error("expected horizontal swing off")
	}
	if st.Turbo == nil || !*st.Turbo {
		t.Error("expected turbo on")
	}
	if st.CurrentTemperature == nil || *st.CurrentTemperature != 24.5 {
		t.Errorf("current = %v, want 24.5", st.CurrentTemperature)
	}
	if st.Humidity == nil || *st.Humidity != 55 {
		t.Errorf("humidity = %v, want 55", st.Humidity)
	}
	if !st.LastUpdated.Equal(now) {
		t.Error("LastUpdated not set")
	}
	if st.Stale {
		t.Error("fresh record marked stale")
	}
}

func TestNormalizeNullTemperatureRetainsPrevious(t *testing.T) {
	prev := &DeviceState{
		DeviceID:          "ac1",
		Power:             false,
		Mode:              ModeHeat,
		TargetTemperature: floatPtr(24),
		Unit:              UnitCelsius,
	}
	raw := cubyapi.RawState{
		LastState: map[string]any{
			"power":       "1",
			"temperature": nil,
			"units":       "c",
		},
	}

	st, err := Normalize("ac1", raw, prev, time.Now())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !st.Power {
		t.Error("power \"1\" should coerce to true")
	}
	if st.TargetTemperature == nil || *st.TargetTemperature != 24 {
		t.Errorf("target = %v, want previous 24", st.TargetTemperature)
	}
	if st.Mode != ModeHeat {
		t.Errorf("mode = %q, want previous heat", st.Mode)
	}
}

func TestNormalizeAbsentFanIsNil(t *testing.T) {
	raw := cubyapi.RawState{
		LastState: map[string]any{"power": "on", "mode": "cool"},
	}
	st, err := Normalize("ac1", raw, nil, time.Now())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if st.FanSpeed != nil {
		t.Errorf("fan = %v, want nil for absent field", *st.FanSpeed)
	}
	if st.SwingVertical != nil || st.Eco != nil {
		t.Error("absent optional fields must stay nil")
	}
}

func TestNormalizeInvalidFanRetainsPrevious(t *testing.T) {
	prev := &DeviceState{DeviceID: "ac1", FanSpeed: strPtr(FanLow), Unit: UnitCelsius, Mode: ModeAuto}
	raw := cubyapi.RawState{
		LastState: map[string]any{"power": "on", "fan": "warp9"},
	}
	st, err := Normalize("ac1", raw, prev, time.Now())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if st.FanSpeed == nil || *st.FanSpeed != FanLow {
		t.Errorf("fan = %v, want previous low", st.FanSpeed)
	}
}

func TestNormalizeEmptyPayload(t *testing.T) {
	_, err := Normalize("ac1", cubyapi.RawState{}, nil, time.Now())
	var merr *cubyapi.MalformedResponseError
	if !errors.As(err, &merr) {
		t.Fatalf("err = %v, want MalformedResponseError", err)
	}
}

func TestNormalizeFahrenheitUnits(t *testing.T) {
	raw := cubyapi.RawState{
		LastState: map[string]any{
			"power":       true,
			"temperature": float64(72),
			"units":       "F",
		},
	}
	st, err := Normalize("ac1", raw, nil, time.Now())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if st.Unit != UnitFahrenheit {
		t.Errorf("unit = %q, want F", st.Unit)
	}
	if st.TargetTemperature == nil || *st.TargetTemperature != 72 {
		t.Errorf("target = %v, want 72 in native unit", st.TargetTemperature)
	}
}

func TestConvertTempRoundTrip(t *testing.T) {
	cases := []struct {
		c, f float64
	}{
		{0, 32},
		{16, 60.8},
		{25, 77},
		{30, 86},
	}
	for _, tc := range cases {
		if got := CToF(tc.c); math.Abs(got-tc.f) > 1e-9 {
			t.Errorf("CToF(%v) = %v, want %v", tc.c, got, tc.f)
		}
		if got := FToC(tc.f); math.Abs(got-tc.c) > 1e-9 {
			t.Errorf("FToC(%v) = %v, want %v", tc.f, got, tc.c)
		}
		rt := FToC(CToF(tc.c))
		if math.Abs(rt-tc.c) > 1e-9 {
			t.Errorf("round trip C->F->C for %v drifted to %v", tc.c, rt)
		}
	}
	if got := ConvertTemp(25, UnitCelsius, UnitCelsius); got != 25 {
		t.Errorf("same-unit conversion changed value: %v", got)
	}
}

func TestCoerceBool(t *testing.T) {
	cases := []struct {
		in   any
		want bool
		ok   bool
	}{
		{"on", true, true},
		{"off", false, true},
		{"1", true, true},
		{"0", false, true},
		{" ON ", true, true},
		{true, true, true},
		{float64(0), false, true},
		{float64(2), true, true},
		{"maybe", false, false},
		{nil, false, false},
		{[]string{"on"}, false, false},
	}
	for _, tc := range cases {
		got, ok := coerceBool(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("coerceBool(%#v) = (%v, %v), want (%v, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestCoerceFloat(t *testing.T) {
	cases := []struct {
		in   any
		want float64
		ok   bool
	}{
		{float64(21.5), 21.5, true},
		{7, 7, true},
		{"22", 22, true},
		{" 18.5 ", 18.5, true},
		{"cold", 0, false},
		{nil, 0, false},
		{true, 0, false},
	}
	for _, tc := range cases {
		got, ok := coerceFloat(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("coerceFloat(%#v) = (%v, %v), want (%v, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
