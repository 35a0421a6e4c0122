package store

import "time"

// Credential is a stored cloud session token. The cloud issues 365-day
// tokens; there is no refresh grant, so an expired credential always
// requires a fresh interactive login.
// The token itself is hidden from API/JSON serialization via json:"-".
type Credential struct {
	Email     string    `json:"email"`
	Token     string    `json:"-"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the credential is past its expiry at the given time.
func (c *Credential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// credentialStorage is the internal struct used for DB serialization,
// preserving the token on disk.
type credentialStorage struct {
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DisplayUnit values for Settings.
const (
	UnitFollowDevice = "follow_device"
	UnitCelsius      = "celsius"
	UnitFahrenheit   = "fahrenheit"
)

// Settings holds the user-editable bridge configuration.
// DeviceIDs follows the account setup semantics: nil means expose every
// discovered device, an empty (non-nil) list means expose none.
type Settings struct {
	DeviceIDs   []string `json:"device_ids"`
	DisplayUnit string   `json:"display_unit"`
}

// Selects reports whether the settings expose the given device.
func (s *Settings) Selects(deviceID string) bool {
	if s == nil || s.DeviceIDs == nil {
		return true
	}
	for _, id := range s.DeviceIDs {
		if id == deviceID {
			return true
		}
	}
	return false
}
