package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetCredential(t *testing.T) {
	s := newTestStore(t)

	issued := time.Now().Truncate(time.Millisecond)
	cred := &Credential{
		Email:     "user@example.com",
		Token:     "tok-abc123",
		IssuedAt:  issued,
		ExpiresAt: issued.Add(365 * 24 * time.Hour),
	}

	if err := s.SaveCredential(cred); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetCredential()
	if err != nil {
		t.Fatal(err)
	}

	if got.Email != cred.Email {
		t.Errorf("email = %q, want %q", got.Email, cred.Email)
	}
	if got.Token != cred.Token {
		t.Errorf("token = %q, want %q", got.Token, cred.Token)
	}
	if !got.IssuedAt.Equal(cred.IssuedAt) {
		t.Errorf("issued = %v, want %v", got.IssuedAt, cred.IssuedAt)
	}
	if !got.ExpiresAt.Equal(cred.ExpiresAt) {
		t.Errorf("expires = %v, want %v", got.ExpiresAt, cred.ExpiresAt)
	}
}

func TestSaveCredentialReplacesPrior(t *testing.T) {
	s := newTestStore(t)

	old := &Credential{Email: "user@example.com", Token: "old", ExpiresAt: time.Now()}
	if err := s.SaveCredential(old); err != nil {
		t.Fatal(err)
	}
	replacement := &Credential{Email: "user@example.com", Token: "new", ExpiresAt: time.Now().Add(time.Hour)}
	if err := s.SaveCredential(replacement); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetCredential()
	if err != nil {
		t.Fatal(err)
	}
	if got.Token != "new" {
		t.Errorf("token = %q, want %q", got.Token, "new")
	}
}

func TestDeleteCredential(t *testing.T) {
	s := newTestStore(t)

	cred := &Credential{Email: "user@example.com", Token: "tok"}
	if err := s.SaveCredential(cred); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteCredential(); err != nil {
		t.Fatal(err)
	}

	_, err := s.GetCredential()
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetCredentialMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetCredential()
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCredentialExpired(t *testing.T) {
	now := time.Now()
	cred := &Credential{ExpiresAt: now.Add(time.Minute)}

	if cred.Expired(now) {
		t.Error("credential should not be expired before expiry")
	}
	if !cred.Expired(now.Add(time.Minute)) {
		t.Error("credential should be expired exactly at expiry")
	}
	if !cred.Expired(now.Add(time.Hour)) {
		t.Error("credential should be expired after expiry")
	}
}

func TestSaveAndGetSettings(t *testing.T) {
	s := newTestStore(t)

	settings := &Settings{
		DeviceIDs:   []string{"ac1", "ac2"},
		DisplayUnit: UnitCelsius,
	}
	if err := s.SaveSettings(settings); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetSettings()
	if err != nil {
		t.Fatal(err)
	}
	if len(got.DeviceIDs) != 2 || got.DeviceIDs[0] != "ac1" {
		t.Errorf("device_ids = %v", got.DeviceIDs)
	}
	if got.DisplayUnit != UnitCelsius {
		t.Errorf("display_unit = %q", got.DisplayUnit)
	}
}

func TestSettingsSelectionSemantics(t *testing.T) {
	s := newTestStore(t)

	// nil list means all devices.
	all := &Settings{DeviceIDs: nil}
	if err := s.SaveSettings(all); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetSettings()
	if err != nil {
		t.Fatal(err)
	}
	if got.DeviceIDs != nil {
		t.Errorf("device_ids = %v, want nil (all devices)", got.DeviceIDs)
	}
	if !got.Selects("anything") {
		t.Error("nil selection should select every device")
	}

	// Empty non-nil list means none.
	none := &Settings{DeviceIDs: []string{}}
	if none.Selects("ac1") {
		t.Error("empty selection should select no device")
	}

	// Explicit list selects only its members.
	some := &Settings{DeviceIDs: []string{"ac1"}}
	if !some.Selects("ac1") || some.Selects("ac2") {
		t.Error("explicit selection mismatch")
	}
}

func TestGetSettingsMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetSettings()
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
