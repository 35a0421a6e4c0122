package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface. It holds only what must
// survive a restart: the account credential and the bridge settings.
// Device state is never persisted; it is rebuilt from the cloud on start.
type Store interface {
	// Credential operations. SaveCredential replaces any prior credential
	// wholesale; credentials are never mutated in place.
	SaveCredential(cred *Credential) error
	GetCredential() (*Credential, error)
	DeleteCredential() error

	// Bridge settings (device selection, display unit).
	SaveSettings(s *Settings) error
	GetSettings() (*Settings, error)

	// Close the store
	Close() error
}
