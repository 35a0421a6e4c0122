package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketAuth     = []byte("auth")
	bucketSettings = []byte("settings")
	keyCredential  = []byte("credential")
	keySettings    = []byte("bridge")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketAuth, bucketSettings} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) SaveCredential(cred *Credential) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAuth)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketAuth)
		}
		// Use internal storage struct to persist the token.
		st := credentialStorage{
			Email:     cred.Email,
			Token:     cred.Token,
			IssuedAt:  cred.IssuedAt,
			ExpiresAt: cred.ExpiresAt,
		}
		data, err := json.Marshal(st)
		if err != nil {
			return err
		}
		return b.Put(keyCredential, data)
	})
}

func (s *BoltStore) GetCredential() (*Credential, error) {
	var cred Credential
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAuth)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketAuth)
		}
		data := b.Get(keyCredential)
		if data == nil {
			return fmt.Errorf("credential: %w", ErrNotFound)
		}
		// Deserialize via internal storage struct to recover the token.
		var st credentialStorage
		if err := json.Unmarshal(data, &st); err != nil {
			return err
		}
		cred = Credential{
			Email:     st.Email,
			Token:     st.Token,
			IssuedAt:  st.IssuedAt,
			ExpiresAt: st.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func (s *BoltStore) DeleteCredential() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAuth)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketAuth)
		}
		return b.Delete(keyCredential)
	})
}

func (s *BoltStore) SaveSettings(settings *Settings) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSettings)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketSettings)
		}
		data, err := json.Marshal(settings)
		if err != nil {
			return err
		}
		return b.Put(keySettings, data)
	})
}

func (s *BoltStore) GetSettings() (*Settings, error) {
	var settings Settings
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSettings)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketSettings)
		}
		data := b.Get(keySettings)
		if data == nil {
			return fmt.Errorf("settings: %w", ErrNotFound)
		}
		return json.Unmarshal(data, &settings)
	})
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
