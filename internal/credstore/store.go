package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoSession indicates no session document is stored.
	ErrNoSession = errors.New("no stored session")
	// ErrDeviceMismatch indicates the stored session was written by another device.
	ErrDeviceMismatch = errors.New("stored session is bound to another device")
)

// Backend persists an opaque session document.
//
// Backends never interpret the document; encoding and binding checks belong
// to Store. A missing document is reported as ErrNoSession.
type Backend interface {
	// Read returns the stored document. Returns ErrNoSession if none exists.
	Read(ctx context.Context) ([]byte, error)

	// Write persists the document, replacing any previous one.
	Write(ctx context.Context, data []byte) error

	// Delete removes the document. Deleting an absent document is not an error.
	Delete(ctx context.Context) error
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithDeviceID binds the store to a device identity. Saved sessions are
// stamped with the identity and sessions stamped by another device are
// rejected on load.
func WithDeviceID(id string) StoreOption {
	return func(s *Store) {
		s.deviceID = id
	}
}

// Store reads and writes the session document through a Backend, owning JSON
// encoding and the device-binding check. Methods are safe for concurrent use
// to the extent the backend is; the pipeline serializes writes itself.
type Store struct {
	backend  Backend
	deviceID string
}

// NewStore creates a Store over the given backend.
func NewStore(backend Backend, opts ...StoreOption) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("missing backend")
	}

	s := &Store{backend: backend}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Load returns the stored session. Returns ErrNoSession when nothing is
// stored and ErrDeviceMismatch when the document belongs to another device.
func (s *Store) Load(ctx context.Context) (Session, error) {
	data, err := s.backend.Read(ctx)
	if err != nil {
		return Session{}, err
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, fmt.Errorf("decoding session document: %w", err)
	}

	if err := s.checkBinding(sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Save persists the session, stamping the store's device identity and the
// save time. Only the refresh success path, a fresh login, and logout may
// call this.
func (s *Store) Save(ctx context.Context, sess Session) error {
	if s.deviceID != "" {
		sess.DeviceID = s.deviceID
	}
	sess.SavedAt = time.Now().UTC()

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session document: %w", err)
	}
	return s.backend.Write(ctx, data)
}

// Clear removes the stored session. Clearing an empty store is not an error.
func (s *Store) Clear(ctx context.Context) error {
	return s.backend.Delete(ctx)
}

// ValidateDeviceBinding checks that any stored session belongs to this
// device. An empty store validates clean; a document stamped by another
// device returns ErrDeviceMismatch.
func (s *Store) ValidateDeviceBinding(ctx context.Context) error {
	data, err := s.backend.Read(ctx)
	if errors.Is(err, ErrNoSession) {
		return nil
	}
	if err != nil {
		return err
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return fmt.Errorf("decoding session document: %w", err)
	}
	return s.checkBinding(sess)
}

func (s *Store) checkBinding(sess Session) error {
	// Unstamped documents predate binding and stay readable; binding is
	// enforced only when both sides carry an identity.
	if s.deviceID == "" || sess.DeviceID == "" {
		return nil
	}
	if sess.DeviceID != s.deviceID {
		return ErrDeviceMismatch
	}
	return nil
}
