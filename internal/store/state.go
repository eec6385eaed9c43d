package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dukerupert/schoolpush/internal/model"
)

// Keys of the durable client entries.
const (
	KeyDeviceToken     = "device_token"
	KeyPromptDismissed = "notificationPromptDismissed"
	KeyVAPIDPublic     = "vapid_public_key"
	KeyVAPIDPrivate    = "vapid_private_key"
)

// StateStore is a plain key/value store for per-device client state.
type StateStore struct {
	db *sql.DB
}

func NewStateStore(db *sql.DB) *StateStore {
	return &StateStore{db: db}
}

// Get returns the value for key and whether it exists.
func (s *StateStore) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM client_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get state %q: %w", key, err)
	}
	return value, true, nil
}

func (s *StateStore) Set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO client_state (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set state %q: %w", key, err)
	}
	return nil
}

func (s *StateStore) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM client_state WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete state %q: %w", key, err)
	}
	return nil
}

// LoadDeviceToken returns the persisted device token, or nil if none was saved.
func (s *StateStore) LoadDeviceToken() (*model.DeviceToken, error) {
	raw, ok, err := s.Get(KeyDeviceToken)
	if err != nil || !ok {
		return nil, err
	}
	var tok model.DeviceToken
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return nil, fmt.Errorf("decode device token: %w", err)
	}
	if tok.Value == "" {
		return nil, nil
	}
	return &tok, nil
}

func (s *StateStore) SaveDeviceToken(tok model.DeviceToken) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode device token: %w", err)
	}
	return s.Set(KeyDeviceToken, string(data))
}

// PromptDismissed reports whether the user turned the notification prompt off for good.
func (s *StateStore) PromptDismissed() (bool, error) {
	raw, ok, err := s.Get(KeyPromptDismissed)
	if err != nil || !ok {
		return false, err
	}
	dismissed, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", KeyPromptDismissed, err)
	}
	return dismissed, nil
}

func (s *StateStore) SetPromptDismissed(dismissed bool) error {
	return s.Set(KeyPromptDismissed, strconv.FormatBool(dismissed))
}
