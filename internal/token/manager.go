// Package token owns the device push token and its registration with the backend.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/singleflight"

	"github.com/dukerupert/schoolpush/internal/backend"
	"github.com/dukerupert/schoolpush/internal/metrics"
	"github.com/dukerupert/schoolpush/internal/model"
)

// ErrTokenAcquisition wraps failures from the push provider.
var ErrTokenAcquisition = errors.New("token acquisition failed")

// Provider is the push provider's token API.
type Provider interface {
	AcquireToken(ctx context.Context, credentialKey, receiverHandle string) (string, error)
}

// Registrar delivers a registration to the backend.
type Registrar interface {
	Register(ctx context.Context, reg backend.Registration) error
}

// Store persists the device token. The Manager is its only writer.
type Store interface {
	LoadDeviceToken() (*model.DeviceToken, error)
	SaveDeviceToken(tok model.DeviceToken) error
}

// PermissionSource reports the current notification permission.
type PermissionSource interface {
	Current() model.PermissionState
}

type Config struct {
	CredentialKey  string
	ReceiverHandle string
	Platform       string
	Attempts       int
	RetryBase      time.Duration
	AttemptTimeout time.Duration
}

// Manager acquires, caches and registers the device token.
type Manager struct {
	provider  Provider
	registrar Registrar
	store     Store
	perm      PermissionSource
	cfg       Config
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics

	group singleflight.Group

	mu         sync.Mutex
	token      *model.DeviceToken
	markers    map[string]struct{}
	sessionTok string
}

// NewManager loads any persisted token. A token that cannot be read is
// treated as absent.
func NewManager(provider Provider, registrar Registrar, store Store, perm PermissionSource, cfg Config, clk clock.Clock, logger *slog.Logger, m *metrics.Metrics) *Manager {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	if clk == nil {
		clk = clock.New()
	}

	mgr := &Manager{
		provider:  provider,
		registrar: registrar,
		store:     store,
		perm:      perm,
		cfg:       cfg,
		clock:     clk,
		logger:    logger.With("component", "token"),
		metrics:   m,
		markers:   make(map[string]struct{}),
	}

	tok, err := store.LoadDeviceToken()
	if err != nil {
		mgr.logger.Warn("load device token", "error", err)
	} else if tok != nil {
		mgr.token = tok
	}
	return mgr
}

// BindSession ties registration results to sess. A registered or pending
// status left over from an earlier session is reset, since markers do not
// survive a logout.
func (m *Manager) BindSession(sess model.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessionTok = sess.Token
	if m.token != nil {
		switch m.token.RegistrationStatus {
		case model.RegistrationRegistered, model.RegistrationPending:
			m.token.RegistrationStatus = model.RegistrationUnregistered
		}
	}
}

// ClearOnLogout drops every marker and the session binding. The persisted
// token is kept; it belongs to the device.
func (m *Manager) ClearOnLogout() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.markers = make(map[string]struct{})
	m.sessionTok = ""
}

// Status returns a copy of the current token, if any.
func (m *Manager) Status() (model.DeviceToken, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil {
		return model.DeviceToken{}, false
	}
	return *m.token, true
}

// IsRegistered reports whether token was registered for userID in this session.
func (m *Manager) IsRegistered(userID, token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.markers[markerKey(userID, token)]
	return ok
}

// EnsureToken returns a usable token, acquiring one from the provider when
// none is cached or the cached one failed. It returns nil without error when
// permission is not granted.
func (m *Manager) EnsureToken(ctx context.Context) (*model.DeviceToken, error) {
	if m.perm.Current() != model.PermissionGranted {
		return nil, nil
	}

	m.mu.Lock()
	if m.token != nil && m.token.RegistrationStatus != model.RegistrationFailed {
		tok := *m.token
		m.mu.Unlock()
		return &tok, nil
	}
	m.mu.Unlock()

	return m.acquireShared(ctx)
}

// acquireShared runs at most one provider acquisition at a time. Callers
// that missed the cache while another acquisition was finishing get its
// token instead of a second provider call.
func (m *Manager) acquireShared(ctx context.Context) (*model.DeviceToken, error) {
	v, err, _ := m.group.Do("acquire", func() (any, error) {
		m.mu.Lock()
		if m.token != nil && m.token.RegistrationStatus != model.RegistrationFailed {
			tok := *m.token
			m.mu.Unlock()
			return tok, nil
		}
		m.mu.Unlock()
		return m.acquire(ctx)
	})
	if err != nil {
		return nil, err
	}
	tok := v.(model.DeviceToken)
	return &tok, nil
}

func (m *Manager) acquire(ctx context.Context) (model.DeviceToken, error) {
	value, err := m.provider.AcquireToken(ctx, m.cfg.CredentialKey, m.cfg.ReceiverHandle)
	if err == nil && value == "" {
		err = errors.New("provider returned an empty token")
	}
	if err != nil {
		m.metrics.TokenAcquisition("error")
		m.logger.Warn("acquire token", "error", err)
		return model.DeviceToken{}, fmt.Errorf("%w: %w", ErrTokenAcquisition, err)
	}
	m.metrics.TokenAcquisition("ok")

	m.mu.Lock()
	tok := model.DeviceToken{
		Value:              value,
		AcquiredAt:         m.clock.Now().UTC(),
		RegistrationStatus: model.RegistrationUnregistered,
	}
	if m.token != nil && m.token.Value == value {
		tok.AcquiredAt = m.token.AcquiredAt
	}
	m.token = &tok
	m.mu.Unlock()

	m.persist(tok)
	m.logger.Info("device token acquired", "token", model.Redact(value))
	return tok, nil
}

// RegisterWithBackend associates token with the user of sess. It never
// fails the caller: errors are logged and leave the token marked failed.
// Calls made on behalf of a session that is no longer bound are ignored.
// Concurrent calls for the same session and pair share one registration.
func (m *Manager) RegisterWithBackend(ctx context.Context, sess model.Session, token string) {
	if token == "" || sess.UserID == "" {
		return
	}
	key := markerKey(sess.UserID, token)

	m.mu.Lock()
	if m.sessionTok == "" || m.sessionTok != sess.Token {
		m.mu.Unlock()
		m.logger.Debug("ignoring registration for an unbound session", "user_id", sess.UserID)
		return
	}
	if _, ok := m.markers[key]; ok {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.group.Do("register\x00"+sess.Token+"\x00"+key, func() (any, error) {
		m.mu.Lock()
		if m.sessionTok != sess.Token {
			m.mu.Unlock()
			return nil, nil
		}
		if _, ok := m.markers[key]; ok {
			m.mu.Unlock()
			return nil, nil
		}
		reg := backend.Registration{
			UserID:      sess.UserID,
			Role:        sess.Role,
			Token:       token,
			Platform:    m.cfg.Platform,
			AccessToken: sess.AccessToken,
		}
		m.setStatusLocked(token, model.RegistrationPending)
		m.mu.Unlock()

		err := m.register(ctx, reg)

		m.mu.Lock()
		if m.sessionTok != sess.Token {
			m.mu.Unlock()
			m.logger.Debug("discarding registration result from ended session", "user_id", sess.UserID)
			return nil, nil
		}
		if err != nil {
			m.setStatusLocked(token, model.RegistrationFailed)
		} else {
			m.markers[key] = struct{}{}
			m.setStatusLocked(token, model.RegistrationRegistered)
		}
		var snapshot *model.DeviceToken
		if m.token != nil && m.token.Value == token {
			tok := *m.token
			snapshot = &tok
		}
		m.mu.Unlock()

		if snapshot != nil {
			m.persist(*snapshot)
		}
		if err != nil {
			m.logger.Error("device token registration abandoned",
				"user_id", sess.UserID, "token", model.Redact(token), "error", err)
		} else {
			m.logger.Info("device token registered", "user_id", sess.UserID, "token", model.Redact(token))
		}
		return nil, nil
	})
}

func (m *Manager) register(ctx context.Context, reg backend.Registration) error {
	b := retry.WithMaxRetries(uint64(m.cfg.Attempts-1), retry.NewExponential(m.cfg.RetryBase))

	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		actx, cancel := context.WithTimeout(ctx, m.cfg.AttemptTimeout)
		defer cancel()

		err := m.registrar.Register(actx, reg)
		if err == nil {
			m.metrics.RegistrationAttempt("ok")
			return nil
		}
		m.metrics.RegistrationAttempt("error")
		m.logger.Warn("registration attempt failed", "attempt", attempt, "of", m.cfg.Attempts, "error", err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if backend.IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// Invalidate marks token failed so the next EnsureToken acquires a fresh one.
// Used when the push service reports the subscription gone.
func (m *Manager) Invalidate(token string) {
	m.mu.Lock()
	if m.token == nil || m.token.Value != token {
		m.mu.Unlock()
		return
	}
	m.token.RegistrationStatus = model.RegistrationFailed
	for key := range m.markers {
		if strings.HasSuffix(key, "\x00"+token) {
			delete(m.markers, key)
		}
	}
	tok := *m.token
	m.mu.Unlock()

	m.persist(tok)
	m.logger.Warn("device token invalidated", "token", model.Redact(token))
}

func (m *Manager) setStatusLocked(token string, status model.RegistrationStatus) {
	if m.token != nil && m.token.Value == token {
		m.token.RegistrationStatus = status
	}
}

func (m *Manager) persist(tok model.DeviceToken) {
	if err := m.store.SaveDeviceToken(tok); err != nil {
		m.logger.Error("save device token", "error", err)
	}
}

func markerKey(userID, token string) string {
	return userID + "\x00" + token
}
