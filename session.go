package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Session is a handle on the state of one client session. It holds no state itself, every read and
// write goes to the SessionStore under the session id, so handles for the same id created by
// different engine processes see the same values.
type Session struct {
	id           string
	store        SessionStore
	ttl          time.Duration
	defaultLevel LogLevel
}

// LoggingManager holds the minimum severity a session wants to receive as log notifications.
type LoggingManager struct {
	session *Session
}

type sessionContextKey struct{}

const (
	// DefaultSessionTTL bounds how long session state outlives its last write.
	DefaultSessionTTL = 24 * time.Hour

	sessionKeyInitialized        = "initialized"
	sessionKeyClientReady        = "client_ready"
	sessionKeyProtocolVersion    = "protocol_version"
	sessionKeyClientInfo         = "client_info"
	sessionKeyClientCapabilities = "client_capabilities"
	sessionKeyLogLevel           = "log_level"
)

// NewSession returns a handle for id backed by store. A ttl of zero or less uses DefaultSessionTTL.
func NewSession(id string, store SessionStore, ttl time.Duration) *Session {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Session{id: id, store: store, ttl: ttl, defaultLevel: LogLevelDebug}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Get returns the raw value under key.
func (s *Session) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return s.store.Get(ctx, s.id, key)
}

// Set stores value under key, refreshing its ttl.
func (s *Session) Set(ctx context.Context, key string, value []byte) error {
	return s.store.Set(ctx, s.id, key, value, s.ttl)
}

// Has reports whether key holds a live value.
func (s *Session) Has(ctx context.Context, key string) (bool, error) {
	return s.store.Has(ctx, s.id, key)
}

// Forget removes key.
func (s *Session) Forget(ctx context.Context, key string) error {
	return s.store.Forget(ctx, s.id, key)
}

// GetJSON decodes the value under key into v. It reports false when the key is missing.
func (s *Session) GetJSON(ctx context.Context, key string, v any) (bool, error) {
	bs, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(bs, v); err != nil {
		return false, fmt.Errorf("failed to decode session value %q: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key.
func (s *Session) SetJSON(ctx context.Context, key string, v any) error {
	bs, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode session value %q: %w", key, err)
	}
	return s.Set(ctx, key, bs)
}

// Initialized reports whether the session completed initialize.
func (s *Session) Initialized(ctx context.Context) (bool, error) {
	return s.Has(ctx, sessionKeyInitialized)
}

// ProtocolVersion returns the protocol revision negotiated during initialize.
func (s *Session) ProtocolVersion(ctx context.Context) (string, error) {
	var v string
	_, err := s.GetJSON(ctx, sessionKeyProtocolVersion, &v)
	return v, err
}

// ClientInfo returns the client implementation announced during initialize.
func (s *Session) ClientInfo(ctx context.Context) (Info, error) {
	var info Info
	_, err := s.GetJSON(ctx, sessionKeyClientInfo, &info)
	return info, err
}

// ClientCapabilities returns the capabilities announced by the client during initialize.
func (s *Session) ClientCapabilities(ctx context.Context) (ClientCapabilities, error) {
	var caps ClientCapabilities
	_, err := s.GetJSON(ctx, sessionKeyClientCapabilities, &caps)
	return caps, err
}

// Logging returns the log level manager of the session.
func (s *Session) Logging() *LoggingManager {
	return &LoggingManager{session: s}
}

func (s *Session) markInitialized(ctx context.Context, params initializeParams, version string) error {
	if err := s.SetJSON(ctx, sessionKeyProtocolVersion, version); err != nil {
		return err
	}
	if err := s.SetJSON(ctx, sessionKeyClientInfo, params.ClientInfo); err != nil {
		return err
	}
	if err := s.SetJSON(ctx, sessionKeyClientCapabilities, params.Capabilities); err != nil {
		return err
	}
	return s.Set(ctx, sessionKeyInitialized, []byte("1"))
}

// SetLevel changes the minimum level of log notifications sent to the session.
func (m *LoggingManager) SetLevel(ctx context.Context, level LogLevel) error {
	return m.session.SetJSON(ctx, sessionKeyLogLevel, level)
}

// Level returns the minimum level of the session, or the engine default when none was set.
func (m *LoggingManager) Level(ctx context.Context) (LogLevel, error) {
	level := m.session.defaultLevel
	if _, err := m.session.GetJSON(ctx, sessionKeyLogLevel, &level); err != nil {
		return m.session.defaultLevel, err
	}
	return level, nil
}

// ShouldEmit reports whether a log notification of level passes the session filter.
func (m *LoggingManager) ShouldEmit(ctx context.Context, level LogLevel) (bool, error) {
	threshold, err := m.Level(ctx)
	if err != nil {
		return false, err
	}
	return level >= threshold, nil
}

// SessionFromContext returns the session of the request being handled, if any.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(*Session)
	return s, ok
}

func contextWithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}
