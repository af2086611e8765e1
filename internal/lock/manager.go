// Package lock serializes PTZ access to a camera with renewable leases.
//
// A lease is granted to the first caller that finds the camera free and is
// identified by an unguessable token. Presenting the token again renews the
// lease; staying silent for the auto-release delay frees it.
package lock

import (
	"crypto/subtle"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// DefaultDelay is the inactivity period after which a lease is dropped
const DefaultDelay = 10 * time.Second

// ErrBusy is returned when another session owns the camera
var ErrBusy = errors.New("lock is held by another session")

// Config for a lock Manager
type Config struct {
	Camera string        // Camera id, used in logs
	Delay  time.Duration // Auto-release delay, defaults to DefaultDelay

	// OnExpire is called, outside the critical section, after a lease
	// was dropped for inactivity
	OnExpire func(camera string)
}

// Manager guards the PTZ controls of one camera
type Manager struct {
	camera   string
	delay    time.Duration
	onExpire func(string)
	log      *log.Entry

	mu    sync.Mutex
	token string // empty when released
	timer *time.Timer
	// session identifies the armed timer; a timer whose session no
	// longer matches was cancelled and must not release anything
	session uint64
	closed  bool
}

// New creates a Manager in the released state
func New(cfg Config) *Manager {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	return &Manager{
		camera:   cfg.Camera,
		delay:    cfg.Delay,
		onExpire: cfg.OnExpire,
		log:      log.WithField("camera", cfg.Camera),
	}
}

// TryAcquireOrRenew grants or extends the lease.
//
// A free camera is locked under a fresh token. A held camera is renewed when
// presented matches the current token and ErrBusy is returned otherwise.
func (m *Manager) TryAcquireOrRenew(presented string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", ErrBusy
	}

	if m.token == "" {
		m.token = newToken()
		m.arm()
		m.log.Info("PTZ lock acquired")
		return m.token, nil
	}

	if !m.matches(presented) {
		return "", ErrBusy
	}

	m.arm()
	m.log.Debug("PTZ lock renewed")
	return m.token, nil
}

// Release frees the lease if presented is the current token.
// Stale or foreign tokens are ignored. It reports whether the lock was released.
func (m *Manager) Release(presented string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token == "" || !m.matches(presented) {
		return false
	}
	m.disarm()
	m.token = ""
	m.log.Info("PTZ lock released")
	return true
}

// Held reports whether a lease is currently active
func (m *Manager) Held() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token != ""
}

// Close drops any lease and refuses further acquisitions
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.disarm()
	m.token = ""
	m.closed = true
}

func (m *Manager) matches(presented string) bool {
	return presented != "" && subtle.ConstantTimeCompare([]byte(presented), []byte(m.token)) == 1
}

// arm cancels the running timer, if any, then schedules a new one.
// Must be called with mu held.
func (m *Manager) arm() {
	m.disarm()
	session := m.session
	m.timer = time.AfterFunc(m.delay, func() { m.expire(session) })
}

// disarm stops the timer and invalidates its session so that a callback
// already in flight becomes a no-op. Must be called with mu held.
func (m *Manager) disarm() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.session++
}

func (m *Manager) expire(session uint64) {
	m.mu.Lock()
	if session != m.session || m.token == "" {
		m.mu.Unlock()
		return
	}
	m.token = ""
	m.timer = nil
	m.session++
	m.mu.Unlock()

	m.log.Infof("PTZ lock released after %s of inactivity", m.delay)
	if m.onExpire != nil {
		m.onExpire(m.camera)
	}
}

// newToken returns a random (v4) UUID as 32 hex characters
func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
