// Package connection owns the lifecycle of the single transport connection.
//
//	disconnected -> connecting -> connected
//	connected -> reconnecting -> connected   (transport-detected loss)
//	any -> disconnected                      (Disconnect)
//
// Failed attempts are retried forever on a fixed delay. Every transition into
// connected fires the OnConnected listeners exactly once.
//
// Manager methods must be called from the engine loop. Dial results, retry timers,
// and loss notifications are posted back to that loop.
package connection

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/roomchat/pkg/session"
	"github.com/go-go-golems/roomchat/pkg/transport"
)

// DefaultRetryDelay is the fixed pause between connection attempts.
const DefaultRetryDelay = 5 * time.Second

// Poster schedules work on the engine loop.
type Poster interface {
	Post(fn func()) bool
}

type Config struct {
	Dialer     transport.Dialer
	Session    *session.State
	Poster     Poster
	RetryDelay time.Duration
	// BaseCtx bounds dial attempts. Defaults to context.Background().
	BaseCtx context.Context
}

type Manager struct {
	dialer  transport.Dialer
	session *session.State
	poster  Poster
	baseCtx context.Context
	logger  zerolog.Logger

	retry      backoff.BackOff
	retryTimer *time.Timer
	dialCancel context.CancelFunc

	conn transport.Conn
	// attempt invalidates dial results and timers issued before the latest
	// Disconnect or loss.
	attempt uint64
	// generation counts transitions into connected.
	generation uint64
	attempts   int

	onConnected []func()
	onLost      []func()
	onStatus    []func(session.Status)
}

func New(cfg Config) (*Manager, error) {
	if cfg.Dialer == nil {
		return nil, errors.New("connection manager: dialer is nil")
	}
	if cfg.Session == nil {
		return nil, errors.New("connection manager: session is nil")
	}
	if cfg.Poster == nil {
		return nil, errors.New("connection manager: poster is nil")
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	baseCtx := cfg.BaseCtx
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Manager{
		dialer:  cfg.Dialer,
		session: cfg.Session,
		poster:  cfg.Poster,
		baseCtx: baseCtx,
		retry:   backoff.NewConstantBackOff(delay),
		logger:  log.With().Str("component", "connection").Logger(),
	}, nil
}

// OnConnected registers fn to run after every transition into connected.
func (m *Manager) OnConnected(fn func()) {
	m.onConnected = append(m.onConnected, fn)
}

// OnLost registers fn to run when a live connection goes away, whether through
// transport failure or Disconnect.
func (m *Manager) OnLost(fn func()) {
	m.onLost = append(m.onLost, fn)
}

func (m *Manager) OnStatus(fn func(session.Status)) {
	m.onStatus = append(m.onStatus, fn)
}

func (m *Manager) Status() session.Status {
	return m.session.ConnectionStatus()
}

// Conn returns the live connection, if connected.
func (m *Manager) Conn() (transport.Conn, bool) {
	if m.conn == nil || m.Status() != session.StatusConnected {
		return nil, false
	}
	return m.conn, true
}

// Generation increments on each successful connect; subscribers use it to tell a
// fresh connection from the one they subscribed on.
func (m *Manager) Generation() uint64 {
	return m.generation
}

// Connect starts connecting. It is a no-op unless the manager is disconnected.
func (m *Manager) Connect() {
	if m.Status() != session.StatusDisconnected {
		return
	}
	m.retry.Reset()
	m.setStatus(session.StatusConnecting)
	m.dial()
}

// Disconnect closes the live connection, if any, and cancels pending retries.
func (m *Manager) Disconnect() {
	m.attempt++
	m.stopRetry()
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	conn := m.conn
	m.conn = nil
	wasConnected := conn != nil
	if conn != nil {
		if err := conn.Close(); err != nil {
			m.logger.Debug().Err(err).Msg("closing connection")
		}
	}
	if m.Status() != session.StatusDisconnected {
		m.setStatus(session.StatusDisconnected)
	}
	if wasConnected {
		m.notifyLost()
	}
}

func (m *Manager) dial() {
	m.attempt++
	attempt := m.attempt
	m.attempts++
	ctx, cancel := context.WithCancel(m.baseCtx)
	m.dialCancel = cancel
	m.logger.Debug().Int("attempt", m.attempts).Msg("dialing")

	go func() {
		conn, err := m.dialer.Dial(ctx)
		posted := m.poster.Post(func() { m.handleDial(attempt, conn, err) })
		if !posted && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (m *Manager) handleDial(attempt uint64, conn transport.Conn, err error) {
	if attempt != m.attempt {
		// superseded by Disconnect or a newer attempt
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	if err != nil {
		delay := m.retry.NextBackOff()
		m.logger.Warn().Err(err).Int("attempt", m.attempts).Dur("retry_in", delay).Msg("connection attempt failed")
		m.scheduleRetry(delay)
		return
	}

	m.conn = conn
	m.generation++
	m.attempts = 0
	m.retry.Reset()
	m.setStatus(session.StatusConnected)
	m.logger.Info().Uint64("generation", m.generation).Msg("connected")
	m.watch(conn, attempt)
	for _, fn := range m.onConnected {
		fn()
	}
}

func (m *Manager) watch(conn transport.Conn, attempt uint64) {
	go func() {
		<-conn.Done()
		m.poster.Post(func() { m.handleLoss(conn, attempt) })
	}()
}

func (m *Manager) handleLoss(conn transport.Conn, attempt uint64) {
	if conn != m.conn || attempt != m.attempt {
		return
	}
	m.conn = nil
	m.attempt++
	m.logger.Warn().Err(conn.Err()).Msg("connection lost")
	m.setStatus(session.StatusReconnecting)
	m.notifyLost()
	m.scheduleRetry(m.retry.NextBackOff())
}

func (m *Manager) scheduleRetry(delay time.Duration) {
	m.stopRetry()
	attempt := m.attempt
	m.retryTimer = time.AfterFunc(delay, func() {
		m.poster.Post(func() { m.retryNow(attempt) })
	})
}

func (m *Manager) retryNow(attempt uint64) {
	if attempt != m.attempt {
		return
	}
	m.retryTimer = nil
	status := m.Status()
	if status != session.StatusConnecting && status != session.StatusReconnecting {
		return
	}
	m.dial()
}

func (m *Manager) stopRetry() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

func (m *Manager) setStatus(status session.Status) {
	m.session.SetConnectionStatus(status)
	for _, fn := range m.onStatus {
		fn(status)
	}
}

func (m *Manager) notifyLost() {
	for _, fn := range m.onLost {
		fn()
	}
}
