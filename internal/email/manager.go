package email

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tofagerl/mailmind/internal/config"
	"github.com/tofagerl/mailmind/internal/metrics"
	"github.com/tofagerl/mailmind/internal/parser"
	"github.com/tofagerl/mailmind/pkg/models"
)

// Dialer opens a fresh logged-in session for an account
type Dialer func(ctx context.Context, account *models.Account) (Conn, error)

// SessionStatus describes one pooled session
type SessionStatus struct {
	Key      string
	Account  string
	LastUsed time.Time
	Alive    bool
}

// Manager is a bounded pool of mailbox sessions with LRU eviction
type Manager struct {
	sessions map[string]*pooledConn
	mu       sync.Mutex
	dial     Dialer
	maxConns int
	logger   *slog.Logger
	now      func() time.Time
}

type pooledConn struct {
	conn     Conn
	account  string
	lastUsed time.Time
}

// NewManager creates a new connection manager
func NewManager(maxConns int, dial Dialer, logger *slog.Logger) *Manager {
	if maxConns < 1 {
		maxConns = 1
	}
	return &Manager{
		sessions: make(map[string]*pooledConn),
		dial:     dial,
		maxConns: maxConns,
		logger:   logger.With("component", "email_manager"),
		now:      time.Now,
	}
}

// DialSession returns a Dialer for IMAP accounts. Passwords are resolved
// through secrets and servers missing from the account are resolved from
// the email domain.
func DialSession(cfg *config.Config, secrets *config.Secrets, html *parser.HTMLParser, logger *slog.Logger) Dialer {
	resolver := NewResolver()
	return func(ctx context.Context, account *models.Account) (Conn, error) {
		password, err := secrets.Resolve(account.Password)
		if err != nil {
			return nil, &models.ConnectionError{Account: account.Name, Op: "credentials", Err: err}
		}

		server := account.Address()
		if account.IMAPServer == "" {
			server, err = resolver.ResolveIMAPServer(ctx, account.Email)
			if err != nil {
				return nil, &models.ConnectionError{Account: account.Name, Op: "resolve", Err: err}
			}
		}

		return Dial(ctx, account.Name, SessionConfig{
			Server:         server,
			TLS:            account.TLS,
			Email:          account.Email,
			Password:       password,
			DialTimeout:    cfg.IMAPDialTimeout,
			CommandTimeout: cfg.IMAPCommandTimeout,
		}, html, logger)
	}
}

// SessionKey is the pool key of a session. One-shot runs share one session
// per account; monitors get one per folder since IDLE holds the session.
func SessionKey(account, folder string) string {
	if folder == "" {
		return account
	}
	return account + "/" + folder
}

// Connect returns a live session, reusing a pooled one if it passes a NOOP
// probe. Failures are returned as *models.ConnectionError.
func (m *Manager) Connect(ctx context.Context, account *models.Account, folder string) (Conn, error) {
	key := SessionKey(account.Name, folder)

	m.mu.Lock()
	pc, ok := m.sessions[key]
	m.mu.Unlock()

	if ok {
		err := ErrNotConnected
		if pc.conn.Alive() {
			err = pc.conn.Probe(ctx)
		}
		if err == nil {
			m.mu.Lock()
			pc.lastUsed = m.now()
			m.mu.Unlock()
			return pc.conn, nil
		}
		m.logger.Warn("pooled session failed probe, reconnecting", "key", key, "error", err)
		m.Disconnect(key)
	}

	conn, err := m.dial(ctx, account)
	if err != nil {
		var ce *models.ConnectionError
		if !errors.As(err, &ce) {
			err = &models.ConnectionError{Account: account.Name, Op: "connect", Err: err}
		}
		return nil, err
	}

	m.mu.Lock()
	var evicted []*pooledConn
	if old, ok := m.sessions[key]; ok {
		evicted = append(evicted, old)
		delete(m.sessions, key)
	}
	for len(m.sessions) >= m.maxConns {
		lruKey := m.leastRecentlyUsed()
		m.logger.Info("evicting least recently used session", "key", lruKey)
		evicted = append(evicted, m.sessions[lruKey])
		delete(m.sessions, lruKey)
	}
	m.sessions[key] = &pooledConn{conn: conn, account: account.Name, lastUsed: m.now()}
	metrics.PoolSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	for _, pc := range evicted {
		m.logout(pc)
	}

	return conn, nil
}

// leastRecentlyUsed returns the key of the oldest session; caller holds mu
func (m *Manager) leastRecentlyUsed() string {
	var lruKey string
	var lruTime time.Time
	for k, pc := range m.sessions {
		if lruKey == "" || pc.lastUsed.Before(lruTime) {
			lruKey, lruTime = k, pc.lastUsed
		}
	}
	return lruKey
}

// Disconnect closes and forgets a session. Unknown keys are ignored.
func (m *Manager) Disconnect(key string) {
	m.mu.Lock()
	pc, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
		metrics.PoolSessions.Set(float64(len(m.sessions)))
	}
	m.mu.Unlock()

	if ok {
		m.logout(pc)
	}
}

// DisconnectAccount closes every session of an account
func (m *Manager) DisconnectAccount(name string) {
	m.mu.Lock()
	var closing []*pooledConn
	for k, pc := range m.sessions {
		if pc.account == name {
			closing = append(closing, pc)
			delete(m.sessions, k)
		}
	}
	metrics.PoolSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	for _, pc := range closing {
		m.logout(pc)
	}
}

// CloseAll closes every pooled session
func (m *Manager) CloseAll() {
	m.mu.Lock()
	closing := make([]*pooledConn, 0, len(m.sessions))
	for k, pc := range m.sessions {
		closing = append(closing, pc)
		delete(m.sessions, k)
	}
	metrics.PoolSessions.Set(0)
	m.mu.Unlock()

	m.logger.Info("closing all sessions", "count", len(closing))

	var wg sync.WaitGroup
	for _, pc := range closing {
		wg.Add(1)
		go func(pc *pooledConn) {
			defer wg.Done()
			m.logout(pc)
		}(pc)
	}
	wg.Wait()
}

// EnsureCapacity raises the pool bound to at least n
func (m *Manager) EnsureCapacity(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n > m.maxConns {
		m.logger.Warn("raising connection pool size to fit monitors", "from", m.maxConns, "to", n)
		m.maxConns = n
	}
}

// Status returns the pooled sessions ordered by key
func (m *Manager) Status() []SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SessionStatus, 0, len(m.sessions))
	for k, pc := range m.sessions {
		out = append(out, SessionStatus{Key: k, Account: pc.account, LastUsed: pc.lastUsed, Alive: pc.conn.Alive()})
	}
	sort.Slice(out, func(i, j int) bool { return strings.Compare(out[i].Key, out[j].Key) < 0 })
	return out
}

// logout closes a session, tolerating errors
func (m *Manager) logout(pc *pooledConn) {
	if pc == nil || pc.conn == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := pc.conn.Logout(ctx); err != nil {
		m.logger.Debug("logout failed", "account", pc.account, "error", err)
	}
}
