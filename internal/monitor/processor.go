package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tofagerl/mailmind/internal/email"
	"github.com/tofagerl/mailmind/internal/metrics"
	"github.com/tofagerl/mailmind/pkg/models"
)

// ErrNoMonitors is returned when no account has a folder to watch
var ErrNoMonitors = errors.New("no folders to monitor")

// Pool is a Connector that can be sized, inspected and drained
type Pool interface {
	Connector
	DisconnectAccount(name string)
	EnsureCapacity(n int)
	Status() []email.SessionStatus
	CloseAll()
}

// ProcessorConfig configures a Processor
type ProcessorConfig struct {
	Options
	StateRetentionDays int
	CleanupInterval    time.Duration
	ShutdownGrace      time.Duration
}

// Processor runs folder monitors for a set of accounts
type Processor struct {
	accounts []*models.Account
	pool     Pool
	deps     Deps
	cfg      ProcessorConfig
	logger   *slog.Logger
}

// NewProcessor creates a new processor. deps.Connector is replaced by pool.
func NewProcessor(accounts []*models.Account, pool Pool, deps Deps, cfg ProcessorConfig) *Processor {
	deps.Connector = pool
	if cfg.StateRetentionDays < 1 {
		cfg.StateRetentionDays = 30
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 24 * time.Hour
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}

	return &Processor{
		accounts: accounts,
		pool:     pool,
		deps:     deps,
		cfg:      cfg,
		logger:   deps.Logger.With("component", "processor"),
	}
}

// ProcessAccount drains every watched folder of account once over a
// single account-wide session
func (p *Processor) ProcessAccount(ctx context.Context, account *models.Account) error {
	log := p.logger.With("account", account.Name)

	conn, err := p.pool.Connect(ctx, account, "")
	if err != nil {
		return err
	}

	var errs []error
	for _, folder := range account.WatchedFolders() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		m := NewFolderMonitor(account, folder, p.deps, p.cfg.Options)
		if err := m.drain(ctx, conn); err != nil {
			log.Error("failed to process folder", "folder", folder, "error", err)
			errs = append(errs, fmt.Errorf("folder %s: %w", folder, err))
		}
	}

	if len(errs) > 0 {
		// The session may be broken; let the next run dial a fresh one
		p.pool.DisconnectAccount(account.Name)
	}
	return errors.Join(errs...)
}

// ProcessAll runs ProcessAccount for every account. One failing account
// does not stop the others.
func (p *Processor) ProcessAll(ctx context.Context) error {
	var errs []error
	for _, account := range p.accounts {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := p.ProcessAccount(ctx, account); err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", account.Name, err))
		}
	}
	return errors.Join(errs...)
}

// StartMonitoring runs one monitor per (account, folder) and a periodic
// state cleanup until ctx is cancelled, then closes every session.
func (p *Processor) StartMonitoring(ctx context.Context) error {
	var monitors []*FolderMonitor
	for _, account := range p.accounts {
		for _, folder := range account.WatchedFolders() {
			monitors = append(monitors, NewFolderMonitor(account, folder, p.deps, p.cfg.Options))
		}
	}
	if len(monitors) == 0 {
		return ErrNoMonitors
	}

	p.pool.EnsureCapacity(len(monitors))
	p.logger.Info("starting monitors", "count", len(monitors))

	done := make([]chan struct{}, len(monitors))
	for i, m := range monitors {
		done[i] = make(chan struct{})
		go func(m *FolderMonitor, done chan struct{}) {
			defer close(done)
			m.Run(ctx)
		}(m, done[i])
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.cleanupLoop(ctx)
	}()

	<-ctx.Done()
	p.logger.Info("stopping monitors", "grace", p.cfg.ShutdownGrace)

	deadline := time.After(p.cfg.ShutdownGrace)
	expired := false
	for i, m := range monitors {
		if !expired {
			select {
			case <-done[i]:
				continue
			case <-deadline:
				expired = true
			}
		}
		select {
		case <-done[i]:
		default:
			p.logger.Warn("monitor did not stop in time", "account", m.account.Name, "folder", m.folder)
		}
	}

	wg.Wait()
	p.checkPool()
	p.pool.CloseAll()
	p.logger.Info("all monitors stopped")
	return nil
}

func (p *Processor) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.CleanupInterval)
	defer ticker.Stop()

	p.cleanup(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cleanup(ctx)
			p.checkPool()
		}
	}
}

// checkPool logs pooled sessions whose connection has dropped and returns
// the number still alive
func (p *Processor) checkPool() int {
	status := p.pool.Status()
	alive := 0
	for _, s := range status {
		if s.Alive {
			alive++
			continue
		}
		p.logger.Warn("pooled session is down", "key", s.Key, "last_used", s.LastUsed)
	}
	metrics.PoolSessionsAlive.Set(float64(alive))
	p.logger.Debug("connection pool checked", "sessions", len(status), "alive", alive)
	return alive
}

func (p *Processor) cleanup(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	n, err := p.deps.Store.Cleanup(ctx, p.cfg.StateRetentionDays)
	if err != nil {
		p.logger.Error("failed to clean up processed records", "error", err)
		return
	}
	if n > 0 {
		p.logger.Info("cleaned up processed records", "deleted", n, "retention_days", p.cfg.StateRetentionDays)
	}
}
