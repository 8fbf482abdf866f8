package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tofagerl/mailmind/internal/claim"
	"github.com/tofagerl/mailmind/internal/email"
	"github.com/tofagerl/mailmind/internal/metrics"
	"github.com/tofagerl/mailmind/internal/notify"
	"github.com/tofagerl/mailmind/pkg/models"
)

// State of a folder monitor
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateDraining
	StateWaiting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateDraining:
		return "draining"
	case StateWaiting:
		return "waiting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Connector hands out pooled mailbox sessions
type Connector interface {
	Connect(ctx context.Context, account *models.Account, folder string) (email.Conn, error)
	Disconnect(key string)
}

// Store remembers which messages were already handled
type Store interface {
	IsProcessed(ctx context.Context, account string, msg *models.Message) (bool, error)
	MarkProcessed(ctx context.Context, account string, msg *models.Message, category string) error
	Cleanup(ctx context.Context, maxAgeDays int) (int64, error)
}

// Classifier assigns a category to every message of a batch
type Classifier interface {
	Classify(ctx context.Context, batch []*models.Message, set *models.CategorySet) []models.Classification
}

// Mover relocates one message out of the selected folder. An error
// wrapping email.ErrSourceLost means the message moved but the session
// left the source folder.
type Mover interface {
	MoveMessage(ctx context.Context, account string, mb email.Mailbox, uid uint32, target string) error
}

// Deps are the collaborators shared by all monitors
type Deps struct {
	Connector  Connector
	Store      Store
	Classifier Classifier
	Mover      Mover
	Claimer    claim.Claimer   // optional
	Notifier   notify.Notifier // optional
	Logger     *slog.Logger
}

// Options tune a monitor
type Options struct {
	MaxEmailsPerRun    int
	BatchSize          int
	MoveEmails         bool
	IdleTimeout        time.Duration
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
}

// FolderMonitor keeps one folder of one account classified. It drains the
// folder, waits for the server to report a change and drains again; any
// error drops the session and reconnects after a backoff.
type FolderMonitor struct {
	account *models.Account
	folder  string
	set     *models.CategorySet
	deps    Deps
	opts    Options
	backoff *Backoff
	state   atomic.Int32
	logger  *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewFolderMonitor creates a monitor for account/folder
func NewFolderMonitor(account *models.Account, folder string, deps Deps, opts Options) *FolderMonitor {
	if deps.Claimer == nil {
		deps.Claimer = claim.NopClaimer{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if opts.MaxEmailsPerRun < 1 {
		opts.MaxEmailsPerRun = 100
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 10
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 25 * time.Minute
	}
	if opts.ReconnectBaseDelay <= 0 {
		opts.ReconnectBaseDelay = time.Minute
	}

	return &FolderMonitor{
		account: account,
		folder:  folder,
		set:     account.CategorySet(),
		deps:    deps,
		opts:    opts,
		backoff: NewBackoff(opts.ReconnectBaseDelay, opts.ReconnectMaxDelay),
		logger:  deps.Logger.With("component", "monitor", "account", account.Name, "folder", folder),
		sleep:   sleepCtx,
	}
}

// State returns the current state
func (m *FolderMonitor) State() State {
	return State(m.state.Load())
}

func (m *FolderMonitor) setState(s State) {
	if State(m.state.Swap(int32(s))) != s {
		m.logger.Debug("state changed", "state", s.String())
	}
	metrics.SetMonitorState(m.account.Name, m.folder, int(s))
}

// Run monitors the folder until ctx is cancelled. It never returns an error;
// failures are logged and retried.
func (m *FolderMonitor) Run(ctx context.Context) {
	m.logger.Info("monitor started")
	defer func() {
		m.setState(StateDisconnected)
		m.logger.Info("monitor stopped")
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		err := m.session(ctx)
		m.deps.Connector.Disconnect(email.SessionKey(m.account.Name, m.folder))
		if ctx.Err() != nil {
			return
		}
		m.setState(StateDisconnected)

		delay := m.backoff.Next()
		m.logger.Warn("monitor session ended, reconnecting", "error", err, "delay", delay)
		metrics.RecordReconnect(m.account.Name, m.folder)

		if err := m.sleep(ctx, delay); err != nil {
			return
		}
	}
}

// session connects and alternates drain and wait until an error occurs
func (m *FolderMonitor) session(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("monitor iteration panicked", "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	m.setState(StateConnecting)
	conn, err := m.deps.Connector.Connect(ctx, m.account, m.folder)
	if err != nil {
		return err
	}
	m.backoff.Reset()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		m.setState(StateDraining)
		if err := m.drain(ctx, conn); err != nil {
			return err
		}

		m.setState(StateWaiting)
		if err := m.wait(ctx, conn); err != nil {
			return err
		}
	}
}

// wait returns once the folder changed
func (m *FolderMonitor) wait(ctx context.Context, conn email.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		before, err := conn.Count(ctx)
		if err != nil {
			return fmt.Errorf("failed to count messages: %w", err)
		}

		changed, err := conn.WaitForChange(ctx, m.opts.IdleTimeout)
		if err != nil {
			return fmt.Errorf("failed to wait for changes: %w", err)
		}

		after, err := conn.Count(ctx)
		if err != nil {
			return fmt.Errorf("failed to count messages: %w", err)
		}

		if changed || after != before {
			m.logger.Debug("folder changed", "pushed", changed, "before", before, "after", after)
			return nil
		}
	}
}

// drain classifies and files every unprocessed message currently in the folder
func (m *FolderMonitor) drain(ctx context.Context, conn email.Conn) error {
	log := m.logger.With("cycle", uuid.NewString())

	if _, err := conn.Select(ctx, m.folder); err != nil {
		return fmt.Errorf("failed to select folder: %w", err)
	}

	msgs, err := conn.FetchMessages(ctx, m.opts.MaxEmailsPerRun)
	if err != nil {
		return fmt.Errorf("failed to fetch messages: %w", err)
	}

	pending := m.unprocessed(ctx, msgs, log)
	log.Debug("drain started", "fetched", len(msgs), "pending", len(pending))
	if len(pending) == 0 {
		return nil
	}

	summary := notify.Summary{Account: m.account.Name, Folder: m.folder}
	defer func() {
		log.Info("drain finished",
			"processed", summary.Processed,
			"moved", len(summary.Moved),
			"skipped", summary.Skipped,
		)
		if len(summary.Moved) > 0 && ctx.Err() == nil {
			if err := m.deps.Notifier.Notify(ctx, summary); err != nil {
				log.Warn("failed to send summary", "error", err)
			}
		}
	}()

	for start := 0; start < len(pending); start += m.opts.BatchSize {
		end := start + m.opts.BatchSize
		if end > len(pending) {
			end = len(pending)
		}

		// Claims are taken per chunk so they outlive only one oracle call
		chunk := m.claim(ctx, pending[start:end])
		if len(chunk) == 0 {
			continue
		}

		results := m.deps.Classifier.Classify(ctx, chunk, m.set)
		for i, msg := range chunk {
			if ctx.Err() != nil {
				m.release(ctx, chunk[i:])
				return ctx.Err()
			}
			if i >= len(results) {
				m.skip(ctx, msg, "missing_result", &summary)
				continue
			}
			if err := m.handle(ctx, conn, msg, results[i], &summary, log); err != nil {
				m.release(ctx, chunk[i+1:])
				return err
			}
		}
	}
	return nil
}

// unprocessed drops messages the store already knows
func (m *FolderMonitor) unprocessed(ctx context.Context, msgs []*models.Message, log *slog.Logger) []*models.Message {
	pending := make([]*models.Message, 0, len(msgs))
	for _, msg := range msgs {
		done, err := m.deps.Store.IsProcessed(ctx, m.account.Name, msg)
		if err != nil {
			log.Warn("failed to check processed state, treating as new", "uid", msg.UID, "error", err)
		}
		if !done {
			pending = append(pending, msg)
		}
	}
	return pending
}

// claim drops messages claimed by another replica
func (m *FolderMonitor) claim(ctx context.Context, msgs []*models.Message) []*models.Message {
	claimed := make([]*models.Message, 0, len(msgs))
	for _, msg := range msgs {
		if !m.deps.Claimer.Acquire(ctx, m.account.Name, msg.Hash(m.account.Name)) {
			metrics.RecordSkipped(m.account.Name, "claimed")
			continue
		}
		claimed = append(claimed, msg)
	}
	return claimed
}

// handle files one classified message. A message is marked only once it
// sits in its target folder. The returned error ends the drain: the
// session no longer has the folder selected.
func (m *FolderMonitor) handle(ctx context.Context, conn email.Conn, msg *models.Message, r models.Classification, summary *notify.Summary, log *slog.Logger) error {
	if r.Failed {
		log.Debug("classification failed, retrying next cycle", "uid", msg.UID, "reasoning", r.Reasoning)
		m.skip(ctx, msg, "oracle_failed", summary)
		return nil
	}

	target := r.Category.TargetFolder()
	moved := false
	var lost error
	if m.opts.MoveEmails && !strings.EqualFold(target, m.folder) {
		err := m.deps.Mover.MoveMessage(ctx, m.account.Name, conn, msg.UID, target)
		if err != nil && !errors.Is(err, email.ErrSourceLost) {
			m.skip(ctx, msg, "relocation_failed", summary)
			return nil
		}
		moved = true
		lost = err
	}

	if err := m.deps.Store.MarkProcessed(ctx, m.account.Name, msg, r.Category.Name); err != nil {
		log.Error("failed to mark message processed", "uid", msg.UID, "error", err)
		m.skip(ctx, msg, "state_error", summary)
		return lost
	}

	metrics.RecordProcessed(m.account.Name, r.Category.Name)
	summary.Processed++
	if moved {
		summary.Moved = append(summary.Moved, notify.Moved{
			From:     msg.From,
			Subject:  msg.Subject,
			Category: r.Category.Name,
			Folder:   target,
		})
	}

	log.Info("message classified",
		"uid", msg.UID,
		"subject", msg.Subject,
		"category", r.Category.Name,
		"confidence", r.Confidence,
		"moved", moved,
	)
	return lost
}

func (m *FolderMonitor) skip(ctx context.Context, msg *models.Message, reason string, summary *notify.Summary) {
	metrics.RecordSkipped(m.account.Name, reason)
	m.deps.Claimer.Release(ctx, m.account.Name, msg.Hash(m.account.Name))
	summary.Skipped++
}

func (m *FolderMonitor) release(ctx context.Context, msgs []*models.Message) {
	// ctx is already done here
	ctx = context.WithoutCancel(ctx)
	for _, msg := range msgs {
		m.deps.Claimer.Release(ctx, m.account.Name, msg.Hash(m.account.Name))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
