package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tofagerl/mailmind/internal/database"
	"github.com/tofagerl/mailmind/internal/email"
	"github.com/tofagerl/mailmind/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "state.db"), database.DriverPureGo)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func testAccount(folders ...string) *models.Account {
	return &models.Account{
		Name:     "work",
		Email:    "me@example.com",
		Password: "secret",
		Folders:  folders,
		Categories: []models.Category{
			{Name: "SPAM", Folder: "Spam"},
			{Name: "RECEIPTS", Folder: "Receipts"},
			{Name: "INBOX", Folder: "INBOX"},
		},
		DefaultCategory: "INBOX",
	}
}

func testMessage(i int) *models.Message {
	return &models.Message{
		UID:       uint32(i),
		MessageID: fmt.Sprintf("<m%d@example.com>", i),
		From:      "sender@example.com",
		Subject:   fmt.Sprintf("Message %d", i),
		Date:      time.Date(2024, 3, 1, 9, 0, i, 0, time.UTC),
	}
}

// fakeConn is an in-memory email.Conn with one message list per folder
type fakeConn struct {
	mu       sync.Mutex
	folders  map[string][]*models.Message
	selected string
	fetchErr error
	down     bool

	// wait is called by WaitForChange; nil blocks until ctx is done
	wait func(ctx context.Context) (bool, error)
}

var _ email.Conn = (*fakeConn)(nil)

func newFakeConn() *fakeConn {
	return &fakeConn{folders: map[string][]*models.Message{"INBOX": nil}}
}

func (c *fakeConn) add(folder string, msgs ...*models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range msgs {
		m.Folder = folder
	}
	c.folders[folder] = append(c.folders[folder], msgs...)
}

func (c *fakeConn) SelectedFolder() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

func (c *fakeConn) Select(_ context.Context, folder string) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs, ok := c.folders[folder]
	if !ok {
		return 0, errors.New("no such folder")
	}
	c.selected = folder
	return uint32(len(msgs)), nil
}

func (c *fakeConn) Count(_ context.Context) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint32(len(c.folders[c.selected])), nil
}

func (c *fakeConn) FetchMessages(_ context.Context, limit int) ([]*models.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fetchErr != nil {
		return nil, c.fetchErr
	}

	msgs := c.folders[c.selected]
	out := make([]*models.Message, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, msgs[i])
	}
	return out, nil
}

func (c *fakeConn) WaitForChange(ctx context.Context, _ time.Duration) (bool, error) {
	if c.wait != nil {
		return c.wait(ctx)
	}
	<-ctx.Done()
	return false, ctx.Err()
}

func (c *fakeConn) ListFolders(context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.folders))
	for name := range c.folders {
		names = append(names, name)
	}
	return names, nil
}

func (c *fakeConn) CreateFolder(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.folders[name] = nil
	return nil
}

func (c *fakeConn) FetchMeta(context.Context, uint32) (*email.MessageMeta, error) {
	return nil, errors.New("not implemented")
}

func (c *fakeConn) Move(context.Context, uint32, string) error { return errors.New("not implemented") }

func (c *fakeConn) SearchHeader(context.Context, string, string) ([]uint32, error) { return nil, nil }

func (c *fakeConn) SearchSubjectSince(context.Context, string, time.Time) ([]uint32, error) {
	return nil, nil
}

func (c *fakeConn) AllUIDs(context.Context) ([]uint32, error) { return nil, nil }

func (c *fakeConn) SetSeen(context.Context, []uint32, bool) error { return nil }

func (c *fakeConn) Probe(context.Context) error { return nil }

func (c *fakeConn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.down
}

func (c *fakeConn) Logout(context.Context) error { return nil }

// fakePool hands out one fakeConn
type fakePool struct {
	mu          sync.Mutex
	conn        *fakeConn
	conns       map[string]*fakeConn // per-key sessions, overriding conn
	errs        []error              // returned by successive Connect calls before conn
	errAt       map[int]error        // keyed by 0-based Connect attempt
	connects    []string
	disconnects []string
	dropped     []string // accounts passed to DisconnectAccount
	capacity    int
	closed      bool
}

func (p *fakePool) Connect(_ context.Context, account *models.Account, folder string) (email.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := email.SessionKey(account.Name, folder)
	attempt := len(p.connects)
	p.connects = append(p.connects, key)
	if err, ok := p.errAt[attempt]; ok {
		return nil, err
	}
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		return nil, err
	}
	if c, ok := p.conns[key]; ok {
		return c, nil
	}
	return p.conn, nil
}

func (p *fakePool) Disconnect(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnects = append(p.disconnects, key)
}

func (p *fakePool) DisconnectAccount(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropped = append(p.dropped, name)
}

func (p *fakePool) Status() []email.SessionStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]email.SessionStatus, 0, len(p.conns))
	for key, c := range p.conns {
		out = append(out, email.SessionStatus{Key: key, Account: "work", Alive: c.Alive()})
	}
	return out
}

func (p *fakePool) EnsureCapacity(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.capacity = n
}

func (p *fakePool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

// scriptedClassifier answers with a category per UID or subject
type scriptedClassifier struct {
	mu        sync.Mutex
	byUID     map[uint32]string
	bySubject map[string]string
	failed    bool
	panics    bool
	batches   []int
	onBatch   func() // called before each batch is answered
}

func (c *scriptedClassifier) Classify(_ context.Context, batch []*models.Message, set *models.CategorySet) []models.Classification {
	c.mu.Lock()
	c.batches = append(c.batches, len(batch))
	c.mu.Unlock()

	if c.onBatch != nil {
		c.onBatch()
	}

	if c.panics {
		panic("classifier exploded")
	}

	out := make([]models.Classification, len(batch))
	for i, msg := range batch {
		if c.failed {
			out[i] = models.Classification{Category: set.Default(), Reasoning: "classification failed: boom", Failed: true}
			continue
		}
		name, ok := c.bySubject[msg.Subject]
		if !ok {
			name, ok = c.byUID[msg.UID]
		}
		if !ok {
			name = "INBOX"
		}
		cat, _ := set.Lookup(name)
		out[i] = models.Classification{Category: cat, Confidence: 90}
	}
	return out
}

func (c *scriptedClassifier) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

type move struct {
	uid    uint32
	target string
}

// recordingMover records moves. UIDs in fail are not moved; UIDs in lost
// are moved but leave the session outside the source folder.
type recordingMover struct {
	mu    sync.Mutex
	moves []move
	fail  map[uint32]bool
	lost  map[uint32]bool
}

func (m *recordingMover) MoveMessage(_ context.Context, _ string, _ email.Mailbox, uid uint32, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[uid] {
		return &models.RelocationError{UID: uid, Target: target, Op: "move", Err: errors.New("NO [CANNOT]")}
	}
	m.moves = append(m.moves, move{uid: uid, target: target})
	if m.lost[uid] {
		return &models.RelocationError{UID: uid, Target: target, Op: "reselect_source", Err: email.ErrSourceLost}
	}
	return nil
}

// denyClaimer refuses the listed hashes
type denyClaimer struct {
	mu       sync.Mutex
	deny     map[string]bool
	acquired []string
	released []string
}

func (c *denyClaimer) Acquire(_ context.Context, _ string, hash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deny[hash] {
		return false
	}
	c.acquired = append(c.acquired, hash)
	return true
}

func (c *denyClaimer) acquiredCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.acquired)
}

func (c *denyClaimer) Release(_ context.Context, _ string, hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = append(c.released, hash)
}

func (c *denyClaimer) Close() error { return nil }
