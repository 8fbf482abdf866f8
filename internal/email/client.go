package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/tofagerl/mailmind/internal/parser"
	"github.com/tofagerl/mailmind/pkg/models"
)

// ErrNotConnected is returned by operations on a closed session
var ErrNotConnected = errors.New("not connected")

// MessageMeta is the envelope and flag state of one message
type MessageMeta struct {
	UID       uint32
	MessageID string
	Subject   string
	Date      time.Time
	Seen      bool
}

// Mailbox is the set of session primitives needed to relocate a message
type Mailbox interface {
	SelectedFolder() string
	Select(ctx context.Context, folder string) (uint32, error)
	ListFolders(ctx context.Context) ([]string, error)
	CreateFolder(ctx context.Context, name string) error
	FetchMeta(ctx context.Context, uid uint32) (*MessageMeta, error)
	Move(ctx context.Context, uid uint32, target string) error
	SearchHeader(ctx context.Context, key, value string) ([]uint32, error)
	SearchSubjectSince(ctx context.Context, subject string, since time.Time) ([]uint32, error)
	AllUIDs(ctx context.Context) ([]uint32, error)
	SetSeen(ctx context.Context, uids []uint32, seen bool) error
}

// Conn is a live, logged-in mailbox session
type Conn interface {
	Mailbox
	Count(ctx context.Context) (uint32, error)
	FetchMessages(ctx context.Context, limit int) ([]*models.Message, error)
	WaitForChange(ctx context.Context, timeout time.Duration) (bool, error)
	Probe(ctx context.Context) error
	Alive() bool
	Logout(ctx context.Context) error
}

// SessionConfig configuration for an IMAP session
type SessionConfig struct {
	Server         string // host:port
	TLS            bool
	Email          string
	Password       string
	DialTimeout    time.Duration
	CommandTimeout time.Duration // bounds every command except IDLE
}

// Session is an IMAP session for a single account.
// Operations are serialized; IDLE holds the session until it returns.
type Session struct {
	account string
	client  *client.Client
	conn    net.Conn
	timeout time.Duration
	html    *parser.HTMLParser
	logger  *slog.Logger

	mu       sync.Mutex
	selected string

	exists  atomic.Uint32 // message count of the selected folder as last seen
	pushed  atomic.Uint32 // message count of the latest server push
	changed chan struct{}
	closed  atomic.Bool
}

// Dial connects and logs in
func Dial(ctx context.Context, account string, cfg SessionConfig, html *parser.HTMLParser, logger *slog.Logger) (*Session, error) {
	logger = logger.With("account", account)
	logger.Debug("connecting to IMAP server", "server", cfg.Server, "tls", cfg.TLS)

	timeout := cfg.DialTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	cmdTimeout := cfg.CommandTimeout
	if cmdTimeout == 0 {
		cmdTimeout = 2 * time.Minute
	}

	dialer := &net.Dialer{Timeout: timeout}
	var conn net.Conn
	var err error
	if cfg.TLS {
		tlsDialer := &tls.Dialer{NetDialer: dialer}
		conn, err = tlsDialer.DialContext(ctx, "tcp", cfg.Server)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", cfg.Server)
	}
	if err != nil {
		return nil, &models.ConnectionError{Account: account, Op: "dial", Err: err}
	}

	// The greeting is read before any command deadline applies
	conn.SetDeadline(time.Now().Add(timeout))
	imapClient, err := client.New(conn)
	if err != nil {
		conn.Close()
		return nil, &models.ConnectionError{Account: account, Op: "greeting", Err: err}
	}
	imapClient.Timeout = cmdTimeout

	if err := imapClient.Login(cfg.Email, cfg.Password); err != nil {
		imapClient.Terminate()
		return nil, &models.ConnectionError{Account: account, Op: "login", Err: err}
	}
	conn.SetDeadline(time.Time{})

	s := &Session{
		account: account,
		client:  imapClient,
		conn:    conn,
		timeout: cmdTimeout,
		html:    html,
		logger:  logger,
		changed: make(chan struct{}, 1),
	}

	updates := make(chan client.Update, 16)
	imapClient.Updates = updates
	go s.watchUpdates(updates, imapClient.LoggedOut())

	logger.Info("connected to IMAP server", "server", cfg.Server)
	return s, nil
}

// watchUpdates keeps the client's update channel drained until the
// connection ends and flags pushed message counts
func (s *Session) watchUpdates(updates <-chan client.Update, loggedOut <-chan struct{}) {
	for {
		select {
		case <-loggedOut:
			return
		case u := <-updates:
			switch u := u.(type) {
			case *client.MailboxUpdate:
				if u.Mailbox == nil {
					continue
				}
				s.pushed.Store(u.Mailbox.Messages)
				select {
				case s.changed <- struct{}{}:
				default:
				}
			case *client.ExpungeUpdate:
				for {
					n := s.exists.Load()
					if n == 0 || s.exists.CompareAndSwap(n, n-1) {
						break
					}
				}
			}
		}
	}
}

// ready checks the session can run a command; caller holds mu
func (s *Session) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.Alive() {
		return ErrNotConnected
	}
	return nil
}

// unlock ends a command and clears the deadline the client left on the connection
func (s *Session) unlock() {
	s.conn.SetDeadline(time.Time{})
	s.mu.Unlock()
}

// Alive reports whether the session is open and its connection is up
func (s *Session) Alive() bool {
	if s.closed.Load() {
		return false
	}
	select {
	case <-s.client.LoggedOut():
		return false
	default:
		return true
	}
}

// SelectedFolder returns the currently selected folder
func (s *Session) SelectedFolder() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Select selects a folder read-write and returns its message count
func (s *Session) Select(ctx context.Context, folder string) (uint32, error) {
	s.mu.Lock()
	defer s.unlock()

	if err := s.ready(ctx); err != nil {
		return 0, err
	}

	mbox, err := s.client.Select(folder, false)
	if err != nil {
		return 0, fmt.Errorf("failed to select %s: %w", folder, err)
	}
	s.selected = folder
	s.exists.Store(mbox.Messages)
	return mbox.Messages, nil
}

// Count returns the message count of the selected folder. It asks with
// STATUS since a SELECT makes the server push the count again.
func (s *Session) Count(ctx context.Context) (uint32, error) {
	s.mu.Lock()
	defer s.unlock()

	if s.selected == "" {
		return 0, errors.New("no folder selected")
	}
	if err := s.ready(ctx); err != nil {
		return 0, err
	}

	mbox, err := s.client.Status(s.selected, []imap.StatusItem{imap.StatusMessages})
	if err != nil {
		return 0, fmt.Errorf("failed to get status of %s: %w", s.selected, err)
	}
	return mbox.Messages, nil
}

// AllUIDs returns every UID in the selected folder, ascending
func (s *Session) AllUIDs(ctx context.Context) ([]uint32, error) {
	s.mu.Lock()
	defer s.unlock()
	return s.search(ctx, imap.NewSearchCriteria())
}

// SearchHeader searches the selected folder by header value
func (s *Session) SearchHeader(ctx context.Context, key, value string) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Header.Add(key, value)

	s.mu.Lock()
	defer s.unlock()
	return s.search(ctx, criteria)
}

// SearchSubjectSince searches by subject, limited to mail sent on or after the day of since
func (s *Session) SearchSubjectSince(ctx context.Context, subject string, since time.Time) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Subject", subject)
	if !since.IsZero() {
		// SENTSINCE has day granularity; widen by one day for zone differences
		criteria.SentSince = since.AddDate(0, 0, -1)
	}

	s.mu.Lock()
	defer s.unlock()
	return s.search(ctx, criteria)
}

func (s *Session) search(ctx context.Context, criteria *imap.SearchCriteria) ([]uint32, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

// FetchMessages fetches up to limit messages of the selected folder, newest first.
// Bodies of messages over models.MaxMessageSize are not downloaded.
func (s *Session) FetchMessages(ctx context.Context, limit int) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.unlock()

	uids, err := s.search(ctx, imap.NewSearchCriteria())
	if err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		return nil, nil
	}

	// Newest first
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	if limit > 0 && len(uids) > limit {
		uids = uids[:limit]
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchUid, imap.FetchRFC822Size}
	metas, err := s.fetch(seqSet, items)
	if err != nil {
		return nil, err
	}

	byUID := make(map[uint32]*models.Message, len(metas))
	bodySet := new(imap.SeqSet)
	for _, raw := range metas {
		msg := messageFromIMAP(raw, s.selected)
		byUID[msg.UID] = msg
		if msg.Oversized() {
			s.logger.Warn("message too large, skipping body", "uid", msg.UID, "size", msg.Size)
			continue
		}
		bodySet.AddNum(msg.UID)
	}

	if !bodySet.Empty() {
		section := &imap.BodySectionName{Peek: true}
		bodies, err := s.fetch(bodySet, []imap.FetchItem{imap.FetchUid, section.FetchItem()})
		if err != nil {
			return nil, err
		}
		for _, raw := range bodies {
			msg, ok := byUID[raw.Uid]
			if !ok {
				continue
			}
			if r := raw.GetBody(section); r != nil {
				msg.Body = extractBody(r, s.html, s.logger)
			}
		}
	}

	out := make([]*models.Message, 0, len(byUID))
	for _, uid := range uids {
		if msg, ok := byUID[uid]; ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

// FetchMeta returns envelope and flags of one message
func (s *Session) FetchMeta(ctx context.Context, uid uint32) (*MessageMeta, error) {
	s.mu.Lock()
	defer s.unlock()

	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	msgs, err := s.fetch(seqSet, []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchUid})
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("message uid %d not found", uid)
	}

	m := messageFromIMAP(msgs[0], s.selected)
	return &MessageMeta{UID: m.UID, MessageID: m.MessageID, Subject: m.Subject, Date: m.Date, Seen: m.Seen}, nil
}

// fetch runs UID FETCH and collects the results; caller holds mu
func (s *Session) fetch(seqSet *imap.SeqSet, items []imap.FetchItem) ([]*imap.Message, error) {
	if !s.Alive() {
		return nil, ErrNotConnected
	}

	messages := make(chan *imap.Message, 100)
	done := make(chan error, 1)

	go func() {
		done <- s.client.UidFetch(seqSet, items, messages)
	}()

	var out []*imap.Message
	for msg := range messages {
		out = append(out, msg)
	}

	if err := <-done; err != nil {
		return out, fmt.Errorf("failed to fetch: %w", err)
	}
	return out, nil
}

// ListFolders returns every folder name
func (s *Session) ListFolders(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.unlock()

	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	mailboxes := make(chan *imap.MailboxInfo, 20)
	done := make(chan error, 1)
	go func() {
		done <- s.client.List("", "*", mailboxes)
	}()

	var names []string
	for m := range mailboxes {
		names = append(names, m.Name)
	}

	if err := <-done; err != nil {
		return names, fmt.Errorf("failed to list folders: %w", err)
	}
	return names, nil
}

// CreateFolder creates a folder
func (s *Session) CreateFolder(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.unlock()

	if err := s.ready(ctx); err != nil {
		return err
	}
	if err := s.client.Create(name); err != nil {
		return fmt.Errorf("failed to create folder %s: %w", name, err)
	}
	return nil
}

// Move moves a message of the selected folder to target
func (s *Session) Move(ctx context.Context, uid uint32, target string) error {
	s.mu.Lock()
	defer s.unlock()

	if err := s.ready(ctx); err != nil {
		return err
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	// Falls back to COPY + \Deleted + EXPUNGE without the MOVE extension
	if err := s.client.UidMove(seqSet, target); err != nil {
		return fmt.Errorf("failed to move: %w", err)
	}
	return nil
}

// SetSeen adds or removes the \Seen flag
func (s *Session) SetSeen(ctx context.Context, uids []uint32, seen bool) error {
	if len(uids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.unlock()

	if err := s.ready(ctx); err != nil {
		return err
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	var op imap.FlagsOp = imap.RemoveFlags
	if seen {
		op = imap.AddFlags
	}
	item := imap.FormatFlagsOp(op, true)
	flags := []interface{}{imap.SeenFlag}

	if err := s.client.UidStore(seqSet, item, flags, nil); err != nil {
		return fmt.Errorf("failed to update seen flag: %w", err)
	}
	return nil
}

// Probe checks the session is alive
func (s *Session) Probe(ctx context.Context) error {
	s.mu.Lock()
	defer s.unlock()

	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.client.Noop()
}

// Logout closes the session. It is safe to call more than once. A command
// still in flight is not waited for; dropping the connection fails it.
func (s *Session) Logout(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	if !s.mu.TryLock() {
		s.logger.Debug("session busy, dropping connection")
		return s.client.Terminate()
	}
	defer s.mu.Unlock()

	// Try logout with timeout, then force close
	done := make(chan error, 1)
	go func() {
		done <- s.client.Logout()
	}()

	timer := time.NewTimer(2 * time.Second)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
	case <-ctx.Done():
	}
	return s.client.Terminate()
}

// messageFromIMAP converts envelope data
func messageFromIMAP(raw *imap.Message, folder string) *models.Message {
	msg := &models.Message{
		UID:    raw.Uid,
		Size:   raw.Size,
		Folder: folder,
	}

	if env := raw.Envelope; env != nil {
		msg.Subject = env.Subject
		msg.Date = env.Date
		msg.MessageID = env.MessageId
		if len(env.From) > 0 {
			msg.From = env.From[0].Address()
		}
		to := make([]string, 0, len(env.To))
		for _, addr := range env.To {
			to = append(to, addr.Address())
		}
		msg.To = strings.Join(to, ", ")
	}

	for _, f := range raw.Flags {
		if f == imap.SeenFlag {
			msg.Seen = true
		}
	}
	return msg
}
