package email

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/tofagerl/mailmind/pkg/models"
)

type fakeMessage struct {
	uid       uint32
	messageID string
	subject   string
	date      time.Time
	seen      bool
}

// fakeMailbox is an in-memory Conn
type fakeMailbox struct {
	mu       sync.Mutex
	folders  map[string][]*fakeMessage
	selected string
	nextUID  uint32

	created   []string
	moveErr   error
	createErr error
	probeErr  error
	selectErr map[string]error
	loggedOut int

	// Server resets \Seen on moved messages when true
	markSeenOnMove bool
	// Hide Message-ID header from search in the target folder
	noHeaderSearch bool
}

func newFakeMailbox(folders ...string) *fakeMailbox {
	f := &fakeMailbox{folders: make(map[string][]*fakeMessage), nextUID: 100}
	for _, name := range folders {
		f.folders[name] = nil
	}
	return f
}

func (f *fakeMailbox) add(folder string, m *fakeMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.folders[folder] = append(f.folders[folder], m)
}

func (f *fakeMailbox) find(folder string, messageID string) *fakeMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.folders[folder] {
		if m.messageID == messageID {
			return m
		}
	}
	return nil
}

func (f *fakeMailbox) SelectedFolder() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selected
}

func (f *fakeMailbox) Select(_ context.Context, folder string) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.selectErr[folder]; err != nil {
		return 0, err
	}
	msgs, ok := f.folders[folder]
	if !ok {
		return 0, errors.New("no such folder")
	}
	f.selected = folder
	return uint32(len(msgs)), nil
}

func (f *fakeMailbox) ListFolders(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.folders))
	for name := range f.folders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeMailbox) CreateFolder(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.folders[name]; ok {
		return errors.New("already exists")
	}
	f.folders[name] = nil
	f.created = append(f.created, name)
	return nil
}

func (f *fakeMailbox) lookup(uid uint32) (int, *fakeMessage) {
	for i, m := range f.folders[f.selected] {
		if m.uid == uid {
			return i, m
		}
	}
	return -1, nil
}

func (f *fakeMailbox) FetchMeta(_ context.Context, uid uint32) (*MessageMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, m := f.lookup(uid)
	if m == nil {
		return nil, errors.New("not found")
	}
	return &MessageMeta{UID: m.uid, MessageID: m.messageID, Subject: m.subject, Date: m.date, Seen: m.seen}, nil
}

func (f *fakeMailbox) Move(_ context.Context, uid uint32, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.moveErr != nil {
		return f.moveErr
	}
	if _, ok := f.folders[target]; !ok {
		return errors.New("no such target")
	}
	i, m := f.lookup(uid)
	if m == nil {
		return errors.New("not found")
	}
	src := f.folders[f.selected]
	f.folders[f.selected] = append(src[:i:i], src[i+1:]...)

	f.nextUID++
	moved := *m
	moved.uid = f.nextUID
	if f.markSeenOnMove {
		moved.seen = true
	}
	f.folders[target] = append(f.folders[target], &moved)
	return nil
}

func (f *fakeMailbox) SearchHeader(_ context.Context, key, value string) ([]uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noHeaderSearch {
		return nil, nil
	}
	var uids []uint32
	for _, m := range f.folders[f.selected] {
		if key == "Message-ID" && m.messageID == value {
			uids = append(uids, m.uid)
		}
	}
	return uids, nil
}

func (f *fakeMailbox) SearchSubjectSince(_ context.Context, subject string, since time.Time) ([]uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var uids []uint32
	for _, m := range f.folders[f.selected] {
		if m.subject == subject && !m.date.Before(since.AddDate(0, 0, -1)) {
			uids = append(uids, m.uid)
		}
	}
	return uids, nil
}

func (f *fakeMailbox) AllUIDs(context.Context) ([]uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var uids []uint32
	for _, m := range f.folders[f.selected] {
		uids = append(uids, m.uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (f *fakeMailbox) SetSeen(_ context.Context, uids []uint32, seen bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, uid := range uids {
		if _, m := f.lookup(uid); m != nil {
			m.seen = seen
		}
	}
	return nil
}

func (f *fakeMailbox) Count(ctx context.Context) (uint32, error) {
	return f.Select(ctx, f.SelectedFolder())
}

func (f *fakeMailbox) FetchMessages(context.Context, int) ([]*models.Message, error) {
	return nil, nil
}

func (f *fakeMailbox) WaitForChange(context.Context, time.Duration) (bool, error) {
	return false, nil
}

func (f *fakeMailbox) Probe(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probeErr
}

func (f *fakeMailbox) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loggedOut == 0
}

func (f *fakeMailbox) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut++
	return errors.New("logout noise")
}
