package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tofagerl/mailmind/internal/metrics"
	"github.com/tofagerl/mailmind/pkg/models"
)

// Relocator moves messages between folders without changing their read state
type Relocator struct {
	logger *slog.Logger
}

// NewRelocator creates a new relocator
func NewRelocator(logger *slog.Logger) *Relocator {
	return &Relocator{logger: logger.With("component", "relocator")}
}

// ErrSourceLost is reported when a message was moved but the source
// folder could not be selected again. UIDs of the source are no longer
// valid on the session.
var ErrSourceLost = errors.New("source folder not re-selected")

// MoveMessage moves uid from the selected folder to target, creating target
// if needed. An unread message is found again in target and its \Seen flag
// cleared. The source folder is re-selected afterwards. Failures are
// returned as *models.RelocationError; only one wrapping ErrSourceLost
// means the message did move.
func (r *Relocator) MoveMessage(ctx context.Context, account string, mb Mailbox, uid uint32, target string) error {
	source := mb.SelectedFolder()
	log := r.logger.With("account", account, "uid", uid, "source", source, "target", target)

	fail := func(op string, err error) error {
		rerr := &models.RelocationError{UID: uid, Target: target, Op: op, Err: err}
		log.Error("failed to move message", "error", rerr)
		metrics.RecordRelocation(account, false)
		return rerr
	}

	if err := r.ensureFolder(ctx, mb, target); err != nil {
		return fail("ensure_folder", err)
	}

	meta, err := mb.FetchMeta(ctx, uid)
	if err != nil {
		return fail("fetch_meta", err)
	}

	if err := mb.Move(ctx, uid, target); err != nil {
		return fail("move", err)
	}
	metrics.RecordRelocation(account, true)

	if !meta.Seen {
		r.restoreUnread(ctx, mb, meta, target, log)
	}

	if source != "" && mb.SelectedFolder() != source {
		if _, err := mb.Select(ctx, source); err != nil {
			rerr := &models.RelocationError{UID: uid, Target: target, Op: "reselect_source", Err: fmt.Errorf("%w: %v", ErrSourceLost, err)}
			log.Error("message moved but source folder lost", "error", rerr)
			return rerr
		}
	}

	log.Debug("message moved", "unread", !meta.Seen)
	return nil
}

// ensureFolder creates name unless it already exists
func (r *Relocator) ensureFolder(ctx context.Context, mb Mailbox, name string) error {
	exists, err := folderExists(ctx, mb, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	r.logger.Info("creating folder", "folder", name)
	if err := mb.CreateFolder(ctx, name); err != nil {
		// Another monitor may have created it in the meantime
		if exists, listErr := folderExists(ctx, mb, name); listErr == nil && exists {
			return nil
		}
		return err
	}
	return nil
}

func folderExists(ctx context.Context, mb Mailbox, name string) (bool, error) {
	folders, err := mb.ListFolders(ctx)
	if err != nil {
		return false, err
	}
	for _, f := range folders {
		if f == name {
			return true, nil
		}
	}
	return false, nil
}

// restoreUnread clears \Seen on the moved copy of an unread message
func (r *Relocator) restoreUnread(ctx context.Context, mb Mailbox, meta *MessageMeta, target string, log *slog.Logger) {
	if _, err := mb.Select(ctx, target); err != nil {
		log.Warn("failed to select target folder to restore unread state", "error", err)
		return
	}

	uids, found := r.locate(ctx, mb, meta)
	if !found {
		log.Warn("moved message not found in target folder, unread state not restored", "message_id", meta.MessageID)
		return
	}

	if err := mb.SetSeen(ctx, uids, false); err != nil {
		log.Warn("failed to restore unread state", "error", err)
	}
}

// locate finds a message in the selected folder by Message-ID, then by
// subject and date, then falls back to the most recent message.
func (r *Relocator) locate(ctx context.Context, mb Mailbox, meta *MessageMeta) ([]uint32, bool) {
	if meta.MessageID != "" {
		uids, err := mb.SearchHeader(ctx, "Message-ID", meta.MessageID)
		if err == nil && len(uids) > 0 {
			return uids, true
		}
	}

	if meta.Subject != "" {
		uids, err := mb.SearchSubjectSince(ctx, meta.Subject, meta.Date)
		if err == nil && len(uids) > 0 {
			return uids[len(uids)-1:], true
		}
	}

	uids, err := mb.AllUIDs(ctx)
	if err == nil && len(uids) > 0 {
		return uids[len(uids)-1:], true
	}
	return nil, false
}
