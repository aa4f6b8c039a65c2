package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"digest-agent/internal/domain"
	"digest-agent/internal/repository"
)

const postPreviewLen = 150

// Ledger is the append-only, most-recent-first log of completed digest
// generations. Entries are immutable snapshots except for the two documented
// in-place amendments: attaching an image URL and flipping the status to
// sent. Amendments are addressed by entry id, so a digest regeneration can
// never orphan an amendment aimed at an older entry.
//
// Every mutation persists the entire re-serialized history to the store,
// best-effort: a write failure is logged and swallowed, and the in-memory
// sequence stays the source of truth for the session.
type Ledger struct {
	store repository.Store
	key   string
	now   func() time.Time

	mu      sync.Mutex
	entries []domain.HistoryEntry
	lastID  int64
}

// NewLedger creates a Ledger persisting under the given storage key.
func NewLedger(store repository.Store, key string) *Ledger {
	return &Ledger{
		store: store,
		key:   key,
		now:   time.Now,
	}
}

// Load reads and deserializes the stored history. A missing, unreadable, or
// non-list stored value is discarded and ignored, never an error.
func (l *Ledger) Load(ctx context.Context) {
	raw, found, err := l.store.Get(ctx, l.key)
	if err != nil {
		slog.Warn("history load failed, starting empty", "err", err)
		return
	}
	if !found {
		return
	}
	var entries []domain.HistoryEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		slog.Warn("stored history is not a list, ignoring", "err", err)
		return
	}
	l.mu.Lock()
	l.entries = entries
	l.mu.Unlock()
}

// Entries returns a copy of the ordered sequence, most recent first.
func (l *Ledger) Entries() []domain.HistoryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.HistoryEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Append creates a new entry from a just-generated digest, prepends it, and
// persists. Returns the entry, whose id later amendments must carry.
func (l *Ledger) Append(ctx context.Context, digest *domain.DigestPayload) domain.HistoryEntry {
	l.mu.Lock()
	now := l.now().UTC()
	entry := domain.HistoryEntry{
		ID:          l.nextIDLocked(now),
		Date:        now.Format(time.RFC3339),
		WeekRange:   weekRangeLabel(now),
		Status:      domain.HistoryStatusGenerated,
		Digest:      digest,
		WeekSummary: digest.WeekSummary,
	}
	entry.LinkedInPostPreview = truncate(digest.LinkedInPost, postPreviewLen)
	l.entries = append([]domain.HistoryEntry{entry}, l.entries...)
	l.mu.Unlock()

	l.persist(ctx)
	return entry
}

// AmendImage attaches an image URL to the identified entry and persists.
// A vanished id is a no-op.
func (l *Ledger) AmendImage(ctx context.Context, id, imageURL string) bool {
	l.mu.Lock()
	amended := false
	for i := range l.entries {
		if l.entries[i].ID == id {
			url := imageURL
			l.entries[i].ImageURL = &url
			amended = true
			break
		}
	}
	l.mu.Unlock()

	if amended {
		l.persist(ctx)
	}
	return amended
}

// MarkSent flips the identified entry's status to sent and persists.
func (l *Ledger) MarkSent(ctx context.Context, id string) bool {
	l.mu.Lock()
	amended := false
	for i := range l.entries {
		if l.entries[i].ID == id {
			l.entries[i].Status = domain.HistoryStatusSent
			amended = true
			break
		}
	}
	l.mu.Unlock()

	if amended {
		l.persist(ctx)
	}
	return amended
}

func (l *Ledger) persist(ctx context.Context) {
	l.mu.Lock()
	buf, err := json.Marshal(l.entries)
	l.mu.Unlock()
	if err != nil {
		slog.Warn("history serialize failed", "err", err)
		return
	}
	if err := l.store.Set(ctx, l.key, string(buf)); err != nil {
		slog.Warn("history persist failed", "err", err)
	}
}

// nextIDLocked derives a unique id from the current time, guarded so two
// digests in the same millisecond cannot collide.
func (l *Ledger) nextIDLocked(now time.Time) string {
	id := now.UnixMilli()
	if id <= l.lastID {
		id = l.lastID + 1
	}
	l.lastID = id
	return strconv.FormatInt(id, 10)
}

// weekRangeLabel renders the Monday-through-Sunday range containing now,
// e.g. "Aug 31 - Sep 6, 2026".
func weekRangeLabel(now time.Time) string {
	daysSinceMonday := (int(now.Weekday()) + 6) % 7
	start := now.AddDate(0, 0, -daysSinceMonday)
	end := start.AddDate(0, 0, 6)
	return start.Format("Jan 2") + " - " + end.Format("Jan 2, 2006")
}

// truncate caps s at n characters. The cap counts runes, not bytes, so a
// multi-byte rune at the boundary is dropped whole rather than split.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
