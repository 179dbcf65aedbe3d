package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/replyd/internal/domain"
	"github.com/ashureev/replyd/internal/shared"
)

// unknownPartner is the log key used when an event carries no partner ID.
const unknownPartner = "_unknown"

// FileStore implements Store with one JSON log file per partner under
// <dataDir>/messages. Writes go through a sibling temp file and a rename so
// a crash mid-write never corrupts an existing log.
type FileStore struct {
	dataDir     string
	locks       *lockRegistry
	migrateOnce sync.Once
}

// NewFileStore creates the message directory and returns a store rooted at dataDir.
func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, "messages"), shared.DirPerm); err != nil {
		return nil, fmt.Errorf("create message directory: %w", err)
	}
	return &FileStore{
		dataDir: dataDir,
		locks:   newLockRegistry(defaultMaxLocks),
	}, nil
}

// Append adds one record to a partner's conversation log. A zero timestamp
// is stamped with the current time.
func (s *FileStore) Append(ctx context.Context, partnerID string, msg domain.Message) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	s.migrateOnce.Do(s.migrateLegacy)

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.PartnerID == "" {
		msg.PartnerID = strings.TrimSpace(partnerID)
	}

	key := partnerKey(partnerID)
	release := s.locks.acquire(key)
	defer release()

	msgs, err := s.loadLocked(key)
	if err != nil {
		return domain.Message{}, err
	}
	msgs = append(msgs, msg)
	if err := s.saveLocked(key, msgs); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// Messages returns a partner's log ordered oldest first, applying retention.
func (s *FileStore) Messages(ctx context.Context, partnerID string) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.migrateOnce.Do(s.migrateLegacy)

	key := partnerKey(partnerID)
	release := s.locks.acquire(key)
	defer release()
	return s.loadLocked(key)
}

// AllMessages merges every partner's log sorted by timestamp. Records that
// carry no partner ID of their own inherit it from their file name.
func (s *FileStore) AllMessages(ctx context.Context) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.migrateOnce.Do(s.migrateLegacy)

	keys, err := s.logKeys()
	if err != nil {
		return nil, err
	}

	var all []domain.Message
	for _, key := range keys {
		release := s.locks.acquire(key)
		msgs, loadErr := s.loadLocked(key)
		release()
		if loadErr != nil {
			return nil, loadErr
		}
		for _, m := range msgs {
			if m.PartnerID == "" {
				m.PartnerID = key
			}
			all = append(all, m)
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})
	return all, nil
}

// BulkImport replaces a partner's log wholesale, as after a history backfill.
func (s *FileStore) BulkImport(ctx context.Context, partnerID string, msgs []domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.migrateOnce.Do(s.migrateLegacy)

	key := partnerKey(partnerID)
	release := s.locks.acquire(key)
	defer release()
	return s.saveLocked(key, msgs)
}

// Profile returns a partner's stored profile text, or "" when none exists.
func (s *FileStore) Profile(ctx context.Context, partnerID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.migrateOnce.Do(s.migrateLegacy)

	key := partnerKey(partnerID)
	release := s.locks.acquire(key)
	defer release()

	data, err := os.ReadFile(s.profilePath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read profile %s: %w", key, err)
	}
	return string(data), nil
}

// WriteProfile overwrites a partner's profile text.
func (s *FileStore) WriteProfile(ctx context.Context, partnerID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.migrateOnce.Do(s.migrateLegacy)

	key := partnerKey(partnerID)
	release := s.locks.acquire(key)
	defer release()

	if err := shared.WriteFileAtomic(s.profilePath(key), []byte(text)); err != nil {
		return fmt.Errorf("write profile %s: %w", key, err)
	}
	return nil
}

// IsSynced reports whether the partner's history backfill marker exists.
func (s *FileStore) IsSynced(ctx context.Context, partnerID string) bool {
	if ctx.Err() != nil {
		return false
	}
	s.migrateOnce.Do(s.migrateLegacy)

	_, err := os.Stat(s.syncedPath(partnerKey(partnerID)))
	return err == nil
}

// MarkSynced records that the partner's history backfill completed.
func (s *FileStore) MarkSynced(ctx context.Context, partnerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.migrateOnce.Do(s.migrateLegacy)

	key := partnerKey(partnerID)
	release := s.locks.acquire(key)
	defer release()

	if err := shared.WriteFileAtomic(s.syncedPath(key), nil); err != nil {
		return fmt.Errorf("mark synced %s: %w", key, err)
	}
	return nil
}

// loadLocked reads a partner's log and applies retention. A pruned log is
// rewritten in place; a log emptied by pruning is deleted. Caller holds the
// partner lock.
func (s *FileStore) loadLocked(key string) ([]domain.Message, error) {
	var msgs []domain.Message
	ok, err := shared.ReadJSONFile(s.logPath(key), &msgs)
	if err != nil {
		return nil, fmt.Errorf("load log %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}

	now := time.Now()
	kept := msgs[:0]
	for _, m := range msgs {
		if !m.Expired(now, RetentionWindow) {
			kept = append(kept, m)
		}
	}
	if len(kept) == len(msgs) {
		return kept, nil
	}
	if err := s.saveLocked(key, kept); err != nil {
		// The pruned view is still correct; the rewrite retries next load.
		slog.Warn("Failed to rewrite pruned log", "partner", key, "error", err)
	}
	return kept, nil
}

// saveLocked writes a partner's log, deleting the file when the log is
// empty. Caller holds the partner lock.
func (s *FileStore) saveLocked(key string, msgs []domain.Message) error {
	path := s.logPath(key)
	if len(msgs) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove empty log %s: %w", key, err)
		}
		return nil
	}
	if err := shared.WriteJSONFileAtomic(path, msgs); err != nil {
		return fmt.Errorf("save log %s: %w", key, err)
	}
	return nil
}

// logKeys lists the partner keys that currently have a log file.
func (s *FileStore) logKeys() ([]string, error) {
	entries, err := os.ReadDir(s.messagesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list message directory: %w", err)
	}

	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileStore) messagesDir() string {
	return filepath.Join(s.dataDir, "messages")
}

func (s *FileStore) logPath(key string) string {
	return filepath.Join(s.messagesDir(), key+".json")
}

func (s *FileStore) profilePath(key string) string {
	return filepath.Join(s.messagesDir(), key+".md")
}

func (s *FileStore) syncedPath(key string) string {
	return filepath.Join(s.messagesDir(), key+".synced")
}

// partnerKey maps a partner ID to a file-name-safe log key. Empty IDs fall
// back to a shared unknown log.
func partnerKey(partnerID string) string {
	id := strings.TrimSpace(partnerID)
	if id == "" {
		return unknownPartner
	}
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
