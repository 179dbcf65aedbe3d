package store

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ashureev/replyd/internal/domain"
	"github.com/ashureev/replyd/internal/shared"
)

// migrateLegacy partitions a pre-split combined log at <dataDir>/messages.json
// into per-partner files and renames the original aside. Runs at most once
// per process and is a no-op when no combined log exists.
func (s *FileStore) migrateLegacy() {
	legacy := filepath.Join(s.dataDir, "messages.json")
	if _, err := os.Stat(legacy); err != nil {
		return
	}

	var combined []domain.Message
	ok, err := shared.ReadJSONFile(legacy, &combined)
	if err != nil {
		// Set the unreadable file aside instead of retrying it forever.
		slog.Error("Legacy message log is unreadable", "error", err)
		s.renameLegacy(legacy)
		return
	}

	if ok {
		byPartner := make(map[string][]domain.Message)
		var order []string
		for _, m := range combined {
			key := partnerKey(m.PartnerID)
			if _, seen := byPartner[key]; !seen {
				order = append(order, key)
			}
			byPartner[key] = append(byPartner[key], m)
		}
		for _, key := range order {
			release := s.locks.acquire(key)
			saveErr := s.saveLocked(key, byPartner[key])
			release()
			if saveErr != nil {
				slog.Error("Legacy migration failed, keeping combined log", "partner", key, "error", saveErr)
				return
			}
		}
		slog.Info("Migrated legacy message log", "partners", len(order))
	}

	s.renameLegacy(legacy)
}

func (s *FileStore) renameLegacy(legacy string) {
	if err := os.Rename(legacy, legacy+".bak"); err != nil {
		slog.Error("Failed to set aside legacy message log", "error", err)
	}
}
