// Package identity manages the responder's persona definition.
package identity

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ashureev/replyd/internal/config"
	"github.com/ashureev/replyd/internal/shared"
)

// DefaultPersona seeds the persona file on first use.
const DefaultPersona = `You are replying on behalf of the account owner, who is away right now.
Act as a friendly conversational partner: keep replies short, warm and
natural, and match the language the partner writes in. Never announce that
you are automated. When something needs the owner's personal decision, say
they will follow up soon.`

// MaxPersonaLen caps the persona size accepted through the API.
const MaxPersonaLen = 50000

const personaFileName = "IDENTITY.md"

// Manager owns the persona file under the data directory.
type Manager struct {
	path string
	mu   sync.Mutex
}

// NewManager returns a manager for <dataDir>/IDENTITY.md.
func NewManager(dataDir string) *Manager {
	return &Manager{path: filepath.Join(dataDir, personaFileName)}
}

// Load returns the persona text, seeding the default on first use.
func (m *Manager) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if err == nil {
		return string(data), nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("read persona: %w", err)
	}

	if err := shared.WriteFileAtomic(m.path, []byte(DefaultPersona)); err != nil {
		return "", fmt.Errorf("seed persona: %w", err)
	}
	return DefaultPersona, nil
}

// Save atomically replaces the persona text.
func (m *Manager) Save(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := shared.WriteFileAtomic(m.path, []byte(text)); err != nil {
		return fmt.Errorf("save persona: %w", err)
	}
	return nil
}

// MigrateLegacyPrompt moves a persona stored under the legacy SYSTEM_PROMPT
// settings key into the persona file. The overlay copy is removed either
// way; an existing persona file is never overwritten.
func (m *Manager) MigrateLegacyPrompt(p *config.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	legacy, ok, err := p.TakeOverlay("SYSTEM_PROMPT")
	if err != nil {
		return fmt.Errorf("read legacy persona: %w", err)
	}
	if !ok || strings.TrimSpace(legacy) == "" {
		return nil
	}

	if _, err := os.Stat(m.path); err == nil {
		slog.Info("Dropped legacy SYSTEM_PROMPT in favor of existing persona file")
		return nil
	}

	if err := shared.WriteFileAtomic(m.path, []byte(legacy)); err != nil {
		return fmt.Errorf("migrate legacy persona: %w", err)
	}
	slog.Info("Migrated legacy SYSTEM_PROMPT into persona file")
	return nil
}
