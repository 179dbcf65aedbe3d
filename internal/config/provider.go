package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/ashureev/replyd/internal/shared"
)

// SettingsKeys are the runtime-editable keys the overlay file may carry,
// named after their environment variables.
var SettingsKeys = []string{
	"API_ID",
	"API_HASH",
	"PHONE_NUMBER",
	"AUTO_RESPONSE_MESSAGE",
	"OPENAI_API_KEY",
	"OPENAI_MODEL",
	"RESPONSE_DELAY_MIN",
	"RESPONSE_DELAY_MAX",
	"READ_RECEIPT_DELAY_MIN",
	"READ_RECEIPT_DELAY_MAX",
	"NOTIFY_URL",
}

var settingsDefaults = map[string]string{
	"AUTO_RESPONSE_MESSAGE":  "I will get back to you shortly. Please wait a moment.",
	"OPENAI_MODEL":           "gpt-4o-mini",
	"RESPONSE_DELAY_MIN":     "3",
	"RESPONSE_DELAY_MAX":     "10",
	"READ_RECEIPT_DELAY_MIN": "1",
	"READ_RECEIPT_DELAY_MAX": "5",
}

// Settings are the runtime-editable knobs the pipeline reads fresh on every
// event, merged from defaults, environment and the saved overlay.
type Settings struct {
	APIID        string
	APIHash      string
	Phone        string
	AutoResponse string
	OpenAIKey    string
	OpenAIModel  string
	DelayMin     int // response delay window, seconds
	DelayMax     int
	ReadDelayMin int // read receipt delay window, seconds
	ReadDelayMax int
	NotifyURL    string
}

// IsConfigured reports whether the transport credentials are complete.
func (s Settings) IsConfigured() bool {
	return s.APIID != "" && s.APIHash != "" && s.Phone != ""
}

// Provider merges environment defaults with the runtime overlay file edited
// through the web UI. Overlay values win over environment values.
type Provider struct {
	path string
	mu   sync.Mutex
}

// NewProvider returns a provider whose overlay lives at <dataDir>/config.json.
func NewProvider(dataDir string) *Provider {
	return &Provider{path: filepath.Join(dataDir, "config.json")}
}

// Load returns the current merged settings. Junk numeric values fall back to
// their defaults; a corrupt overlay degrades to environment values alone.
func (p *Provider) Load() Settings {
	v := p.Values()
	return Settings{
		APIID:        v["API_ID"],
		APIHash:      v["API_HASH"],
		Phone:        v["PHONE_NUMBER"],
		AutoResponse: v["AUTO_RESPONSE_MESSAGE"],
		OpenAIKey:    v["OPENAI_API_KEY"],
		OpenAIModel:  v["OPENAI_MODEL"],
		DelayMin:     safeInt(v["RESPONSE_DELAY_MIN"], 3),
		DelayMax:     safeInt(v["RESPONSE_DELAY_MAX"], 10),
		ReadDelayMin: safeInt(v["READ_RECEIPT_DELAY_MIN"], 1),
		ReadDelayMax: safeInt(v["READ_RECEIPT_DELAY_MAX"], 5),
		NotifyURL:    v["NOTIFY_URL"],
	}
}

// Values returns the merged raw values for every settings key.
func (p *Provider) Values() map[string]string {
	merged := make(map[string]string, len(SettingsKeys))
	for _, key := range SettingsKeys {
		merged[key] = settingsDefaults[key]
		if v, ok := os.LookupEnv(key); ok {
			merged[key] = v
		}
	}
	for key, v := range p.Overlay() {
		merged[key] = v
	}
	return merged
}

// Overlay returns a copy of the saved overlay map, empty when absent or
// unreadable.
func (p *Provider) Overlay() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.overlayLocked()
}

// SaveOverlay merges values into the overlay file atomically. Keys are
// stored as given; filtering to known keys is the caller's concern.
func (p *Provider) SaveOverlay(values map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	overlay := p.overlayLocked()
	for key, v := range values {
		overlay[key] = v
	}
	if err := shared.WriteJSONFileAtomic(p.path, overlay); err != nil {
		return fmt.Errorf("save settings overlay: %w", err)
	}
	return nil
}

// TakeOverlay removes key from the overlay and returns its prior value.
// Used for one-time migrations of settings that moved elsewhere.
func (p *Provider) TakeOverlay(key string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	overlay := p.overlayLocked()
	v, ok := overlay[key]
	if !ok {
		return "", false, nil
	}
	delete(overlay, key)
	if err := shared.WriteJSONFileAtomic(p.path, overlay); err != nil {
		return "", false, fmt.Errorf("rewrite settings overlay: %w", err)
	}
	return v, true, nil
}

// overlayLocked reads the overlay file. Caller holds p.mu.
func (p *Provider) overlayLocked() map[string]string {
	overlay := make(map[string]string)
	if _, err := shared.ReadJSONFile(p.path, &overlay); err != nil {
		slog.Warn("Settings overlay is unreadable, using environment values", "error", err)
		return make(map[string]string)
	}
	return overlay
}

// safeInt parses raw as an integer, falling back on junk input.
func safeInt(raw string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return n
}
