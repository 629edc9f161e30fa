package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v2"

	"github.com/venuesync/backend/internal/gate"
)

// VenueOverride holds the settings a single venue may change.
type VenueOverride struct {
	Thresholds ThresholdsConfig `yaml:"thresholds"`
}

// VenuesConfig holds map of venue overrides
type VenuesConfig struct {
	Venues map[string]VenueOverride `yaml:"venues"`
}

// Manager resolves effective per-venue settings on top of the global config.
type Manager struct {
	global    *Config
	base      gate.Thresholds
	overrides map[string]VenueOverride
	mu        sync.RWMutex
}

// NewManager loads the master config and the venue overrides. A missing
// venues file means no venue has overrides.
func NewManager(masterPath, venuesPath string) (*Manager, error) {
	master, err := LoadConfig(masterPath)
	if err != nil {
		return nil, err
	}
	m := NewManagerFor(master)
	if venuesPath == "" {
		return m, nil
	}
	if err := m.Reload(venuesPath); err != nil {
		return nil, err
	}
	return m, nil
}

// NewManagerFor wraps an already loaded config with no venue overrides.
func NewManagerFor(cfg *Config) *Manager {
	return &Manager{
		global:    cfg,
		base:      cfg.Gate.Thresholds.Apply(gate.DefaultThresholds()),
		overrides: make(map[string]VenueOverride),
	}
}

// Reload replaces the venue overrides with the contents of path.
func (m *Manager) Reload(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	var vc VenuesConfig
	if err := yaml.NewDecoder(f).Decode(&vc); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if vc.Venues == nil {
		vc.Venues = make(map[string]VenueOverride)
	}

	m.mu.Lock()
	m.overrides = vc.Venues
	m.mu.Unlock()
	return nil
}

// Global returns the master config.
func (m *Manager) Global() *Config { return m.global }

// Thresholds returns the approval limits for a venue. It is safe to pass
// to gate.WithVenueThresholds.
func (m *Manager) Thresholds(venueID string) gate.Thresholds {
	m.mu.RLock()
	override, ok := m.overrides[venueID]
	m.mu.RUnlock()
	if !ok {
		return m.base
	}
	return override.Thresholds.Apply(m.base)
}

// Venues returns the IDs that carry overrides.
func (m *Manager) Venues() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.overrides))
	for id := range m.overrides {
		ids = append(ids, id)
	}
	return ids
}
