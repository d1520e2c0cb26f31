package config

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/c360/flowcanvas/errors"
	"github.com/c360/flowcanvas/natsclient"
)

// Reloadable sections, one bucket key each
const (
	SectionLog       = "log"
	SectionValidator = "validator"
	SectionPreview   = "preview"
	SectionBranch    = "branch"
)

// Sections lists the keys Manager mirrors
var Sections = []string{SectionLog, SectionValidator, SectionPreview, SectionBranch}

// KV is the bucket surface Manager needs; natsclient.KVStore satisfies it
type KV interface {
	Get(ctx context.Context, key string) (natsclient.KVEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Watch(ctx context.Context, pattern string) (<-chan natsclient.KVEntry, error)
}

// Update announces an applied section change
type Update struct {
	Section string
	Config  *Config
}

// Manager keeps reloadable sections in sync with a key-value bucket. On
// Start, sections missing from the bucket are seeded from the local config
// and sections already there override it. Later edits to the bucket are
// validated and applied; invalid edits are logged and dropped.
type Manager struct {
	config *SafeConfig
	kv     KV
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[string][]chan Update

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a manager for cfg over kv
func NewManager(cfg *Config, kv KV, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		config: NewSafeConfig(cfg),
		kv:     kv,
		logger: logger.With("component", "config-manager"),
		subs:   make(map[string][]chan Update),
	}
}

// Config returns the live configuration
func (m *Manager) Config() *SafeConfig {
	return m.config
}

// OnChange returns a channel receiving updates for section, or for every
// section when section is "*". Delivery never blocks: a subscriber that has
// not drained its previous update misses the next one.
func (m *Manager) OnChange(section string) <-chan Update {
	ch := make(chan Update, 1)
	m.mu.Lock()
	m.subs[section] = append(m.subs[section], ch)
	m.mu.Unlock()
	return ch
}

// Start seeds or loads every section, then watches the bucket
func (m *Manager) Start(ctx context.Context) error {
	for _, section := range Sections {
		entry, err := m.kv.Get(ctx, section)
		switch {
		case natsclient.IsKVNotFoundError(err):
			if err := m.push(ctx, section); err != nil {
				return err
			}
		case err != nil:
			return errors.WrapTransient(err, "config", "Start", "load section "+section)
		default:
			if err := m.apply(section, entry.Value); err != nil {
				m.logger.Warn("stored section rejected, keeping local values", "section", section, "error", err)
			}
		}
	}

	wctx, cancel := context.WithCancel(ctx)
	updates, err := m.kv.Watch(wctx, ">")
	if err != nil {
		cancel()
		return errors.WrapTransient(err, "config", "Start", "watch bucket")
	}
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for entry := range updates {
			if entry.Value == nil {
				continue
			}
			if err := m.apply(entry.Key, entry.Value); err != nil {
				m.logger.Warn("config update rejected", "section", entry.Key, "revision", entry.Revision, "error", err)
			}
		}
	}()
	m.logger.Info("config manager started", "sections", Sections)
	return nil
}

// Stop ends the watch and closes every subscriber channel
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, chans := range m.subs {
		for _, ch := range chans {
			close(ch)
		}
		delete(m.subs, key)
	}
}

// Push writes the current value of section to the bucket
func (m *Manager) Push(ctx context.Context, section string) error {
	if !slices.Contains(Sections, section) {
		return errors.WrapInvalid(errors.Newf(errors.ErrInvalidArgument, "unknown section %q", section),
			"config", "Push", "select section")
	}
	return m.push(ctx, section)
}

func (m *Manager) push(ctx context.Context, section string) error {
	data, err := yaml.Marshal(sectionOf(m.config.Get(), section))
	if err != nil {
		return errors.WrapFatal(err, "config", "Push", "encode section "+section)
	}
	if _, err := m.kv.Put(ctx, section, data); err != nil {
		return errors.WrapTransient(err, "config", "Push", "store section "+section)
	}
	return nil
}

// apply decodes value over a copy of the current config and swaps it in
func (m *Manager) apply(section string, value []byte) error {
	if !slices.Contains(Sections, section) {
		return errors.Newf(errors.ErrInvalidArgument, "section %q is not reloadable", section)
	}
	next := m.config.Get()
	if err := decodeInto(sectionOf(next, section), value); err != nil {
		return err
	}
	if err := m.config.Update(next); err != nil {
		return err
	}
	m.logger.Info("config section applied", "section", section)
	m.notify(Update{Section: section, Config: next})
	return nil
}

func (m *Manager) notify(u Update) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, key := range []string{u.Section, "*"} {
		for _, ch := range m.subs[key] {
			select {
			case ch <- u:
			default:
			}
		}
	}
}

// sectionOf returns a pointer to the named section of cfg
func sectionOf(cfg *Config, section string) any {
	switch section {
	case SectionLog:
		return &cfg.Log
	case SectionValidator:
		return &cfg.Validator
	case SectionPreview:
		return &cfg.Preview
	case SectionBranch:
		return &cfg.Branch
	}
	return nil
}
