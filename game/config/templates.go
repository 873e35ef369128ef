package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/wricardo/mcp-training/gamehub/game/state"
)

var ErrTemplateNotFound = errors.New("template not found")

// Template is a named starting state for new sessions.
type Template struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	CanUndo     bool            `json:"can_undo"`
	Data        json.RawMessage `json:"data"`
}

// TemplateInfo describes a template file.
type TemplateInfo struct {
	Filename    string `json:"filename"`
	TemplateID  string `json:"template_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Document builds the seed state for a session with the given players.
func (t *Template) Document(players []string) *state.Document {
	data := json.RawMessage(`{}`)
	if len(t.Data) > 0 {
		data = append(json.RawMessage(nil), t.Data...)
	}
	return &state.Document{
		Players: append([]string(nil), players...),
		Data:    data,
		CanUndo: t.CanUndo,
	}
}

func (t *Template) validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: template name is required", ErrInvalidConfig)
	}
	if len(t.Data) > 0 && !json.Valid(t.Data) {
		return fmt.Errorf("%w: template data is not valid JSON", ErrInvalidConfig)
	}
	return nil
}

// Manager handles template loading and caching
type Manager struct {
	dir             string
	defaultTemplate *Template
	templates       map[string]*Template
	mu              sync.RWMutex
}

// NewManager creates a template manager over dir.
func NewManager(dir string) (*Manager, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, fmt.Errorf("templates directory does not exist: %s", dir)
	}

	m := &Manager{
		dir:       dir,
		templates: make(map[string]*Template),
	}
	m.loadDefaultTemplate()
	return m, nil
}

// LoadTemplate loads a template by id (file name without .json).
func (m *Manager) LoadTemplate(id string) (*Template, error) {
	id = strings.TrimSuffix(id, ".json")
	if id == "" || strings.ContainsAny(id, `/\`) || id == ".." {
		return nil, ErrTemplateNotFound
	}

	m.mu.RLock()
	if t, exists := m.templates[id]; exists {
		m.mu.RUnlock()
		return t, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if t, exists := m.templates[id]; exists {
		return t, nil
	}

	data, err := os.ReadFile(filepath.Join(m.dir, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
		}
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}

	var t Template
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: failed to parse template %s: %v", ErrInvalidConfig, id, err)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}

	m.templates[id] = &t
	return &t, nil
}

// ListTemplates returns every valid template in the directory, sorted by id.
func (m *Manager) ListTemplates() ([]*TemplateInfo, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read templates directory: %w", err)
	}

	var infos []*TemplateInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		t, err := m.LoadTemplate(id)
		if err != nil {
			// Skip invalid templates
			continue
		}
		infos = append(infos, &TemplateInfo{
			Filename:    entry.Name(),
			TemplateID:  id,
			Name:        t.Name,
			Description: t.Description,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].TemplateID < infos[j].TemplateID })
	return infos, nil
}

// TemplateCheck is the validation result for one template file.
type TemplateCheck struct {
	TemplateID string
	Err        error
}

// ValidateAll parses every .json file in the directory, bypassing the cache,
// and reports one result per file sorted by id.
func (m *Manager) ValidateAll() ([]TemplateCheck, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read templates directory: %w", err)
	}

	var checks []TemplateCheck
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		checks = append(checks, TemplateCheck{TemplateID: id, Err: m.check(id)})
	}
	sort.Slice(checks, func(i, j int) bool { return checks[i].TemplateID < checks[j].TemplateID })
	return checks, nil
}

func (m *Manager) check(id string) error {
	data, err := os.ReadFile(filepath.Join(m.dir, id+".json"))
	if err != nil {
		return fmt.Errorf("failed to read template file: %w", err)
	}
	var t Template
	if err := json.Unmarshal(data, &t); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return t.validate()
}

// GetDefault returns the default template.
func (m *Manager) GetDefault() *Template {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultTemplate
}

// SaveTemplate validates t and writes it to disk.
func (m *Manager) SaveTemplate(id string, t *Template) error {
	if err := t.validate(); err != nil {
		return err
	}
	id = strings.TrimSuffix(id, ".json")
	if id == "" || strings.ContainsAny(id, `/\`) || id == ".." {
		return fmt.Errorf("%w: invalid template id %q", ErrInvalidConfig, id)
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal template: %w", err)
	}
	if err := os.WriteFile(filepath.Join(m.dir, id+".json"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write template file: %w", err)
	}

	m.mu.Lock()
	m.templates[id] = t
	m.mu.Unlock()
	return nil
}

// RefreshCache drops cached templates so the next load reads from disk.
func (m *Manager) RefreshCache() {
	m.mu.Lock()
	m.templates = make(map[string]*Template)
	m.mu.Unlock()
	m.loadDefaultTemplate()
}

// loadDefaultTemplate prefers "default", then the first valid template, then
// an empty document.
func (m *Manager) loadDefaultTemplate() {
	t, err := m.LoadTemplate("default")
	if err != nil {
		infos, listErr := m.ListTemplates()
		if listErr == nil && len(infos) > 0 {
			t, err = m.LoadTemplate(infos[0].TemplateID)
		}
	}
	if err != nil || t == nil {
		t = &Template{Name: "empty", Description: "Empty document", Data: json.RawMessage(`{}`)}
	}

	m.mu.Lock()
	m.defaultTemplate = t
	m.mu.Unlock()
}
