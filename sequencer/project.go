package sequencer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// ErrNoSaveDir is returned by persistence calls when no directory is set.
var ErrNoSaveDir = errors.New("no save directory")

const projectsDir = "projects"

func (m *Manager) saveDir(sub ...string) (string, error) {
	if m.dir == "" {
		return "", ErrNoSaveDir
	}
	return filepath.Join(append([]string{m.dir}, sub...)...), nil
}

// fileName maps a sequence or project name to its file. A trailing
// ".json" is accepted so listed names can be passed back in.
func fileName(name string) string {
	return sanitizeFilename(strings.TrimSuffix(name, ".json")) + ".json"
}

func writeJSON(dir, name string, v any) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, fileName(name)), data, 0644)
}

func listJSON(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, strings.TrimSuffix(entry.Name(), ".json"))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Save writes one sequence to <dir>/<name>.json.
func (m *Manager) Save(name string) error {
	dir, err := m.saveDir()
	if err != nil {
		return err
	}
	seq, err := m.Sequence(name)
	if err != nil {
		return err
	}
	if err := writeJSON(dir, name, seq); err != nil {
		return fmt.Errorf("save %q: %w", name, err)
	}
	m.log.Info("sequence saved", zap.String("seq", name), zap.String("dir", dir))
	return nil
}

// Load reads a saved sequence and adds it, replacing a sequence of the
// same name.
func (m *Manager) Load(name string) error {
	dir, err := m.saveDir()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(filepath.Join(dir, fileName(name)))
	if err != nil {
		return fmt.Errorf("load %q: %w", name, err)
	}
	var seq Sequence
	if err := json.Unmarshal(data, &seq); err != nil {
		return fmt.Errorf("load %q: %w", name, err)
	}
	if seq.Name == "" {
		seq.Name = strings.TrimSuffix(name, ".json")
	}
	m.Put(&seq)
	m.log.Info("sequence loaded", zap.String("seq", seq.Name))
	return nil
}

// ListSaved returns the names of saved sequences.
func (m *Manager) ListSaved() ([]string, error) {
	dir, err := m.saveDir()
	if err != nil {
		return nil, err
	}
	return listJSON(dir)
}

func (m *Manager) RemoveSaved(name string) error {
	dir, err := m.saveDir()
	if err != nil {
		return err
	}
	return os.Remove(filepath.Join(dir, fileName(name)))
}

// SaveProject writes every sequence into one project file.
func (m *Manager) SaveProject(project string) error {
	if project == "" {
		project = "untitled"
	}
	dir, err := m.saveDir(projectsDir)
	if err != nil {
		return err
	}

	m.mu.RLock()
	all := make(map[string]*Sequence, len(m.seqs))
	for name, seq := range m.seqs {
		all[name] = seq.clone()
	}
	m.mu.RUnlock()

	if err := writeJSON(dir, project, all); err != nil {
		return fmt.Errorf("save project %q: %w", project, err)
	}
	m.log.Info("project saved", zap.String("project", project), zap.Int("sequences", len(all)))
	return nil
}

// LoadProject merges a saved project into the current sequences.
func (m *Manager) LoadProject(project string) error {
	dir, err := m.saveDir(projectsDir)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(filepath.Join(dir, fileName(project)))
	if err != nil {
		return fmt.Errorf("load project %q: %w", project, err)
	}
	var all map[string]*Sequence
	if err := json.Unmarshal(data, &all); err != nil {
		return fmt.Errorf("load project %q: %w", project, err)
	}
	for name, seq := range all {
		if seq == nil {
			continue
		}
		seq.Name = name
		m.Put(seq)
	}
	m.log.Info("project loaded", zap.String("project", project), zap.Int("sequences", len(all)))
	return nil
}

func (m *Manager) ListProjects() ([]string, error) {
	dir, err := m.saveDir(projectsDir)
	if err != nil {
		return nil, err
	}
	return listJSON(dir)
}

func (m *Manager) RemoveProject(project string) error {
	dir, err := m.saveDir(projectsDir)
	if err != nil {
		return err
	}
	return os.Remove(filepath.Join(dir, fileName(project)))
}

// sanitizeFilename removes/replaces characters that are problematic in filenames
func sanitizeFilename(name string) string {
	name = strings.NewReplacer(
		" ", "-", "/", "-", "\\", "-", ":", "-",
		"*", "", "?", "", "\"", "", "<", "", ">", "", "|", "",
	).Replace(name)
	if name == "" || name == "." || name == ".." {
		name = "untitled"
	}
	return name
}
