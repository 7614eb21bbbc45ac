package config

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/turnpike-ai/turnpike/router"
)

// preferenceFile is the on-disk YAML shape:
//
//	agents:
//	  support-bot:
//	    provider: openai
//	    model: gpt-4o
//	    embedding_model: text-embedding-3-small
//	    params:
//	      temperature: 0.2
type preferenceFile struct {
	Agents map[string]router.AgentPreference `yaml:"agents"`
}

// FilePreferenceSource serves agent preferences from a YAML file. The file is
// read once; Reload swaps the whole map atomically so concurrent readers
// never see a partial update.
type FilePreferenceSource struct {
	path string

	mu     sync.RWMutex
	agents map[string]router.AgentPreference
}

// LoadPreferences reads the file at path and builds a source from it.
func LoadPreferences(path string) (*FilePreferenceSource, error) {
	s := &FilePreferenceSource{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the preference file.
func (s *FilePreferenceSource) Reload() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read preferences %s: %w", s.path, err)
	}
	var file preferenceFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse preferences %s: %w", s.path, err)
	}
	s.mu.Lock()
	s.agents = file.Agents
	s.mu.Unlock()
	return nil
}

// Preference implements router.PreferenceSource.
func (s *FilePreferenceSource) Preference(_ context.Context, agentID string) (router.AgentPreference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pref, ok := s.agents[agentID]
	if !ok {
		return router.AgentPreference{}, router.ErrNoPreference
	}
	return pref, nil
}
