package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/turnpike-ai/turnpike/provider"
)

// StaticPreferenceSource serves AgentPreference records from an in-memory
// map. Suitable for tests and for configuration-file backed deployments; a
// database-backed source implements the same interface.
type StaticPreferenceSource struct {
	mu    sync.RWMutex
	prefs map[string]AgentPreference
}

// NewStaticPreferenceSource creates a source from the given records.
func NewStaticPreferenceSource(prefs map[string]AgentPreference) *StaticPreferenceSource {
	if prefs == nil {
		prefs = map[string]AgentPreference{}
	}
	return &StaticPreferenceSource{prefs: prefs}
}

// Preference implements PreferenceSource.
func (s *StaticPreferenceSource) Preference(_ context.Context, agentID string) (AgentPreference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pref, ok := s.prefs[agentID]
	if !ok {
		return AgentPreference{}, fmt.Errorf("agent %s: %w", agentID, ErrNoPreference)
	}
	return pref, nil
}

// Set stores or replaces a preference record.
func (s *StaticPreferenceSource) Set(agentID string, pref AgentPreference) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[agentID] = pref
}

// StaticCredentialSource serves API keys from an in-memory map keyed by
// provider name. Real deployments back this with a secret vault collaborator.
type StaticCredentialSource struct {
	keys map[provider.Name]string
}

// NewStaticCredentialSource creates a source from the given keys.
func NewStaticCredentialSource(keys map[provider.Name]string) *StaticCredentialSource {
	if keys == nil {
		keys = map[provider.Name]string{}
	}
	return &StaticCredentialSource{keys: keys}
}

// APIKey implements CredentialSource. A missing key is not an error; SDK
// clients fall back to their ambient environment configuration.
func (s *StaticCredentialSource) APIKey(_ context.Context, name provider.Name) (string, error) {
	return s.keys[name], nil
}
