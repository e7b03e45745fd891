package hostcfg

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"

	"github.com/kokistudios/modelstamp/internal/alias"
)

// DefaultAgent is the agent id used when none is given.
const DefaultAgent = "main"

// AuthProfilesPath returns the live credential store of agent under home.
func AuthProfilesPath(home, agent string) string {
	if agent == "" {
		agent = DefaultAgent
	}
	return filepath.Join(home, "agents", agent, "agent", "auth-profiles.json")
}

// AuthProfileStore is the host's record of which credential last worked for
// each provider.
type AuthProfileStore struct {
	LastGood map[string]string `json:"lastGood"`
	Profiles map[string]struct {
		Type     string `json:"type"`
		Provider string `json:"provider"`
	} `json:"profiles"`
}

var _ alias.AuthStore = (*AuthProfileStore)(nil)

// LoadAuthProfileStore reads the store at path.
func LoadAuthProfileStore(path string) (*AuthProfileStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s AuthProfileStore
	if err := json.Unmarshal(jsonc.ToJSON(data), &s); err != nil {
		return nil, fmt.Errorf("invalid auth profile store %s: %w", path, err)
	}
	return &s, nil
}

// AuthKind returns the type of the profile that last worked for provider.
func (s *AuthProfileStore) AuthKind(provider string) (string, bool) {
	if s == nil {
		return "", false
	}
	id := s.LastGood[provider]
	if id == "" {
		return "", false
	}
	p, ok := s.Profiles[id]
	if !ok || p.Type == "" {
		return "", false
	}
	return p.Type, true
}
