package hostcfg

import (
	"strings"

	"github.com/kokistudios/modelstamp/internal/alias"
)

// StampTemplate returns the first non-blank responsePrefix in the document,
// else fallback.
func (d *Doc) StampTemplate(fallback string) string {
	for _, s := range d.Prefixes() {
		if v := strings.TrimSpace(s.Value); v != "" {
			return v
		}
	}
	return fallback
}

// NewResolver returns a resolver over cfg backed by agent's live auth store
// under home. A missing or unreadable store resolves without live data.
func NewResolver(cfg alias.Config, home, agent string) *alias.Resolver {
	st, err := LoadAuthProfileStore(AuthProfilesPath(home, agent))
	if err != nil {
		return alias.NewResolver(cfg, nil)
	}
	return alias.NewResolver(cfg, st)
}
