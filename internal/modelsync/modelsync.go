// Package modelsync keeps the alias tables in step with the models the host
// is configured to use.
package modelsync

import (
	"sort"

	"github.com/kokistudios/modelstamp/internal/alias"
	"github.com/kokistudios/modelstamp/internal/store"
)

// Plan splits the host's models into those with an alias and those without.
// Both lists hold canonical names, sorted and deduplicated.
type Plan struct {
	Known   []string
	Missing []string
}

// Diff compares raw model refs ("provider/model") against cfg.
func Diff(refs []string, cfg alias.Config) Plan {
	known := make(map[string]bool)
	missing := make(map[string]bool)
	for _, ref := range refs {
		name := alias.CanonicalModel(ref)
		if name == "" {
			continue
		}
		if cfg.ModelAliases[name] != "" {
			known[name] = true
		} else {
			missing[name] = true
		}
	}
	return Plan{Known: sortedSet(known), Missing: sortedSet(missing)}
}

// Derive builds a short code for every missing model. Codes avoid every
// alias already in cfg and each other.
func Derive(plan Plan, cfg alias.Config) map[string]string {
	cfg = cfg.Normalize()
	taken := cfg.TakenModelAliases()
	out := make(map[string]string, len(plan.Missing))
	for _, name := range plan.Missing {
		code := alias.DeriveShortCode(name, cfg.Fallback.ModelLength, taken)
		taken[code] = true
		out[name] = code
	}
	return out
}

// Persist adds additions to the model_aliases of the user config at path.
// Entries the user already has are kept. It returns how many aliases were
// written; zero means the file was not touched.
func Persist(path string, additions map[string]string) (int, error) {
	if len(additions) == 0 {
		return 0, nil
	}
	l, err := store.LoadConfig(path)
	if err != nil {
		return 0, err
	}
	custom := l.Custom
	if custom.ModelAliases == nil {
		custom.ModelAliases = map[string]string{}
	}
	added := 0
	for _, name := range alias.SortedKeys(additions) {
		if custom.ModelAliases[name] != "" {
			continue
		}
		custom.ModelAliases[name] = additions[name]
		added++
	}
	if added == 0 {
		return 0, nil
	}
	if err := store.SaveConfig(path, custom); err != nil {
		return 0, err
	}
	return added, nil
}

func sortedSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
