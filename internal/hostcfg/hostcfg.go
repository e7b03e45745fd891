// Package hostcfg reads and rewrites the host application's openclaw.json.
package hostcfg

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/kokistudios/modelstamp/internal/stamp"
	"github.com/kokistudios/modelstamp/internal/store"
)

// Doc is a parsed host config. Numbers are kept as json.Number so a rewrite
// does not alter them.
type Doc struct {
	Path   string
	Exists bool
	Root   map[string]any
}

// Load reads the host config at path. Comments and trailing commas are
// accepted. A missing file yields an empty document with Exists false.
func Load(path string) (*Doc, error) {
	d := &Doc{Path: path, Root: map[string]any{}}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read host config: %w", err)
	}
	d.Exists = true

	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	dec.UseNumber()
	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("invalid host config %s: %w", path, err)
	}
	obj, ok := root.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invalid host config %s: top level is not an object", path)
	}
	d.Root = obj
	return d, nil
}

// lookup walks keys through nested objects.
func lookup(v any, keys ...string) (any, bool) {
	for _, k := range keys {
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		if v, ok = obj[k]; !ok {
			return nil, false
		}
	}
	return v, true
}

func lookupString(v any, keys ...string) string {
	got, _ := lookup(v, keys...)
	s, _ := got.(string)
	return s
}

func telegram(root map[string]any) (map[string]any, bool) {
	v, ok := lookup(root, "channels", "telegram")
	if !ok {
		return nil, false
	}
	obj, ok := v.(map[string]any)
	return obj, ok
}

// PrefixSlot is one responsePrefix value in the host config.
type PrefixSlot struct {
	Key   string
	Value string
}

// Prefixes returns the channel prefix and every account prefix, in key order.
func (d *Doc) Prefixes() []PrefixSlot {
	tg, ok := telegram(d.Root)
	if !ok {
		return nil
	}
	out := []PrefixSlot{{Key: "channels.telegram.responsePrefix", Value: lookupString(tg, "responsePrefix")}}
	accounts, _ := tg["accounts"].(map[string]any)
	for _, id := range sortedKeys(accounts) {
		if _, ok := accounts[id].(map[string]any); !ok {
			continue
		}
		out = append(out, PrefixSlot{
			Key:   "channels.telegram.accounts." + id + ".responsePrefix",
			Value: lookupString(accounts[id], "responsePrefix"),
		})
	}
	return out
}

// InAppendMode reports whether every configured prefix selects append mode.
// A config without a telegram channel is not in append mode.
func (d *Doc) InAppendMode() bool {
	slots := d.Prefixes()
	if len(slots) == 0 {
		return false
	}
	for _, s := range slots {
		if !stamp.IsAppendMode(s.Value) {
			return false
		}
	}
	return true
}

// EnsureAppendPrefix sets the channel prefix and every account prefix to the
// append-mode form of template. It creates channels.telegram when missing and
// returns how many keys changed.
func (d *Doc) EnsureAppendPrefix(template string) int {
	want := stamp.EnsureAppendTemplate(template)
	if want == "" {
		return 0
	}
	channels, ok := d.Root["channels"].(map[string]any)
	if !ok {
		channels = map[string]any{}
		d.Root["channels"] = channels
	}
	tg, ok := channels["telegram"].(map[string]any)
	if !ok {
		tg = map[string]any{}
		channels["telegram"] = tg
	}

	changed := 0
	if s, _ := tg["responsePrefix"].(string); s != want {
		tg["responsePrefix"] = want
		changed++
	}
	accounts, _ := tg["accounts"].(map[string]any)
	for _, id := range sortedKeys(accounts) {
		acct, ok := accounts[id].(map[string]any)
		if !ok {
			continue
		}
		if s, _ := acct["responsePrefix"].(string); s != want {
			acct["responsePrefix"] = want
			changed++
		}
	}
	return changed
}

// Models returns the primary model followed by the fallbacks, without
// duplicates or blanks.
func (d *Doc) Models() []string {
	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	add(lookupString(d.Root, "agents", "defaults", "model", "primary"))
	if list, ok := lookup(d.Root, "agents", "defaults", "model", "fallbacks"); ok {
		items, _ := list.([]any)
		for _, it := range items {
			if s, ok := it.(string); ok {
				add(s)
			}
		}
	}
	return out
}

// PrimaryModel returns agents.defaults.model.primary.
func (d *Doc) PrimaryModel() string {
	return strings.TrimSpace(lookupString(d.Root, "agents", "defaults", "model", "primary"))
}

// AuthMode returns the configured auth mode for provider from auth.profiles:
// the "<provider>:default" profile when present, else the first profile (by
// id) naming that provider.
func (d *Doc) AuthMode(provider string) string {
	v, _ := lookup(d.Root, "auth", "profiles")
	profiles, _ := v.(map[string]any)
	if mode := lookupString(profiles, provider+":default", "mode"); mode != "" {
		return mode
	}
	for _, id := range sortedKeys(profiles) {
		if lookupString(profiles[id], "provider") == provider {
			return lookupString(profiles[id], "mode")
		}
	}
	return ""
}

// Encode renders the document with two-space indentation and a trailing
// newline. Object keys come out sorted and comments are not preserved.
func (d *Doc) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d.Root); err != nil {
		return nil, fmt.Errorf("failed to encode host config: %w", err)
	}
	return buf.Bytes(), nil
}

// Save backs up the existing file into backupDir, then writes the document
// atomically. It returns the backup path, "" when there was no file.
func (d *Doc) Save(backupDir string, now time.Time) (string, error) {
	data, err := d.Encode()
	if err != nil {
		return "", err
	}
	var backup string
	if d.Exists {
		if backup, err = store.BackupFile(d.Path, backupDir, now); err != nil {
			return "", err
		}
	} else if err := os.MkdirAll(filepath.Dir(d.Path), 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", filepath.Dir(d.Path), err)
	}
	if err := store.WriteFileAtomic(d.Path, data, store.FileMode(d.Path, 0600)); err != nil {
		return "", fmt.Errorf("failed to write host config: %w", err)
	}
	d.Exists = true
	return backup, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
