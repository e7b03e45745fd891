package alias

import (
	"regexp"
	"strings"
	"unicode"
)

// Auth kinds as reported by the host's auth profiles.
const (
	AuthAPIKey       = "api_key"
	AuthOAuth        = "oauth"
	AuthToken        = "token"
	AuthGatewayToken = "gateway_token"
	AuthLocal        = "local"
)

// Unknown is rendered for any segment that cannot be resolved.
const Unknown = "?"

// unknownSource is rendered for a gateway model with an empty leading segment.
const unknownSource = "??"

// DefaultAuthLetters maps an auth kind to its stamp letter when no override applies.
var DefaultAuthLetters = map[string]string{
	AuthAPIKey:       "K",
	AuthOAuth:        "O",
	AuthToken:        "O",
	AuthGatewayToken: "T",
	AuthLocal:        "L",
}

// AuthStore reports the auth kind a provider is currently using, as recorded
// by the host's live credential store.
type AuthStore interface {
	AuthKind(provider string) (kind string, ok bool)
}

// Resolver resolves aliases against a merged Config.
type Resolver struct {
	cfg   Config
	store AuthStore
}

// NewResolver returns a Resolver over cfg. store may be nil.
func NewResolver(cfg Config, store AuthStore) *Resolver {
	return &Resolver{cfg: cfg.Normalize(), store: store}
}

// Config returns the merged configuration the resolver reads from.
func (r *Resolver) Config() Config {
	return r.cfg
}

var dateSuffix = regexp.MustCompile(`-(?:\d{8}|latest)$`)

// CanonicalModel strips any path-style provider prefix and trailing date or
// "-latest" suffixes: "anthropic/claude-sonnet-4-6-20250514" → "claude-sonnet-4-6".
func CanonicalModel(raw string) string {
	model := strings.TrimSpace(raw)
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}
	for {
		next := dateSuffix.ReplaceAllString(model, "")
		if next == model {
			return model
		}
		model = next
	}
}

// Slug lowercases s, drops everything but ASCII letters and digits and
// truncates to n bytes.
func Slug(s string, n int) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return truncate(b.String(), n)
}

// ResolveModel returns the short alias for a raw model string. It never
// returns an empty string.
func (r *Resolver) ResolveModel(rawModel string) string {
	short := CanonicalModel(rawModel)
	if v := r.cfg.ModelAliases[short]; v != "" {
		return v
	}
	if slug := Slug(short, r.cfg.Fallback.ModelLength); slug != "" {
		return slug
	}
	return Unknown
}

// ResolveProvider returns the short alias for a provider id.
func (r *Resolver) ResolveProvider(provider string) string {
	if v := r.cfg.ProviderAliases[provider]; v != "" {
		return v
	}
	if p := truncate(provider, r.cfg.Fallback.ProviderLength); p != "" {
		return p
	}
	return Unknown
}

// ResolveSource returns the upstream source segment for a gateway provider,
// or "" when provider is not a gateway.
func (r *Resolver) ResolveSource(provider, rawModel string) string {
	if !r.cfg.IsGateway(provider) {
		return ""
	}
	seg := strings.ToLower(strings.SplitN(strings.TrimSpace(rawModel), "/", 2)[0])
	if v := r.cfg.SourceAliases[seg]; v != "" {
		return v
	}
	if s := truncate(seg, r.cfg.Fallback.SourceLength); s != "" {
		return s
	}
	return unknownSource
}

// ResolveAuthLetter walks the auth chain in a fixed order:
//
//  1. explicit override for (provider, authKind)
//  2. the live auth store: override for the live kind, then the default letter for it
//  3. the default letter for authKind
//  4. "?"
//
// A local provider with no supplied kind is treated as AuthLocal.
func (r *Resolver) ResolveAuthLetter(provider, authKind string) string {
	if authKind == "" && r.cfg.IsLocal(provider) {
		authKind = AuthLocal
	}
	overrides := r.cfg.AuthModeOverrides[provider]
	if authKind != "" {
		if v := overrides[authKind]; v != "" {
			return v
		}
	}
	if r.store != nil {
		if live, ok := r.store.AuthKind(provider); ok && live != "" {
			if v := overrides[live]; v != "" {
				return v
			}
			if v := DefaultAuthLetters[live]; v != "" {
				return v
			}
		}
	}
	if v := DefaultAuthLetters[authKind]; v != "" {
		return v
	}
	return Unknown
}

// IdentityInitial returns the uppercased first character of identity.
// An empty identity yields the "?" sentinel.
func IdentityInitial(identity string) string {
	for _, r := range strings.TrimSpace(identity) {
		return string(unicode.ToUpper(r))
	}
	return Unknown
}

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for pos := range s {
		if count == n {
			return s[:pos]
		}
		count++
	}
	return s
}
