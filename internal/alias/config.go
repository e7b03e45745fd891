package alias

import (
	"sort"
	"strings"
)

// AppendModePrefix marks a response prefix template as append (postfix) mode.
// Any other template is rendered in legacy prepend mode.
const AppendModePrefix = "postfix:"

// DefaultTemplate is the response prefix template used when none is configured.
const DefaultTemplate = AppendModePrefix + "{provider}/{model}@{identityname}"

// Fallback holds truncation lengths used when an alias table has no entry.
type Fallback struct {
	ModelLength    int `json:"model_length,omitempty" yaml:"model_length,omitempty"`
	ProviderLength int `json:"provider_length,omitempty" yaml:"provider_length,omitempty"`
	SourceLength   int `json:"source_length,omitempty" yaml:"source_length,omitempty"`
}

// Config is the alias configuration file. The same type describes the
// built-in defaults, the user's file, and the merged view of both.
type Config struct {
	ResponsePrefixTemplate string                       `json:"response_prefix_template,omitempty" yaml:"response_prefix_template,omitempty"`
	ModelAliases           map[string]string            `json:"model_aliases,omitempty" yaml:"model_aliases,omitempty"`
	ProviderAliases        map[string]string            `json:"provider_aliases,omitempty" yaml:"provider_aliases,omitempty"`
	SourceAliases          map[string]string            `json:"source_aliases,omitempty" yaml:"source_aliases,omitempty"`
	AuthModeOverrides      map[string]map[string]string `json:"auth_mode_overrides,omitempty" yaml:"auth_mode_overrides,omitempty"`
	GatewayProviders       []string                     `json:"gateway_providers,omitempty" yaml:"gateway_providers,omitempty"`
	LocalProviders         []string                     `json:"local_providers,omitempty" yaml:"local_providers,omitempty"`
	Fallback               Fallback                     `json:"fallback,omitempty" yaml:"fallback,omitempty"`
}

// Default fallback lengths.
const (
	DefaultModelLength    = 12
	DefaultProviderLength = 2
	DefaultSourceLength   = 2
)

// DefaultConfig returns the built-in alias tables.
func DefaultConfig() Config {
	return Config{
		ResponsePrefixTemplate: DefaultTemplate,
		ModelAliases: map[string]string{
			"claude-opus-4-6":         "o46",
			"claude-sonnet-4-6":       "s46-1m",
			"claude-sonnet-4-5":       "s45",
			"claude-haiku-4-5":        "h45",
			"gpt-5.3-codex":           "53c",
			"gpt-5.2-codex":           "52c",
			"gpt-5.2":                 "52",
			"minimax-m2.5":            "m25",
			"glm-5":                   "g5",
			"kimi-k2.5":               "k25",
			"grok-4-1-fast":           "g41f",
			"grok-4-1-fast-reasoning": "g41fr",
		},
		ProviderAliases: map[string]string{
			"anthropic":         "an",
			"openrouter":        "or",
			"openai-codex":      "oc",
			"openai":            "oa",
			"vercel-ai-gateway": "ve",
			"opencode":          "op",
			"xai":               "xa",
			"lmstudio":          "lm",
		},
		SourceAliases: map[string]string{
			"openai":     "oa",
			"anthropic":  "an",
			"minimax":    "mm",
			"mistral":    "ms",
			"deepseek":   "ds",
			"google":     "gg",
			"meta-llama": "ml",
			"moonshotai": "mo",
			"z-ai":       "za",
			"zai":        "za",
			"xai":        "xa",
		},
		AuthModeOverrides: map[string]map[string]string{
			"anthropic":         {"token": "O"},
			"vercel-ai-gateway": {"api_key": "T"},
		},
		GatewayProviders: []string{"openrouter", "vercel-ai-gateway"},
		LocalProviders:   []string{"lmstudio"},
		Fallback: Fallback{
			ModelLength:    DefaultModelLength,
			ProviderLength: DefaultProviderLength,
			SourceLength:   DefaultSourceLength,
		},
	}
}

// Merge overlays custom on top of base and returns a new Config. Map entries
// in custom win per key; auth overrides merge per provider and kind. Lists
// in custom replace the base list when non-nil. Neither input is modified.
func Merge(base, custom Config) Config {
	out := Config{
		ResponsePrefixTemplate: base.ResponsePrefixTemplate,
		ModelAliases:           mergeStrings(base.ModelAliases, custom.ModelAliases),
		ProviderAliases:        mergeStrings(base.ProviderAliases, custom.ProviderAliases),
		SourceAliases:          mergeStrings(base.SourceAliases, custom.SourceAliases),
		AuthModeOverrides:      make(map[string]map[string]string),
		GatewayProviders:       copyList(base.GatewayProviders),
		LocalProviders:         copyList(base.LocalProviders),
		Fallback:               base.Fallback,
	}
	if custom.ResponsePrefixTemplate != "" {
		out.ResponsePrefixTemplate = custom.ResponsePrefixTemplate
	}
	for provider, kinds := range base.AuthModeOverrides {
		out.AuthModeOverrides[provider] = mergeStrings(nil, kinds)
	}
	for provider, kinds := range custom.AuthModeOverrides {
		out.AuthModeOverrides[provider] = mergeStrings(out.AuthModeOverrides[provider], kinds)
	}
	if custom.GatewayProviders != nil {
		out.GatewayProviders = copyList(custom.GatewayProviders)
	}
	if custom.LocalProviders != nil {
		out.LocalProviders = copyList(custom.LocalProviders)
	}
	if custom.Fallback.ModelLength != 0 {
		out.Fallback.ModelLength = custom.Fallback.ModelLength
	}
	if custom.Fallback.ProviderLength != 0 {
		out.Fallback.ProviderLength = custom.Fallback.ProviderLength
	}
	if custom.Fallback.SourceLength != 0 {
		out.Fallback.SourceLength = custom.Fallback.SourceLength
	}
	return out.Normalize()
}

// Normalize resets non-positive fallback lengths to their defaults, fills an
// empty template and guarantees non-nil maps.
func (c Config) Normalize() Config {
	if c.ResponsePrefixTemplate == "" {
		c.ResponsePrefixTemplate = DefaultTemplate
	}
	if c.Fallback.ModelLength <= 0 {
		c.Fallback.ModelLength = DefaultModelLength
	}
	if c.Fallback.ProviderLength <= 0 {
		c.Fallback.ProviderLength = DefaultProviderLength
	}
	if c.Fallback.SourceLength <= 0 {
		c.Fallback.SourceLength = DefaultSourceLength
	}
	if c.ModelAliases == nil {
		c.ModelAliases = map[string]string{}
	}
	if c.ProviderAliases == nil {
		c.ProviderAliases = map[string]string{}
	}
	if c.SourceAliases == nil {
		c.SourceAliases = map[string]string{}
	}
	if c.AuthModeOverrides == nil {
		c.AuthModeOverrides = map[string]map[string]string{}
	}
	return c
}

// IsGateway reports whether provider routes to upstream sources encoded in
// the model string.
func (c Config) IsGateway(provider string) bool {
	return contains(c.GatewayProviders, provider)
}

// IsLocal reports whether provider runs locally without credentials.
func (c Config) IsLocal(provider string) bool {
	return contains(c.LocalProviders, provider)
}

// TakenModelAliases returns the set of model alias values in use.
func (c Config) TakenModelAliases() map[string]bool {
	taken := make(map[string]bool, len(c.ModelAliases))
	for _, v := range c.ModelAliases {
		taken[v] = true
	}
	return taken
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func mergeStrings(base, custom map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(custom))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range custom {
		if strings.TrimSpace(v) == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func copyList(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
