package patch

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/kokistudios/modelstamp/internal/alias"
)

// tables are the alias tables baked into a bundle as JavaScript literals.
type tables struct {
	models    string
	providers string
	sources   string
	overrides string
	defaults  string
	gateways  string
	local     string
	lengths   string
}

func newTables(cfg alias.Config) (*tables, error) {
	cfg = cfg.Normalize()
	lengths := map[string]int{
		"model":    cfg.Fallback.ModelLength,
		"provider": cfg.Fallback.ProviderLength,
		"source":   cfg.Fallback.SourceLength,
	}
	gateways := cfg.GatewayProviders
	if gateways == nil {
		gateways = []string{}
	}
	local := cfg.LocalProviders
	if local == nil {
		local = []string{}
	}

	t := &tables{}
	for _, f := range []struct {
		dst *string
		v   any
	}{
		{&t.models, cfg.ModelAliases},
		{&t.providers, cfg.ProviderAliases},
		{&t.sources, cfg.SourceAliases},
		{&t.overrides, cfg.AuthModeOverrides},
		{&t.defaults, alias.DefaultAuthLetters},
		{&t.gateways, gateways},
		{&t.local, local},
		{&t.lengths, lengths},
	} {
		lit, err := jsLiteral(f.v)
		if err != nil {
			return nil, err
		}
		*f.dst = lit
	}
	return t, nil
}

// jsLiteral encodes v as compact JSON, which is also a valid JavaScript
// expression. Map keys come out sorted, so the output is stable.
func jsLiteral(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("failed to encode alias table: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
