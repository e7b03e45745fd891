// Package stamp renders the short model stamp attached to outgoing messages
// and implements the append/prepend rule the host applies at send time.
package stamp

import (
	"regexp"
	"strings"

	"github.com/kokistudios/modelstamp/internal/alias"
)

// Context is the per-message input to Render.
type Context struct {
	Provider      string
	RawModel      string
	AuthKind      string
	Identity      string
	ThinkingLevel string
}

// Resolved holds every segment of a stamp after alias resolution.
type Resolved struct {
	Provider      string // provider alias + auth letter (+ "." + source)
	ProviderAlias string
	Auth          string
	Source        string
	Model         string
	ModelFull     string
	Identity      string
	ThinkingLevel string
}

// Resolve runs the alias resolver over ctx.
func Resolve(r *alias.Resolver, ctx Context) Resolved {
	res := Resolved{
		ProviderAlias: r.ResolveProvider(ctx.Provider),
		Auth:          r.ResolveAuthLetter(ctx.Provider, ctx.AuthKind),
		Source:        r.ResolveSource(ctx.Provider, ctx.RawModel),
		Model:         r.ResolveModel(ctx.RawModel),
		ModelFull:     ctx.Provider + "/" + ctx.RawModel,
		Identity:      alias.IdentityInitial(ctx.Identity),
		ThinkingLevel: ctx.ThinkingLevel,
	}
	if res.ThinkingLevel == "" {
		res.ThinkingLevel = "off"
	}
	res.Provider = res.ProviderAlias + res.Auth
	if res.Source != "" {
		res.Provider += "." + res.Source
	}
	return res
}

var tokenPattern = regexp.MustCompile(`\{([A-Za-z]+)\}`)

// Fill substitutes resolved segments into template. Token names are matched
// case-insensitively; unknown tokens are left as they are so a typo in the
// template stays visible in the output.
func (res Resolved) Fill(template string) string {
	values := map[string]string{
		"provider":      res.Provider,
		"auth":          res.Auth,
		"source":        res.Source,
		"model":         res.Model,
		"modelfull":     res.ModelFull,
		"identityname":  res.Identity,
		"identity":      res.Identity,
		"thinkinglevel": res.ThinkingLevel,
	}
	return tokenPattern.ReplaceAllStringFunc(template, func(tok string) string {
		if v, ok := values[strings.ToLower(tok[1:len(tok)-1])]; ok {
			return v
		}
		return tok
	})
}

// Render produces the stamp for ctx. The append-mode prefix is not part of
// the stamp and is stripped from template before substitution.
func Render(r *alias.Resolver, ctx Context, template string) string {
	return Resolve(r, ctx).Fill(strings.TrimPrefix(template, alias.AppendModePrefix))
}

// IsAppendMode reports whether template selects append (postfix) behavior.
func IsAppendMode(template string) bool {
	return strings.HasPrefix(template, alias.AppendModePrefix)
}

// EnsureAppendTemplate trims template and adds the append-mode prefix if it
// is missing. It returns "" for a blank template.
func EnsureAppendTemplate(template string) string {
	t := strings.TrimSpace(template)
	if t == "" {
		return ""
	}
	if !IsAppendMode(t) {
		t = alias.AppendModePrefix + t
	}
	return t
}
