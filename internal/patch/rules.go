package patch

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kokistudios/modelstamp/internal/alias"
	"github.com/kokistudios/modelstamp/internal/bundle"
)

// Rule names.
const (
	RuleAppendMode      = "append-mode"
	RuleIdentityShort   = "identity-short"
	RuleModelCapture    = "model-capture"
	RuleProviderContext = "provider-context"
)

// Idempotency markers. Each is embedded exactly once in a patched bundle.
const (
	MarkerAppendMode      = "__MODELSTAMP_APPEND_MODE_V4__"
	MarkerIdentityShort   = "__MODELSTAMP_IDENTITY_SHORT_V4__"
	MarkerModelCapture    = "__MODELSTAMP_MODEL_CAPTURE_V4__"
	MarkerProviderContext = "__MODELSTAMP_PROVIDER_CONTEXT_V4__"
)

// Rule locates one anchor in a bundle and replaces it with a fenced
// injection. Rules of a family run in ascending Rank.
type Rule struct {
	Name   string
	Rank   int
	Marker string
	// Legacy markers left by older patchers. A bundle carrying one is
	// treated as already patched for this rule.
	Legacy []string
	// Requires names a rule whose marker must already be present.
	Requires string
	// Baked rules embed alias tables and are re-rendered under force.
	Baked bool

	literal string
	pattern *regexp.Regexp
	render  func(indent string, t *tables) string
}

// EndFence closes the region injected by r.
func (r Rule) EndFence() string {
	return "/* modelstamp:" + r.Name + ":end */"
}

func (r Rule) openFence() string {
	return "/* " + r.Marker + " */ "
}

func (r Rule) block(indent string, t *tables) string {
	return r.openFence() + r.render(indent, t) + " " + r.EndFence()
}

var (
	appendModeRule = Rule{
		Name:    RuleAppendMode,
		Rank:    10,
		Marker:  MarkerAppendMode,
		Legacy:  []string{"__POSTFIX_PATCHED__"},
		literal: "if (effectivePrefix && text && text.trim() !== HEARTBEAT_TOKEN && !text.startsWith(effectivePrefix)) text = `${effectivePrefix} ${text}`;",
		pattern: regexp.MustCompile(`if\s*\(\s*effectivePrefix\s*&&\s*text\s*&&\s*text\.trim\(\)\s*!==\s*HEARTBEAT_TOKEN\s*&&\s*!text\.startsWith\(effectivePrefix\)\s*\)\s*\{?\s*text\s*=\s*` + "`" + `\$\{effectivePrefix\}\s+\$\{text\}` + "`" + `;\s*\}?`),
		render:  renderAppendMode,
	}
	identityShortRule = Rule{
		Name:    RuleIdentityShort,
		Rank:    20,
		Marker:  MarkerIdentityShort,
		Legacy:  []string{"__MODELSTAMP_IDSHORT__"},
		literal: "const prefixContext = { identityName: resolveIdentityName(cfg, agentId) };",
		pattern: regexp.MustCompile(`const\s+prefixContext\s*=\s*\{\s*identityName:\s*resolveIdentityName\(cfg,\s*agentId\)\s*\};`),
		render:  renderIdentityShort,
	}
	modelCaptureRule = Rule{
		Name:    RuleModelCapture,
		Rank:    30,
		Marker:  MarkerModelCapture,
		Legacy:  []string{"__MODELSTAMP_V3__"},
		Baked:   true,
		pattern: regexp.MustCompile(`(?s)const onModelSelected = \(ctx\) => \{.*?\n[ \t]*\};`),
		render:  renderModelCapture,
	}
	providerContextRule = Rule{
		Name:     RuleProviderContext,
		Rank:     40,
		Marker:   MarkerProviderContext,
		Legacy:   []string{"__MODELSTAMP_V3__"},
		Requires: RuleModelCapture,
		literal:  "responsePrefixContextProvider: () => prefixContext,",
		pattern:  regexp.MustCompile(`responsePrefixContextProvider:\s*\(\)\s*=>\s*prefixContext\s*,`),
		render:   renderProviderContext,
	}
)

// The host bundler inlines the reply dispatcher into every chunk that sends
// messages, so all families currently share one rule set. The tables stay
// separate so a drifted family can get its own anchors.
var familyRules = map[bundle.Family][]Rule{
	bundle.ReplyPath:        {appendModeRule, identityShortRule, modelCaptureRule, providerContextRule},
	bundle.EmbeddedRuntime:  {appendModeRule, identityShortRule, modelCaptureRule, providerContextRule},
	bundle.SubagentRegistry: {appendModeRule, identityShortRule, modelCaptureRule, providerContextRule},
}

// Rules returns the rules for family in application order.
func Rules(family bundle.Family) []Rule {
	rules := append([]Rule(nil), familyRules[family]...)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Rank < rules[j].Rank })
	return rules
}

// RequiredMarkers returns the markers a fully patched bundle of family carries.
func RequiredMarkers(family bundle.Family) []string {
	rules := Rules(family)
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.Marker
	}
	return out
}

func markerFor(family bundle.Family, rule string) string {
	for _, r := range familyRules[family] {
		if r.Name == rule {
			return r.Marker
		}
	}
	return ""
}

func renderAppendMode(_ string, _ *tables) string {
	mode := strconv.Quote(alias.AppendModePrefix)
	return "if (effectivePrefix && text && text.trim() !== HEARTBEAT_TOKEN) { " +
		"if (effectivePrefix.startsWith(" + mode + ")) { " +
		"const __msSuffix = effectivePrefix.slice(" + strconv.Itoa(len(alias.AppendModePrefix)) + "); " +
		"if (__msSuffix && !text.endsWith(__msSuffix)) text = `${text}\\n${__msSuffix}`; " +
		"} else if (!text.startsWith(effectivePrefix)) text = `${effectivePrefix} ${text}`; " +
		"}"
}

func renderIdentityShort(_ string, _ *tables) string {
	return "const __msIdentity = resolveIdentityName(cfg, agentId); " +
		"const prefixContext = { identityName: typeof __msIdentity === \"string\" && __msIdentity.trim() " +
		"? Array.from(__msIdentity.trim())[0].toUpperCase() : " + strconv.Quote(alias.Unknown) + " };"
}

func renderModelCapture(indent string, t *tables) string {
	lines := []string{
		"let __rawProvider, __rawModel;",
		"const __MS_MODEL_ALIASES = " + t.models + ";",
		"const __MS_PROVIDER_ALIASES = " + t.providers + ";",
		"const __MS_SOURCE_ALIASES = " + t.sources + ";",
		"const __MS_AUTH_OVERRIDES = " + t.overrides + ";",
		"const __MS_AUTH_DEFAULTS = " + t.defaults + ";",
		"const __MS_GATEWAYS = " + t.gateways + ";",
		"const __MS_LOCAL = " + t.local + ";",
		"const __MS_LEN = " + t.lengths + ";",
		`const __msGet = (o, k) => (o && typeof k === "string" && Object.prototype.hasOwnProperty.call(o, k) ? o[k] : void 0);`,
		`const __msTrunc = (s, n) => Array.from(String(s ?? "")).slice(0, n).join("");`,
		"const onModelSelected = (ctx) => {",
		"\t__rawProvider = ctx.provider; __rawModel = ctx.model;",
		`	const __m0 = String(ctx.model ?? "").trim().split("/").pop().replace(/(?:-\d{8}|-latest)+$/, "");`,
		`	prefixContext.model = __msGet(__MS_MODEL_ALIASES, __m0) || __m0.toLowerCase().replace(/[^a-z0-9]+/g, "").slice(0, __MS_LEN.model) || "?";`,
		"\tprefixContext.modelFull = `${ctx.provider}/${ctx.model}`;",
		`	prefixContext.thinkingLevel = ctx.thinkLevel ?? "off";`,
		"};",
	}
	return strings.Join(lines, "\n"+indent)
}

func renderProviderContext(indent string, _ *tables) string {
	lines := []string{
		"responsePrefixContextProvider: () => {",
		"\ttry {",
		`		const __p = typeof __rawProvider === "string" ? __rawProvider : "";`,
		"\t\tif (__p) {",
		`			const __base = __msGet(__MS_PROVIDER_ALIASES, __p) || __msTrunc(__p, __MS_LEN.provider) || "?";`,
		"\t\t\tconst __ov = __msGet(__MS_AUTH_OVERRIDES, __p) ?? {};",
		"\t\t\tconst __profiles = cfg?.auth?.profiles ?? {};",
		"\t\t\tconst __entry = __msGet(__profiles, `${__p}:default`) ?? Object.values(__profiles).find((e) => e?.provider === __p);",
		`			let __kind = typeof __entry?.mode === "string" ? __entry.mode : "";`,
		`			if (!__kind && __MS_LOCAL.includes(__p)) __kind = "local";`,
		"\t\t\tlet __auth = __kind ? __msGet(__ov, __kind) : void 0;",
		"\t\t\tif (!__auth) {",
		"\t\t\t\tlet __live;",
		"\t\t\t\ttry {",
		`					if (typeof resolveAgentDir === "function" && typeof ensureAuthProfileStore === "function") {`,
		"\t\t\t\t\t\tconst __adir = resolveAgentDir(cfg, agentId);",
		"\t\t\t\t\t\tconst __store = __adir ? ensureAuthProfileStore(__adir, { allowKeychainPrompt: false }) : void 0;",
		"\t\t\t\t\t\tconst __pid = __store?.lastGood?.[__p];",
		"\t\t\t\t\t\t__live = __pid ? __store.profiles?.[__pid]?.type : void 0;",
		"\t\t\t\t\t}",
		"\t\t\t\t} catch {}",
		"\t\t\t\tif (__live) __auth = __msGet(__ov, __live) || __msGet(__MS_AUTH_DEFAULTS, __live);",
		"\t\t\t}",
		"\t\t\tif (!__auth && __kind) __auth = __msGet(__MS_AUTH_DEFAULTS, __kind);",
		"\t\t\tlet __id = `${__base}${__auth || \"?\"}`;",
		"\t\t\tif (__MS_GATEWAYS.includes(__p)) {",
		`				const __seg = String(__rawModel ?? "").trim().split("/")[0].toLowerCase();`,
		`				__id += "." + (__msGet(__MS_SOURCE_ALIASES, __seg) || __msTrunc(__seg, __MS_LEN.source) || "??");`,
		"\t\t\t}",
		"\t\t\tprefixContext.provider = __id;",
		"\t\t}",
		"\t} catch {}",
		"\treturn prefixContext;",
		"},",
	}
	return strings.Join(lines, "\n"+indent)
}
