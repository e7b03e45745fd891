package patch

import (
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kokistudios/modelstamp/internal/alias"
	"github.com/kokistudios/modelstamp/internal/bundle"
	"github.com/kokistudios/modelstamp/internal/stamp"
)

// hostHarness stands in for the host functions the patched dispatcher calls.
// resolvePrefix fills the template from the prefix context the way the host
// does: known tokens are replaced, unknown ones are kept.
const hostHarness = `"use strict";
const HEARTBEAT_TOKEN = "HEARTBEAT_OK";
let __liveStore = {};
const resolveIdentityName = (cfg) => cfg.identity;
const extractShortModelName = (m) => String(m ?? "").split("/").pop();
const resolveAgentDir = () => "/agents/main/agent";
const ensureAuthProfileStore = () => __liveStore;
const resolvePrefix = (cfg, opts) => {
	opts.onModelSelected({ provider: cfg.run.provider, model: cfg.run.model, thinkLevel: cfg.run.thinking ?? undefined });
	const ctx = opts.responsePrefixContextProvider();
	const values = { provider: ctx.provider, model: ctx.model, modelfull: ctx.modelFull, identityname: ctx.identityName, identity: ctx.identityName, thinkinglevel: ctx.thinkingLevel };
	return cfg.template.replace(/\{([A-Za-z]+)\}/g, (tok, name) => (values[name.toLowerCase()] === undefined ? tok : String(values[name.toLowerCase()])));
};
`

const harnessMain = `
const __cases = JSON.parse(require("fs").readFileSync(process.argv[2], "utf8"));
process.stdout.write(JSON.stringify(__cases.map((c) => {
	__liveStore = c.store;
	return dispatchReply(c.cfg, "main", c.text);
})));
`

// liveKinds is an alias.AuthStore keyed by provider.
type liveKinds map[string]string

func (l liveKinds) AuthKind(provider string) (string, bool) {
	kind := l[provider]
	return kind, kind != ""
}

type injectCase struct {
	name     string
	provider string
	model    string
	mode     string // auth.profiles mode in the host config
	live     string // profile type of the live store's lastGood entry
	identity string
	thinking string
	template string
	text     string
	want     string
}

func (c injectCase) payload() map[string]any {
	profiles := map[string]any{}
	if c.mode != "" {
		profiles[c.provider+":default"] = map[string]any{"provider": c.provider, "mode": c.mode}
	}
	store := map[string]any{}
	if c.live != "" {
		store["lastGood"] = map[string]any{c.provider: "live-1"}
		store["profiles"] = map[string]any{"live-1": map[string]any{"type": c.live}}
	}
	var thinking any
	if c.thinking != "" {
		thinking = c.thinking
	}
	return map[string]any{
		"cfg": map[string]any{
			"identity": c.identity,
			"template": c.template,
			"run":      map[string]any{"provider": c.provider, "model": c.model, "thinking": thinking},
			"auth":     map[string]any{"profiles": profiles},
		},
		"store": store,
		"text":  c.text,
	}
}

// expected computes the reply text with the Go stamp renderer and policy.
func (c injectCase) expected(cfg alias.Config) string {
	r := alias.NewResolver(cfg, liveKinds{c.provider: c.live})
	st := stamp.Render(r, stamp.Context{
		Provider:      c.provider,
		RawModel:      c.model,
		AuthKind:      c.mode,
		Identity:      c.identity,
		ThinkingLevel: c.thinking,
	}, c.template)
	prefix := st
	if stamp.IsAppendMode(c.template) {
		prefix = alias.AppendModePrefix + st
	}
	return stamp.ApplyPolicy(c.text, prefix)
}

func TestInjectedScript_MatchesGoRenderer(t *testing.T) {
	node, err := exec.LookPath("node")
	if err != nil {
		t.Skip("node not installed")
	}

	cfg := alias.Merge(alias.DefaultConfig(), alias.Config{
		AuthModeOverrides: map[string]map[string]string{"openai": {"oauth": "X"}},
		SourceAliases:     map[string]string{"qwen": "qw"},
	})
	res, err := Apply([]byte(fixture), bundle.ReplyPath, cfg, false)
	if err != nil {
		t.Fatal(err)
	}

	tmpl := alias.DefaultTemplate
	cases := []injectCase{
		{name: "api key", provider: "anthropic", model: "claude-sonnet-4-6-20250514", mode: "api_key", identity: "Alice", template: tmpl, text: "hello", want: "hello\nanK/s46-1m@A"},
		{name: "live oauth", provider: "anthropic", model: "claude-opus-4-6", live: "oauth", identity: "alice", template: tmpl, text: "hello", want: "hello\nanO/o46@A"},
		{name: "gateway source", provider: "openrouter", model: "anthropic/claude-sonnet-4-6", mode: "api_key", identity: "Zed", template: tmpl, text: "hello", want: "hello\norK.an/s46-1m@Z"},
		{name: "model fallback", provider: "anthropic", model: "claude-haiku-4", mode: "api_key", identity: "Alice", template: tmpl, text: "hello", want: "hello\nanK/claudehaiku4@A"},
		{name: "empty identity", provider: "anthropic", model: "claude-opus-4-6", mode: "api_key", template: tmpl, text: "hello", want: "hello\nanK/o46@?"},
		{name: "custom source alias", provider: "openrouter", model: "qwen/qwen3-coder", mode: "api_key", identity: "Bo", template: tmpl, text: "hi"},
		{name: "unknown source", provider: "vercel-ai-gateway", model: "auto", mode: "api_key", identity: "Bo", template: tmpl, text: "hi"},
		{name: "override beats default", provider: "openai", model: "gpt-5.2", mode: "oauth", identity: "Bo", template: tmpl, text: "hi"},
		{name: "override for live kind", provider: "openai", model: "gpt-5.2", live: "oauth", identity: "Bo", template: tmpl, text: "hi"},
		{name: "token override", provider: "anthropic", model: "claude-opus-4-6", mode: "token", identity: "Bo", template: tmpl, text: "hi"},
		{name: "local provider", provider: "lmstudio", model: "qwen2.5-7b-instruct", identity: "Bo", template: tmpl, text: "hi"},
		{name: "unknown provider", provider: "acme", model: "m1", identity: "Bo", template: tmpl, text: "hi"},
		{name: "already stamped", provider: "anthropic", model: "claude-opus-4-6", mode: "api_key", identity: "Alice", template: tmpl, text: "hello\nanK/o46@A", want: "hello\nanK/o46@A"},
		{name: "heartbeat", provider: "anthropic", model: "claude-opus-4-6", mode: "api_key", identity: "Alice", template: tmpl, text: "HEARTBEAT_OK", want: "HEARTBEAT_OK"},
		{name: "legacy prepend", provider: "anthropic", model: "claude-opus-4-6", mode: "api_key", template: "[{model}|{thinkinglevel}]", text: "hello", want: "[o46|off] hello"},
		{name: "thinking and full model", provider: "anthropic", model: "claude-opus-4-6", mode: "api_key", thinking: "high", template: "postfix:{modelfull} {thinkinglevel} {unknown}", text: "hello"},
	}

	dir := t.TempDir()
	script := filepath.Join(dir, "harness.cjs")
	if err := os.WriteFile(script, []byte(hostHarness+string(res.Content)+harnessMain), 0644); err != nil {
		t.Fatal(err)
	}
	payload := make([]map[string]any, len(cases))
	for i, c := range cases {
		payload[i] = c.payload()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	input := filepath.Join(dir, "cases.json")
	if err := os.WriteFile(input, data, 0644); err != nil {
		t.Fatal(err)
	}

	out, err := exec.Command(node, script, input).Output()
	if err != nil {
		var stderr []byte
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			stderr = exitErr.Stderr
		}
		t.Fatalf("node failed: %v\n%s", err, stderr)
	}
	var got []string
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("bad harness output %q: %v", out, err)
	}
	if len(got) != len(cases) {
		t.Fatalf("got %d results, want %d", len(got), len(cases))
	}

	for i, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			want := c.expected(cfg)
			if c.want != "" && want != c.want {
				t.Errorf("Go renderer = %q, want %q", want, c.want)
			}
			if diff := cmp.Diff(want, got[i]); diff != "" {
				t.Errorf("injected script disagrees with Go renderer (-go +js):\n%s", diff)
			}
		})
	}

	// Running the patched dispatcher on its own output leaves it unchanged.
	again := make([]map[string]any, len(cases))
	for i, c := range cases {
		c.text = got[i]
		again[i] = c.payload()
	}
	data, _ = json.Marshal(again)
	if err := os.WriteFile(input, data, 0644); err != nil {
		t.Fatal(err)
	}
	out, err = exec.Command(node, script, input).Output()
	if err != nil {
		t.Fatalf("node failed on second pass: %v", err)
	}
	var twice []string
	if err := json.Unmarshal(out, &twice); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(got, twice); diff != "" {
		t.Errorf("second pass changed replies (-first +second):\n%s", diff)
	}
}
