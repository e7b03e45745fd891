package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kokistudios/modelstamp/internal/bundle"
	"github.com/kokistudios/modelstamp/internal/engine"
	"github.com/kokistudios/modelstamp/internal/hostcfg"
	"github.com/kokistudios/modelstamp/internal/stamp"
	"github.com/kokistudios/modelstamp/internal/store"
	"github.com/kokistudios/modelstamp/internal/validate"
)

// Settings locate the files the tools read. Configs are reloaded on every
// call so edits are picked up without restarting the server.
type Settings struct {
	Home           string
	ConfigPath     string
	HostConfigPath string
	// Resolve finds the host package for modelstamp_check.
	Resolve bundle.ResolveOptions
	Checker validate.Checker
}

// Server wraps the MCP server with modelstamp's tools.
type Server struct {
	settings Settings
	server   *mcp.Server
}

// NewServer creates a new modelstamp MCP server.
func NewServer(settings Settings, version string) *Server {
	s := &Server{settings: settings}

	impl := &mcp.Implementation{
		Name:    "modelstamp",
		Version: version,
	}

	s.server = mcp.NewServer(impl, nil)
	s.registerTools()

	return s
}

// Run starts the MCP server on stdio.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name: "modelstamp_render",
		Description: "Render the model stamp the host would attach to a reply for a given provider and model. " +
			"Template, auth kind and identity default to what the host config says. " +
			"Use this to preview alias changes before patching.",
	}, s.handleRender)

	mcp.AddTool(s.server, &mcp.Tool{
		Name: "modelstamp_apply_policy",
		Description: "Apply the send-time stamp rule to a reply text: append the stamp on its own line for " +
			"append-mode prefixes, prepend it otherwise, and leave control tokens like HEARTBEAT_OK alone.",
	}, s.handleApplyPolicy)

	mcp.AddTool(s.server, &mcp.Tool{
		Name: "modelstamp_check",
		Description: "Check the installed host bundles without writing anything. Reports per-file patch state, " +
			"what a real run would do, and the exit code the CLI would return.",
	}, s.handleCheck)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "modelstamp_backups",
		Description: "List the bundle backups available for restore, newest first.",
	}, s.handleBackups)
}

// RenderArgs defines the input for modelstamp_render.
type RenderArgs struct {
	Provider      string `json:"provider" jsonschema:"Runtime provider id (e.g. anthropic, openrouter)"`
	Model         string `json:"model" jsonschema:"Raw model id as the provider reports it (e.g. claude-opus-4-6 or anthropic/claude-opus-4-6)"`
	AuthKind      string `json:"auth_kind,omitempty" jsonschema:"Auth kind: api_key, oauth, token, gateway_token or local. Defaults to the host's auth profile for the provider"`
	Identity      string `json:"identity,omitempty" jsonschema:"Agent display name; only its first letter is rendered"`
	ThinkingLevel string `json:"thinking_level,omitempty" jsonschema:"Thinking level for the {thinkinglevel} token (default off)"`
	Template      string `json:"template,omitempty" jsonschema:"Response prefix template. Defaults to the host's telegram responsePrefix, then the alias config"`
}

// RenderResult is the output of modelstamp_render.
type RenderResult struct {
	Stamp      string `json:"stamp"`
	Template   string `json:"template"`
	AppendMode bool   `json:"append_mode"`
	Provider   string `json:"provider"`
	Auth       string `json:"auth"`
	Source     string `json:"source,omitempty"`
	Model      string `json:"model"`
	Identity   string `json:"identity"`
}

func (s *Server) handleRender(ctx context.Context, req *mcp.CallToolRequest, args RenderArgs) (*mcp.CallToolResult, any, error) {
	if args.Provider == "" || args.Model == "" {
		return nil, nil, fmt.Errorf("provider and model are required")
	}
	loaded, err := store.LoadConfig(s.settings.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	doc, err := hostcfg.Load(s.settings.HostConfigPath)
	if err != nil {
		return nil, nil, err
	}

	tmpl := args.Template
	if tmpl == "" {
		tmpl = doc.StampTemplate(loaded.Merged.ResponsePrefixTemplate)
	}
	kind := args.AuthKind
	if kind == "" {
		kind = doc.AuthMode(args.Provider)
	}

	r := hostcfg.NewResolver(loaded.Merged, s.settings.Home, hostcfg.DefaultAgent)
	sctx := stamp.Context{
		Provider:      args.Provider,
		RawModel:      args.Model,
		AuthKind:      kind,
		Identity:      args.Identity,
		ThinkingLevel: args.ThinkingLevel,
	}
	res := stamp.Resolve(r, sctx)
	return nil, RenderResult{
		Stamp:      stamp.Render(r, sctx, tmpl),
		Template:   tmpl,
		AppendMode: stamp.IsAppendMode(tmpl),
		Provider:   res.Provider,
		Auth:       res.Auth,
		Source:     res.Source,
		Model:      res.Model,
		Identity:   res.Identity,
	}, nil
}

// ApplyPolicyArgs defines the input for modelstamp_apply_policy.
type ApplyPolicyArgs struct {
	Text   string `json:"text" jsonschema:"Reply text as produced by the agent"`
	Prefix string `json:"prefix" jsonschema:"Effective prefix: postfix:<stamp> for append mode, any other value to prepend"`
}

// ApplyPolicyResult is the output of modelstamp_apply_policy.
type ApplyPolicyResult struct {
	Text    string `json:"text"`
	Changed bool   `json:"changed"`
}

func (s *Server) handleApplyPolicy(ctx context.Context, req *mcp.CallToolRequest, args ApplyPolicyArgs) (*mcp.CallToolResult, any, error) {
	out := stamp.ApplyPolicy(args.Text, args.Prefix)
	return nil, ApplyPolicyResult{Text: out, Changed: out != args.Text}, nil
}

// CheckArgs defines the input for modelstamp_check.
type CheckArgs struct {
	PkgDir string `json:"pkg_dir,omitempty" jsonschema:"Host package directory (the one containing dist/). Discovered from the openclaw executable when empty"`
}

// RuleStatus is one rule's outcome for a file.
type RuleStatus struct {
	Rule   string `json:"rule"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// FileStatus is the check outcome for one bundle.
type FileStatus struct {
	Name    string       `json:"name"`
	Family  string       `json:"family"`
	State   string       `json:"state"`
	Missing []string     `json:"missing_markers,omitempty"`
	Action  string       `json:"action"`
	Rules   []RuleStatus `json:"rules,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// CheckResult is the output of modelstamp_check.
type CheckResult struct {
	PackageDir       string       `json:"package_dir,omitempty"`
	Version          string       `json:"version,omitempty"`
	HostAppendMode   bool         `json:"host_append_mode"`
	CheckerAvailable bool         `json:"checker_available"`
	Files            []FileStatus `json:"files"`
	ExitCode         int          `json:"exit_code"`
	Error            string       `json:"error,omitempty"`
}

func (s *Server) handleCheck(ctx context.Context, req *mcp.CallToolRequest, args CheckArgs) (*mcp.CallToolResult, any, error) {
	loaded, err := store.LoadConfig(s.settings.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	doc, err := hostcfg.Load(s.settings.HostConfigPath)
	if err != nil {
		return nil, nil, err
	}

	out := CheckResult{HostAppendMode: doc.Exists && doc.InAppendMode(), Files: []FileStatus{}}

	opts := s.settings.Resolve
	if args.PkgDir != "" {
		opts.PkgDir = args.PkgDir
	}
	pkgDir, err := bundle.ResolvePackageDir(ctx, opts)
	if err != nil {
		out.ExitCode, out.Error = engine.ExitCode(err), err.Error()
		return nil, out, nil
	}
	out.PackageDir = pkgDir
	out.Version = bundle.PackageVersion(pkgDir)

	report, err := engine.Run(ctx, engine.Options{
		Dist:      bundle.DistDir(pkgDir),
		Config:    loaded.Merged,
		CheckOnly: true,
		Checker:   s.settings.Checker,
	})
	if report != nil {
		out.CheckerAvailable = report.CheckerAvailable
		for _, f := range report.Files {
			out.Files = append(out.Files, fileStatus(f))
		}
	}
	if err == nil && !out.HostAppendMode {
		err = engine.ErrNotAppendMode
	}
	if err != nil {
		out.ExitCode, out.Error = engine.ExitCode(err), err.Error()
	}
	return nil, out, nil
}

func fileStatus(f engine.FileReport) FileStatus {
	fs := FileStatus{
		Name:    f.Target.Name(),
		Family:  string(f.Target.Family),
		State:   f.State.String(),
		Missing: f.Missing,
		Action:  string(f.Action),
	}
	for _, rr := range f.Rules {
		fs.Rules = append(fs.Rules, RuleStatus{Rule: rr.Rule, Status: string(rr.Status), Detail: rr.Detail})
	}
	if f.Err != nil {
		fs.Error = f.Err.Error()
	}
	return fs
}

// BackupsArgs defines the input for modelstamp_backups.
type BackupsArgs struct {
	Bundle string `json:"bundle,omitempty" jsonschema:"Only list backups of this bundle file name"`
}

// BackupEntry is one stored backup.
type BackupEntry struct {
	Bundle  string `json:"bundle"`
	Digest  string `json:"digest"`
	Created string `json:"created"`
	Path    string `json:"path"`
}

// BackupsResult is the output of modelstamp_backups.
type BackupsResult struct {
	Backups []BackupEntry `json:"backups"`
	Message string        `json:"message,omitempty"`
}

func (s *Server) handleBackups(ctx context.Context, req *mcp.CallToolRequest, args BackupsArgs) (*mcp.CallToolResult, any, error) {
	list, err := store.ListBackups(store.BundleBackupDir(s.settings.Home))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list backups: %w", err)
	}
	out := BackupsResult{Backups: []BackupEntry{}}
	for _, b := range list {
		if args.Bundle != "" && b.Bundle != args.Bundle {
			continue
		}
		out.Backups = append(out.Backups, BackupEntry{
			Bundle:  b.Bundle,
			Digest:  b.Digest,
			Created: b.Created.Format("2006-01-02 15:04:05Z"),
			Path:    b.Path,
		})
	}
	if len(out.Backups) == 0 {
		out.Message = "No backups yet. A backup is written the first time each bundle generation is patched."
	}
	return nil, out, nil
}
