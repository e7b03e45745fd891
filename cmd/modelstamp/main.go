package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kokistudios/modelstamp/internal/alias"
	"github.com/kokistudios/modelstamp/internal/bundle"
	"github.com/kokistudios/modelstamp/internal/engine"
	"github.com/kokistudios/modelstamp/internal/hostcfg"
	stampmcp "github.com/kokistudios/modelstamp/internal/mcp"
	"github.com/kokistudios/modelstamp/internal/modelsync"
	"github.com/kokistudios/modelstamp/internal/patch"
	"github.com/kokistudios/modelstamp/internal/stamp"
	"github.com/kokistudios/modelstamp/internal/store"
	"github.com/kokistudios/modelstamp/internal/ui"
	"github.com/kokistudios/modelstamp/internal/validate"
	"github.com/kokistudios/modelstamp/internal/watch"
)

// Set via ldflags at build time
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func buildVersion() string {
	if commit == "none" {
		return version
	}
	return fmt.Sprintf("%s (%s, %s)", version, commit, date)
}

// newChecker returns the syntax checker used for patched bundles.
var newChecker = func() validate.Checker { return validate.NodeChecker{} }

type options struct {
	configPath     string
	hostConfigPath string
	pkgDir         string
	checkOnly      bool
	dryRun         bool
	syncModels     bool
	force          bool
	verbose        bool
	noColor        bool
}

func (o *options) config() string {
	if o.configPath != "" {
		return o.configPath
	}
	return store.ConfigPath(store.Home())
}

func (o *options) hostConfig() string {
	if o.hostConfigPath != "" {
		return o.hostConfigPath
	}
	return store.HostConfigPath(store.Home())
}

func (o *options) forced() bool {
	if o.force {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(os.Getenv("MODELSTAMP_FORCE"))) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func main() {
	if err := rootCmd(&options{}).Execute(); err != nil {
		ui.Error(err.Error())
		os.Exit(engine.ExitCode(err))
	}
}

func rootCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modelstamp",
		Short: "modelstamp: compact model stamps for OpenClaw replies",
		Long: "Patches the installed OpenClaw bundles so every outbound reply carries a short stamp naming " +
			"the provider, auth mode, model and agent that produced it. Safe to run repeatedly: patched " +
			"bundles are detected by marker and skipped.",
		Example: "  modelstamp\n  modelstamp --check-only\n  modelstamp --sync-models --force",
		Args:    cobra.NoArgs,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			ui.Init(o.noColor)
			ui.SetVerbose(o.verbose)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := runPatch(cmd.Context(), o)
			return err
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Version = buildVersion()

	pf := cmd.PersistentFlags()
	pf.StringVar(&o.configPath, "config", "", "Alias config file (default $MODELSTAMP_CONFIG or $OPENCLAW_HOME/modelstamp.json)")
	pf.StringVar(&o.hostConfigPath, "host-config", "", "OpenClaw config file (default $OPENCLAW_JSON or $OPENCLAW_HOME/openclaw.json)")
	pf.StringVar(&o.pkgDir, "pkg-dir", "", "OpenClaw package directory containing dist/ (discovered when empty)")
	pf.BoolVar(&o.force, "force", false, "Re-render baked alias tables in already patched bundles (also MODELSTAMP_FORCE=1)")
	pf.BoolVarP(&o.verbose, "verbose", "v", false, "Debug logging")
	pf.BoolVar(&o.noColor, "no-color", false, "Disable colored output")

	f := cmd.Flags()
	f.BoolVar(&o.checkOnly, "check-only", false, "Validate current state without writing; exit 5 when the host is not in append mode")
	f.BoolVar(&o.dryRun, "dry-run", false, "Show what would change without writing")
	f.BoolVar(&o.syncModels, "sync-models", false, "Derive and persist aliases for configured models that lack one, then re-apply")

	cmd.AddGroup(
		&cobra.Group{ID: "core", Title: "Core Commands:"},
		&cobra.Group{ID: "config", Title: "Configuration:"},
	)
	for _, c := range []*cobra.Command{renderCmd(o), restoreCmd(o), watchCmd(o), doctorCmd(o)} {
		c.GroupID = "core"
		cmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{initCmd(o), configCmd(o)} {
		c.GroupID = "config"
		cmd.AddCommand(c)
	}
	cmd.AddCommand(mcpServeCmd(o))
	cmd.AddCommand(completionCmd())
	return cmd
}

// runPatch performs one full patch run and prints its summary.
func runPatch(ctx context.Context, o *options) (*engine.Report, error) {
	cfgPath := o.config()
	loaded, err := store.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	home := store.Home()
	noWrite := o.checkOnly || o.dryRun
	force := o.forced()

	doc, err := hostcfg.Load(o.hostConfig())
	if err != nil {
		return nil, err
	}
	prefixOK, err := syncHostPrefix(doc, loaded.Merged.ResponsePrefixTemplate, filepath.Join(home, store.BackupDir), noWrite)
	if err != nil {
		return nil, err
	}

	pkgDir, err := locatePackage(ctx, o.pkgDir)
	if err != nil {
		return nil, err
	}
	dist := bundle.DistDir(pkgDir)
	ui.Logger.Debug("package", "dir", pkgDir, "version", bundle.PackageVersion(pkgDir), "config", cfgPath)

	if o.syncModels {
		added, err := syncModels(doc, loaded, noWrite)
		if err != nil {
			return nil, err
		}
		if added > 0 {
			if loaded, err = store.LoadConfig(cfgPath); err != nil {
				return nil, err
			}
			force = true
		}
	}

	backupDir := ""
	if !noWrite {
		backupDir = store.BundleBackupDir(home)
	}
	report, err := engine.Run(ctx, engine.Options{
		Dist:      dist,
		Config:    loaded.Merged,
		CheckOnly: o.checkOnly,
		DryRun:    o.dryRun,
		Force:     force,
		Checker:   newChecker(),
		BackupDir: backupDir,
		Logger:    ui.Logger,
	})
	if report != nil {
		printReport(report)
	}

	var noTgt *bundle.NoTargetsError
	var drift *engine.DriftError
	if errors.As(err, &noTgt) || errors.As(err, &drift) {
		ui.RenderMarkdown(bundle.DriftReport(pkgDir, dist, bundle.Patterns()))
	}
	if err != nil {
		return report, err
	}
	if o.checkOnly && !prefixOK {
		return report, engine.ErrNotAppendMode
	}

	switch {
	case o.checkOnly:
		if msg, healthy := checkSummary(report); healthy {
			ui.Success(msg)
		} else {
			ui.Warning(msg)
		}
	case o.dryRun:
		ui.Info("Dry run, nothing written")
	default:
		ui.Success(fmt.Sprintf("OpenClaw %s patched", bundle.PackageVersion(pkgDir)))
	}
	return report, nil
}

// checkSummary describes a check-only report. Bundles that a real run
// would still write are not healthy.
func checkSummary(r *engine.Report) (string, bool) {
	if n := r.Count(engine.WouldWrite); n > 0 {
		return fmt.Sprintf("%d bundle(s) need patching, run modelstamp to apply", n), false
	}
	return "Bundles and host config are healthy", true
}

func locatePackage(ctx context.Context, pkgDir string) (string, error) {
	spin := ui.NewSpinner("Locating OpenClaw package")
	dir, err := bundle.ResolvePackageDir(ctx, bundle.ResolveOptions{PkgDir: pkgDir})
	spin.Stop()
	if err != nil {
		var locErr *bundle.LocatorError
		if errors.As(err, &locErr) {
			for _, t := range locErr.Tried {
				ui.Detail("tried", t)
			}
		}
		return "", err
	}
	return dir, nil
}

// syncHostPrefix puts every telegram responsePrefix in append mode. With
// noWrite it only reports; the bool says whether the host was already in
// append mode (or has been put there).
func syncHostPrefix(doc *hostcfg.Doc, template, backupDir string, noWrite bool) (bool, error) {
	if !doc.Exists {
		ui.Warning(fmt.Sprintf("OpenClaw config not found: %s", doc.Path))
		return false, nil
	}
	wasAppend := doc.InAppendMode()
	want := stamp.EnsureAppendTemplate(template)
	if want == "" {
		return wasAppend, nil
	}
	changed := doc.EnsureAppendPrefix(want)
	if changed == 0 {
		ui.Logger.Debug("responsePrefix up to date", "template", want)
		return true, nil
	}
	if noWrite {
		ui.Info(fmt.Sprintf("Would set responsePrefix on %d key(s) to %s", changed, want))
		return wasAppend, nil
	}
	backup, err := doc.Save(backupDir, time.Now())
	if err != nil {
		return false, err
	}
	ui.Success(fmt.Sprintf("Set responsePrefix on %d key(s)", changed))
	ui.Detail("Template:", want)
	if backup != "" {
		ui.Detail("Backup:", backup)
	}
	return true, nil
}

// syncModels persists derived aliases for host models that have none. It
// returns how many were added.
func syncModels(doc *hostcfg.Doc, loaded *store.Loaded, noWrite bool) (int, error) {
	plan := modelsync.Diff(doc.Models(), loaded.Merged)
	if len(plan.Missing) == 0 {
		ui.Logger.Debug("every configured model has an alias", "models", len(plan.Known))
		return 0, nil
	}
	additions := modelsync.Derive(plan, loaded.Merged)
	for _, name := range alias.SortedKeys(additions) {
		ui.Detail(name, additions[name])
	}
	if noWrite {
		ui.Info(fmt.Sprintf("Would add %d model alias(es) to %s", len(additions), loaded.Path))
		return 0, nil
	}
	n, err := modelsync.Persist(loaded.Path, additions)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		ui.Success(fmt.Sprintf("Added %d model alias(es) to %s", n, loaded.Path))
	}
	return n, nil
}

func printReport(r *engine.Report) {
	if len(r.Files) == 0 {
		return
	}
	rows := make([][]string, 0, len(r.Files))
	for _, f := range r.Files {
		rows = append(rows, []string{f.Target.Name(), string(f.Target.Family), f.State.String(), string(f.Action), ruleSummary(f)})
	}
	ui.Table([]string{"BUNDLE", "FAMILY", "MARKERS", "ACTION", "RULES"}, rows)

	for _, f := range r.Files {
		if f.Err != nil {
			ui.Error(fmt.Sprintf("%s: %v", f.Target.Name(), f.Err))
		}
	}
	for _, f := range r.Files {
		for _, rr := range f.Rules {
			if rr.Stale {
				ui.Warning(fmt.Sprintf("%s: %s (%s); restore a pristine bundle and re-run", f.Target.Name(), rr.Detail, rr.Rule))
			}
		}
	}
	for _, p := range r.Duplicated() {
		ui.Warning(fmt.Sprintf("%s carries a marker more than once; restore it from backup and re-run", filepath.Base(p)))
	}
	if !r.CheckerAvailable {
		ui.Warning("node not found, patched bundles were not syntax checked")
	}
}

func ruleSummary(f engine.FileReport) string {
	if len(f.Rules) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(f.Rules))
	for _, rr := range f.Rules {
		parts = append(parts, fmt.Sprintf("%s=%s", rr.Rule, rr.Status))
	}
	return strings.Join(parts, " ")
}

func renderCmd(o *options) *cobra.Command {
	var (
		sctx     stamp.Context
		template string
		agent    string
		text     string
	)
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Preview the stamp for a provider and model",
		Long: "Render the stamp the patched host would produce. Template, auth kind and live auth state " +
			"come from the host config unless given. With --text, print the reply as it would be sent.",
		Example: "  modelstamp render --provider anthropic --model claude-opus-4-6 --identity Alice\n" +
			"  modelstamp render --provider openrouter --model anthropic/claude-sonnet-4-6 --auth api_key --text hello",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sctx.Provider == "" || sctx.RawModel == "" {
				return fmt.Errorf("--provider and --model are required")
			}
			loaded, err := store.LoadConfig(o.config())
			if err != nil {
				return err
			}
			doc, err := hostcfg.Load(o.hostConfig())
			if err != nil {
				return err
			}
			if template == "" {
				template = doc.StampTemplate(loaded.Merged.ResponsePrefixTemplate)
			}
			if sctx.AuthKind == "" {
				sctx.AuthKind = doc.AuthMode(sctx.Provider)
			}

			r := hostcfg.NewResolver(loaded.Merged, store.Home(), agent)
			out := stamp.Render(r, sctx, template)
			if text == "" {
				fmt.Println(out)
			} else {
				prefix := out
				if stamp.IsAppendMode(template) {
					prefix = alias.AppendModePrefix + out
				}
				fmt.Println(stamp.ApplyPolicy(text, prefix))
			}

			res := stamp.Resolve(r, sctx)
			ui.Logger.Debug("resolved", "template", template, "provider", res.Provider, "auth", res.Auth, "source", res.Source, "model", res.Model)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&sctx.Provider, "provider", "", "Runtime provider id")
	f.StringVar(&sctx.RawModel, "model", "", "Raw model id")
	f.StringVar(&sctx.AuthKind, "auth", "", "Auth kind (api_key, oauth, token, gateway_token, local)")
	f.StringVar(&sctx.Identity, "identity", "", "Agent display name")
	f.StringVar(&sctx.ThinkingLevel, "thinking", "", "Thinking level")
	f.StringVar(&template, "template", "", "Template override")
	f.StringVar(&agent, "agent", hostcfg.DefaultAgent, "Agent whose live auth store is consulted")
	f.StringVar(&text, "text", "", "Reply text to stamp")
	return cmd
}

func initCmd(o *options) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:     "init",
		Short:   "Write a starter alias config",
		Long:    "Create the alias config with the default template and empty alias tables. Built-in aliases stay in effect underneath.",
		Example: "  modelstamp init\n  modelstamp init --config ~/.openclaw/modelstamp.yaml --force",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := o.config()
			if err := store.Init(path, force); err != nil {
				return err
			}
			ui.Success("Alias config written")
			ui.Detail("Path:", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config")
	return cmd
}

func configCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View alias configuration",
	}
	cmd.AddCommand(configShowCmd(o))
	return cmd
}

func configShowCmd(o *options) *cobra.Command {
	var custom bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := store.LoadConfig(o.config())
			if err != nil {
				return err
			}
			cfg := loaded.Merged
			if custom {
				cfg = loaded.Custom
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			fmt.Print(string(data))
			return nil
		},
	}
	cmd.Flags().BoolVar(&custom, "custom", false, "Show only the entries from the config file")
	return cmd
}

func restoreCmd(o *options) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "restore [bundle...]",
		Short: "Roll bundles back to their pre-patch backups",
		Long: "Restore the newest backup of each named bundle, or of every located bundle when none is named. " +
			"Asks for confirmation on a terminal unless --yes is given.",
		Example: "  modelstamp restore\n  modelstamp restore reply-Ab12.js --yes",
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgDir, err := locatePackage(cmd.Context(), o.pkgDir)
			if err != nil {
				return err
			}
			dist := bundle.DistDir(pkgDir)

			names := args
			if len(names) == 0 {
				set, err := bundle.Locate(dist)
				if err != nil {
					return err
				}
				for _, t := range set.Targets {
					names = append(names, t.Name())
				}
			}

			dir := store.BundleBackupDir(store.Home())
			var plan []store.Backup
			for _, name := range names {
				b, err := store.LatestBackup(dir, name)
				if errors.Is(err, store.ErrNoBackup) {
					ui.Warning(fmt.Sprintf("No backup for %s", name))
					continue
				}
				if err != nil {
					return err
				}
				plan = append(plan, b)
				ui.Detail(name, fmt.Sprintf("%s %s", b.Digest, ui.Dim(b.Created.Format(time.RFC3339))))
			}
			if len(plan) == 0 {
				ui.EmptyState("Nothing to restore.")
				return nil
			}

			if !yes && ui.Interactive() {
				ok, err := ui.Confirm(fmt.Sprintf("Restore %d bundle(s) in %s?", len(plan), dist))
				if err != nil {
					return err
				}
				if !ok {
					ui.Info("Restore cancelled")
					return nil
				}
			}

			restored := 0
			for _, b := range plan {
				changed, err := store.Restore(b, filepath.Join(dist, b.Bundle))
				if err != nil {
					return err
				}
				if changed {
					restored++
					ui.Success(fmt.Sprintf("Restored %s", b.Bundle))
				} else {
					ui.Detail(b.Bundle, "already matches backup")
				}
			}
			ui.Info(fmt.Sprintf("%d bundle(s) restored. Run modelstamp again to re-apply the patch.", restored))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func watchCmd(o *options) *cobra.Command {
	var (
		debounce time.Duration
		notify   bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-apply the patch whenever OpenClaw is updated",
		Long: "Patch once, then watch the OpenClaw dist directory and the alias config. New bundles are " +
			"patched after the directory settles; a config change re-renders alias tables in place.",
		Example: "  modelstamp watch\n  modelstamp watch --debounce 2s --notify",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			pkgDir, err := locatePackage(ctx, o.pkgDir)
			if err != nil {
				return err
			}
			run := *o
			run.pkgDir = pkgDir
			run.checkOnly, run.dryRun = false, false

			ui.CommandBanner("watch", pkgDir)
			if _, err := runPatch(ctx, &run); err != nil {
				ui.Error(err.Error())
			}

			w := watch.New(watch.Options{
				Dist:       bundle.DistDir(pkgDir),
				ConfigPath: run.config(),
				Debounce:   debounce,
				Logger:     ui.Logger,
				Handler: func(ctx context.Context, ev watch.Event) error {
					pass := run
					pass.force = run.force || ev.Force()
					report, err := runPatch(ctx, &pass)
					if notify && report != nil && report.Count(engine.Written) > 0 {
						ui.Notify("modelstamp", fmt.Sprintf("Patched %d OpenClaw bundle(s)", report.Count(engine.Written)))
					}
					return err
				},
			})
			if err := w.Start(ctx); err != nil {
				return err
			}
			defer w.Stop()

			select {
			case <-ctx.Done():
			case <-w.Done():
			}
			ui.Info("Stopped watching")
			return nil
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "Quiet period before a run")
	cmd.Flags().BoolVar(&notify, "notify", false, "Send a desktop notification when bundles are patched")
	return cmd
}

func doctorCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check alias config, host config, package and node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ui.CommandBanner("doctor", "health check")
			home := store.Home()
			issues := store.CheckHealth(home, o.config())

			ui.SectionHeader("Config")
			ui.KeyValue("Home:", home)
			ui.KeyValue("Alias config:", o.config())
			doc, err := hostcfg.Load(o.hostConfig())
			switch {
			case err != nil:
				issues = append(issues, store.Issue{Severity: "error", Message: err.Error()})
			case !doc.Exists:
				issues = append(issues, store.Issue{Severity: "error", Message: fmt.Sprintf("OpenClaw config not found: %s", doc.Path)})
			default:
				ui.KeyValue("Host config:", doc.Path)
				if m := doc.PrimaryModel(); m != "" {
					ui.KeyValue("Primary model:", m)
				}
				if !doc.InAppendMode() {
					issues = append(issues, store.Issue{Severity: "warning", Message: "responsePrefix is not in append mode (run modelstamp to fix)"})
				}
			}

			ui.SectionHeader("Package")
			if pkgDir, err := bundle.ResolvePackageDir(cmd.Context(), bundle.ResolveOptions{PkgDir: o.pkgDir}); err != nil {
				issues = append(issues, store.Issue{Severity: "error", Message: err.Error()})
			} else {
				ui.KeyValue("Package:", fmt.Sprintf("%s (%s)", pkgDir, bundle.PackageVersion(pkgDir)))
				issues = append(issues, checkBundles(bundle.DistDir(pkgDir))...)
			}
			if bin, err := (validate.NodeChecker{}).Resolve(); err != nil {
				issues = append(issues, store.Issue{Severity: "warning", Message: "node not found, patched bundles cannot be syntax checked"})
			} else {
				ui.KeyValue("Node:", bin)
			}

			if len(issues) == 0 {
				fmt.Fprintln(os.Stderr)
				ui.Success("Everything looks good")
				return nil
			}
			ui.SectionHeader("Issues")
			errs := 0
			for _, issue := range issues {
				if issue.Severity == "error" {
					ui.Error(fmt.Sprintf("[ERR]  %s", issue.Message))
					errs++
				} else {
					ui.Warning(fmt.Sprintf("[WARN] %s", issue.Message))
				}
			}
			if errs > 0 {
				return fmt.Errorf("%d problem(s) found", errs)
			}
			return nil
		},
	}
}

// checkBundles lists the located bundles per family and flags bundles whose
// baked tables were written by an older patcher.
func checkBundles(dist string) []store.Issue {
	set, err := bundle.Locate(dist)
	if err != nil {
		return []store.Issue{{Severity: "error", Message: fmt.Sprintf("layout drift: %v", err)}}
	}
	var issues []store.Issue
	for _, fs := range bundle.Families {
		ui.KeyValue(string(fs.Family)+":", fmt.Sprintf("%d bundle(s)", len(set.ByFamily(fs.Family))))
	}
	for _, t := range set.Targets {
		data, err := os.ReadFile(t.Path)
		if err != nil {
			issues = append(issues, store.Issue{Severity: "error", Message: fmt.Sprintf("failed to read %s: %v", t.Name(), err)})
			continue
		}
		for _, m := range patch.LegacyBaked(data, t.Family) {
			issues = append(issues, store.Issue{
				Severity: "warning",
				Message: fmt.Sprintf("%s carries legacy marker %s, its alias tables cannot be refreshed "+
					"(run modelstamp restore or reinstall OpenClaw, then modelstamp)", t.Name(), m),
			})
		}
	}
	return issues
}

func mcpServeCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:    "mcp-serve",
		Short:  "Run modelstamp as an MCP server",
		Long:   "Start modelstamp as a Model Context Protocol (MCP) server over stdio, exposing stamp rendering, the send-time policy and a read-only bundle check.",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			server := stampmcp.NewServer(stampmcp.Settings{
				Home:           store.Home(),
				ConfigPath:     o.config(),
				HostConfigPath: o.hostConfig(),
				Resolve:        bundle.ResolveOptions{PkgDir: o.pkgDir},
				Checker:        newChecker(),
			}, version)
			return server.Run(cmd.Context())
		},
	}
}

func completionCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "completion [bash|zsh|fish]",
		Short:     "Generate shell completion scripts",
		Long:      "Generate shell completion scripts for bash, zsh, or fish. Output the script to stdout for sourcing in your shell profile.",
		Example:   "  modelstamp completion bash > ~/.bashrc.d/modelstamp\n  modelstamp completion zsh > ~/.zfunc/_modelstamp\n  modelstamp completion fish > ~/.config/fish/completions/modelstamp.fish",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish"},
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(os.Stdout)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(os.Stdout, true)
			default:
				return fmt.Errorf("unsupported shell: %s (use bash, zsh, or fish)", args[0])
			}
		},
	}
}
