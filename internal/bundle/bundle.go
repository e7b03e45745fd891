// Package bundle finds the host's distribution directory and the bundle
// files each patch family targets.
package bundle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// Target is one bundle file to patch.
type Target struct {
	Family          Family
	Path            string
	Pattern         string
	RequiredMarkers []string
}

// Name returns the base name of the target file.
func (t Target) Name() string {
	return filepath.Base(t.Path)
}

// Set holds every target found in a dist directory, grouped in family order.
type Set struct {
	Dist    string
	Targets []Target
}

// ByFamily returns the targets of family f.
func (s Set) ByFamily(f Family) []Target {
	var out []Target
	for _, t := range s.Targets {
		if t.Family == f {
			out = append(out, t)
		}
	}
	return out
}

// NoTargetsError means no family matched any file: the host's bundle
// naming has drifted.
type NoTargetsError struct {
	Dist     string
	Patterns []string
}

func (e *NoTargetsError) Error() string {
	return fmt.Sprintf("no target bundles in %s (tried %s)", e.Dist, strings.Join(e.Patterns, ", "))
}

// LocatorError means no distribution directory could be found.
type LocatorError struct {
	Tried []string
}

func (e *LocatorError) Error() string {
	var b strings.Builder
	b.WriteString("openclaw package dir not found")
	if len(e.Tried) > 0 {
		b.WriteString(". Tried:")
		for _, t := range e.Tried {
			b.WriteString("\n  - ")
			b.WriteString(t)
		}
	}
	return b.String()
}

// Locate lists the target files of every family in dist. Hidden files,
// including the engine's temp files, are never targets.
func Locate(dist string) (Set, error) {
	info, err := os.Stat(dist)
	if err != nil || !info.IsDir() {
		return Set{}, &LocatorError{Tried: []string{dist + " (missing dist)"}}
	}

	set := Set{Dist: dist}
	seen := make(map[string]bool)
	for _, fs := range Families {
		matches, err := filepath.Glob(filepath.Join(dist, fs.Pattern))
		if err != nil {
			return Set{}, fmt.Errorf("bad pattern %s: %w", fs.Pattern, err)
		}
		sort.Strings(matches)
		for _, m := range matches {
			if seen[m] || strings.HasPrefix(filepath.Base(m), ".") {
				continue
			}
			if fi, err := os.Stat(m); err != nil || !fi.Mode().IsRegular() {
				continue
			}
			seen[m] = true
			set.Targets = append(set.Targets, Target{Family: fs.Family, Path: m, Pattern: fs.Pattern})
		}
	}
	if len(set.Targets) == 0 {
		return Set{}, &NoTargetsError{Dist: dist, Patterns: Patterns()}
	}
	return set, nil
}

// hasTargets reports whether dist holds at least one target bundle.
func hasTargets(dist string) bool {
	_, err := Locate(dist)
	return err == nil
}

// DistDir returns the dist directory of a package dir.
func DistDir(pkgDir string) string {
	return filepath.Join(pkgDir, "dist")
}

// ExecutableFallbacks are checked for the openclaw binary after PATH.
var ExecutableFallbacks = []string{
	"/opt/homebrew/bin/openclaw",
	"/usr/local/bin/openclaw",
	"/usr/bin/openclaw",
}

// ResolveOptions controls package dir discovery. Zero values use the real
// environment.
type ResolveOptions struct {
	// PkgDir, when set, is used as is.
	PkgDir string
	// Executables replaces the PATH lookup plus ExecutableFallbacks.
	Executables []string
	// GlobalRoot runs a package manager's "root -g" and returns its output.
	GlobalRoot func(ctx context.Context, manager string) (string, error)
}

type resolver struct {
	tried []string
	seen  map[string]bool
	// drifted is the first candidate whose dist exists but holds no targets.
	drifted string
}

func (r *resolver) try(candidate, reason string) bool {
	if r.seen[candidate] {
		return false
	}
	r.seen[candidate] = true
	dist := DistDir(candidate)
	if hasTargets(dist) {
		r.tried = append(r.tried, fmt.Sprintf("%s (%s; dist has target bundles)", candidate, reason))
		return true
	}
	if info, err := os.Stat(dist); err == nil && info.IsDir() {
		r.tried = append(r.tried, fmt.Sprintf("%s (%s; dist exists but no target bundles)", candidate, reason))
		if r.drifted == "" {
			r.drifted = candidate
		}
	} else {
		r.tried = append(r.tried, fmt.Sprintf("%s (%s; missing dist)", candidate, reason))
	}
	return false
}

// ResolvePackageDir finds the installed host package. It follows the
// openclaw executable to its package root, walking parents, then asks npm
// and pnpm for their global roots. A candidate qualifies when its dist holds
// target bundles; if none does but some dist exists, that package is
// returned so the caller can report drift.
func ResolvePackageDir(ctx context.Context, opts ResolveOptions) (string, error) {
	if opts.PkgDir != "" {
		if info, err := os.Stat(DistDir(opts.PkgDir)); err != nil || !info.IsDir() {
			return "", &LocatorError{Tried: []string{opts.PkgDir + " (--pkg-dir; missing dist)"}}
		}
		return opts.PkgDir, nil
	}

	r := &resolver{seen: make(map[string]bool)}
	for _, exe := range executables(opts, r) {
		resolved, err := filepath.EvalSymlinks(exe)
		if err != nil {
			r.tried = append(r.tried, fmt.Sprintf("%s (resolve failed: %v)", exe, err))
			continue
		}
		pkg := filepath.Dir(resolved)
		if r.try(pkg, fmt.Sprintf("from executable %s -> %s", exe, resolved)) {
			return pkg, nil
		}
		for dir := filepath.Dir(pkg); dir != pkg; pkg, dir = dir, filepath.Dir(dir) {
			if r.try(dir, "parent walk from "+filepath.Dir(resolved)) {
				return dir, nil
			}
		}
	}

	globalRoot := opts.GlobalRoot
	if globalRoot == nil {
		globalRoot = runGlobalRoot
	}
	for _, manager := range []string{"npm", "pnpm"} {
		root, err := globalRoot(ctx, manager)
		if err != nil {
			r.tried = append(r.tried, fmt.Sprintf("%s: %v", manager, err))
			continue
		}
		if root == "" {
			r.tried = append(r.tried, manager+": empty output from root -g")
			continue
		}
		candidate := filepath.Join(root, "openclaw")
		if r.try(candidate, manager+" root") {
			return candidate, nil
		}
	}

	if r.drifted != "" {
		return r.drifted, nil
	}
	return "", &LocatorError{Tried: r.tried}
}

func executables(opts ResolveOptions, r *resolver) []string {
	if opts.Executables != nil {
		return opts.Executables
	}
	var out []string
	seen := make(map[string]bool)
	if p, err := exec.LookPath("openclaw"); err == nil {
		out = append(out, p)
		seen[p] = true
	}
	for _, p := range ExecutableFallbacks {
		if seen[p] {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			r.tried = append(r.tried, p+" (fallback executable missing)")
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func runGlobalRoot(ctx context.Context, manager string) (string, error) {
	bin, err := exec.LookPath(manager)
	if err != nil {
		return "", errors.New("command not found")
	}
	out, err := exec.CommandContext(ctx, bin, "root", "-g").Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("root -g failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// PackageVersion reads the version field of the package's package.json.
func PackageVersion(pkgDir string) string {
	data, err := os.ReadFile(filepath.Join(pkgDir, "package.json"))
	if err != nil {
		return "unknown"
	}
	var doc struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &doc); err != nil || strings.TrimSpace(doc.Version) == "" {
		return "unknown"
	}
	return doc.Version
}

// FamilyStem turns a hashed bundle name into the glob its family would
// need: "reply-Ab12.js" → "reply-*.js".
func FamilyStem(name string) string {
	stem := strings.TrimSuffix(name, ".js")
	i := strings.LastIndexByte(stem, '-')
	if i < 0 {
		return stem + ".js"
	}
	return stem[:i] + "-*.js"
}

// DriftReport describes the dist directory as markdown so a maintainer can
// find the new bundle names and anchors.
func DriftReport(pkgDir, dist string, patterns []string) string {
	grouped := make(map[string][]string)
	files, _ := filepath.Glob(filepath.Join(dist, "*.js"))
	sort.Strings(files)
	for _, f := range files {
		name := filepath.Base(f)
		stem := FamilyStem(name)
		grouped[stem] = append(grouped[stem], name)
	}
	stems := make([]string, 0, len(grouped))
	for s := range grouped {
		stems = append(stems, s)
	}
	sort.Strings(stems)

	var b strings.Builder
	b.WriteString("# Bundle layout drift\n\n")
	fmt.Fprintf(&b, "OpenClaw **%s** at `%s`.\n\n", PackageVersion(pkgDir), pkgDir)
	b.WriteString("## Patterns tried\n\n")
	for _, p := range patterns {
		fmt.Fprintf(&b, "- `%s`\n", p)
	}
	b.WriteString("\n## Bundle families in dist/\n\n")
	if len(stems) == 0 {
		b.WriteString("- (no .js bundles found in dist/)\n")
	}
	for _, s := range stems {
		fmt.Fprintf(&b, "- `%s`: %s\n", s, strings.Join(grouped[s], ", "))
	}
	b.WriteString("\nLook for the statement that prepends `effectivePrefix` to outbound text and for " +
		"`responsePrefixContextProvider`; the patch rules need new anchors for this layout.\n")
	return b.String()
}
