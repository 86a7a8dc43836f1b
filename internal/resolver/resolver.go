// Package resolver implements the Path & Glob Resolver: endpoint
// classification, trailing-slash target semantics, ~ expansion, and the
// single-final-segment glob restriction described in spec.md §4.1.
//
// Structurally grounded on charmer/pkg/charmer/path/pathlib.go (endpoint
// parsing) and charmer/pkg/charmer/path/operations/{local,sftp}/glob.go
// (glob expansion split by side).
package resolver

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/nitronplus/hostpilot/internal/alias"
	"github.com/nitronplus/hostpilot/internal/model"
)

// RemoteFS is the subset of *sftp.Client the resolver needs. It is an
// interface so tests can point it at an in-process SFTP server instead of a
// real SSH host.
type RemoteFS interface {
	Stat(path string) (os.FileInfo, error)
	ReadDir(path string) ([]os.FileInfo, error)
	Mkdir(path string) error
	MkdirAll(path string) error
	Glob(pattern string) ([]string, error)
}

// HomeResolver returns the remote user's $HOME, run once and cached by the
// caller for the life of the Plan (spec.md §4.1 "~ expansion").
type HomeResolver func() (string, error)

// Error is a resolver failure tagged with a model.FailureVariant so the
// CLI front-end can build a FailureRecord without re-classifying a generic
// error string.
type Error struct {
	Variant model.FailureVariant
	Alias   string
	Path    string
	Pattern string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Variant, e.Err)
	}
	return string(e.Variant)
}

func (e *Error) Unwrap() error { return e.Err }

func fail(variant model.FailureVariant, msg string, args ...any) *Error {
	return &Error{Variant: variant, Err: fmt.Errorf(msg, args...)}
}

// Resolver resolves CLI source/target strings into an immutable Plan.
type Resolver struct {
	Aliases  *alias.Registry
	Remote   RemoteFS
	Home     HomeResolver
	homeOnce string
	homeSet  bool
}

// New builds a resolver. Remote and Home may be nil when no endpoint names a
// registered alias: Resolve then fails with AliasNotFound or
// InvalidDirection before dereferencing either. Callers must supply both
// once an endpoint can be classified Remote.
func New(aliases *alias.Registry, remote RemoteFS, home HomeResolver) *Resolver {
	return &Resolver{Aliases: aliases, Remote: remote, Home: home}
}

// classified is an endpoint together with the raw string it came from, used
// internally before composing the Plan.
type classified struct {
	model.Endpoint
	raw          string
	trailingSlash bool
}

func (r *Resolver) classify(raw string) (classified, error) {
	if idx := strings.Index(raw, ":"); idx > 0 && !looksLikeWindowsDrive(raw, idx) {
		name, rest := raw[:idx], raw[idx+1:]
		if _, ok := r.Aliases.Lookup(name); ok {
			return classified{
				Endpoint:      model.RemoteEndpoint(name, rest),
				raw:           raw,
				trailingSlash: strings.HasSuffix(raw, "/"),
			}, nil
		}
		return classified{}, &Error{Variant: model.AliasNotFound, Alias: name, Err: fmt.Errorf("unknown alias %q", name)}
	}
	return classified{
		Endpoint:      model.LocalEndpoint(raw),
		raw:           raw,
		trailingSlash: strings.HasSuffix(raw, "/"),
	}, nil
}

// looksLikeWindowsDrive guards against misclassifying "C:\foo" style local
// paths as alias:path (any single-character prefix before the colon).
func looksLikeWindowsDrive(raw string, colonIdx int) bool {
	return colonIdx == 1
}

// Resolve classifies every source and the target, validates direction and
// cardinality, applies trailing-slash / glob rules, and returns the
// immutable Plan. remoteParents lists the chain of remote parent
// directories that must exist before any task can write (for uploads);
// the caller is responsible for mkdir -p'ing them once, up front.
func (r *Resolver) Resolve(sources []string, target string) (*model.Plan, []string, error) {
	targetC, err := r.classify(target)
	if err != nil {
		return nil, nil, err
	}

	srcCs := make([]classified, 0, len(sources))
	for _, s := range sources {
		c, err := r.classify(s)
		if err != nil {
			return nil, nil, err
		}
		srcCs = append(srcCs, c)
	}

	remoteSrcs := 0
	for _, c := range srcCs {
		if c.Remote {
			remoteSrcs++
		}
	}

	var direction model.Direction
	switch {
	case targetC.Remote && remoteSrcs == 0:
		direction = model.Upload
	case targetC.Remote && remoteSrcs > 0:
		return nil, nil, &Error{Variant: model.InvalidDirection, Err: fmt.Errorf("target and %d source(s) are both remote", remoteSrcs)}
	case !targetC.Remote && remoteSrcs == 0:
		return nil, nil, &Error{Variant: model.InvalidDirection, Err: fmt.Errorf("neither target nor any source is remote")}
	case !targetC.Remote && remoteSrcs == 1:
		direction = model.Download
	default: // !targetC.Remote && remoteSrcs > 1
		return nil, nil, &Error{Variant: model.DownloadMultipleRemoteSources, Err: fmt.Errorf("downloads accept exactly one remote source, got %d", remoteSrcs)}
	}

	if err := r.validateGlobPlacement(srcCs); err != nil {
		return nil, nil, err
	}
	if err := r.validateGlobPlacement([]classified{targetC}); err != nil {
		return nil, nil, err
	}

	// ~ expansion on any remote path.
	for i := range srcCs {
		if srcCs[i].Remote {
			if err := r.expandTilde(&srcCs[i]); err != nil {
				return nil, nil, err
			}
		}
	}
	if targetC.Remote {
		if err := r.expandTilde(&targetC); err != nil {
			return nil, nil, err
		}
	}

	// Local relative-target normalization: prepend ./ so downloads never
	// land at filesystem root through accident (spec.md §4.1).
	if !targetC.Remote {
		targetC.Path = normalizeLocalTarget(targetC.Path)
	}

	glob, concreteSources, err := r.expandGlobsAndDirs(srcCs, direction)
	if err != nil {
		return nil, nil, err
	}
	if len(concreteSources) == 0 {
		return nil, nil, &Error{Variant: model.GlobNoMatches, Err: fmt.Errorf("no sources matched")}
	}

	singleSourceIsDir := false
	if len(concreteSources) == 1 {
		singleSourceIsDir = r.sourceIsDir(concreteSources[0], direction)
	}

	kind, resolvedTarget, err := r.resolveTargetKind(targetC, len(concreteSources), singleSourceIsDir)
	if err != nil {
		return nil, nil, err
	}

	plan := &model.Plan{
		Direction:          direction,
		Sources:            concreteSources,
		Target:             targetC.Endpoint,
		TargetKindRequired: kind,
		TargetPath:         resolvedTarget,
		Glob:               glob,
	}
	if r.homeSet {
		plan.RemoteHome = r.homeOnce
	}

	var remoteParents []string
	if direction == model.Upload {
		remoteParents = parentChain(resolvedTarget)
	}

	return plan, remoteParents, nil
}

func (r *Resolver) expandTilde(c *classified) error {
	if !strings.HasPrefix(c.Path, "~") {
		return nil
	}
	home, err := r.remoteHome()
	if err != nil {
		return err
	}
	rest := strings.TrimPrefix(c.Path, "~")
	rest = strings.TrimPrefix(rest, "/")
	if rest == "" {
		c.Path = home
	} else {
		c.Path = path.Join(home, rest)
	}
	return nil
}

func (r *Resolver) remoteHome() (string, error) {
	if r.homeSet {
		return r.homeOnce, nil
	}
	if r.Home == nil {
		return "", fail(model.SshSessionCreateFailed, "no remote home resolver configured")
	}
	home, err := r.Home()
	if err != nil {
		return "", fail(model.SshSessionCreateFailed, "resolve remote $HOME: %w", err)
	}
	r.homeOnce = home
	r.homeSet = true
	return home, nil
}

// normalizeLocalTarget prepends ./ to a relative path that doesn't already
// start with ./ or ../, so "foo" becomes "./foo" (spec.md §4.1).
func normalizeLocalTarget(p string) string {
	if p == "." || p == "./" {
		wd, err := os.Getwd()
		if err == nil {
			return wd
		}
		return "."
	}
	if filepath.IsAbs(p) {
		return p
	}
	if strings.HasPrefix(p, "./") || strings.HasPrefix(p, "../") {
		return p
	}
	return "./" + p
}

// validateGlobPlacement enforces that * and ? appear only in the final path
// segment of any classified endpoint.
func (r *Resolver) validateGlobPlacement(cs []classified) error {
	for _, c := range cs {
		segments := strings.Split(strings.TrimSuffix(strings.ReplaceAll(c.Path, "\\", "/"), "/"), "/")
		for i, seg := range segments {
			if !hasWildcard(seg) {
				continue
			}
			if i != len(segments)-1 {
				return &Error{Variant: model.UnsupportedGlobUsage, Path: c.raw, Err: fmt.Errorf("wildcard only allowed in final path segment")}
			}
		}
	}
	return nil
}

func hasWildcard(seg string) bool {
	return strings.ContainsAny(seg, "*?")
}

// expandGlobsAndDirs walks each source: if its final segment has a
// wildcard, expands it (on the side that owns it) into a glob predicate and
// concrete file matches; otherwise passes the source through unchanged
// (file or directory).
func (r *Resolver) expandGlobsAndDirs(srcCs []classified, direction model.Direction) (*model.GlobPredicate, []string, error) {
	var glob *model.GlobPredicate
	var out []string

	for _, c := range srcCs {
		dir, pattern, isGlob := splitFinalGlob(c.Path)
		if !isGlob {
			out = append(out, c.Path)
			continue
		}
		if glob != nil {
			return nil, nil, &Error{Variant: model.UnsupportedGlobUsage, Err: fmt.Errorf("only one glob source is supported per run")}
		}
		glob = &model.GlobPredicate{Dir: dir, Pattern: pattern}

		var matches []string
		var err error
		if c.Remote {
			matches, err = r.Remote.Glob(path.Join(dir, pattern))
		} else {
			matches, err = filepath.Glob(filepath.Join(dir, pattern))
		}
		if err != nil {
			return nil, nil, &Error{Variant: model.GlobNoMatches, Pattern: pattern, Path: dir, Err: err}
		}

		matches = filterRegularFiles(matches, c.Remote, r.Remote)
		if len(matches) == 0 {
			return nil, nil, &Error{Variant: model.GlobNoMatches, Pattern: pattern, Path: dir, Err: fmt.Errorf("pattern %q matched nothing under %q", pattern, dir)}
		}
		out = append(out, matches...)
	}

	return glob, out, nil
}

// filterRegularFiles drops directory entries matched by a glob: "a directory
// entry matched by a glob is not recursed into — glob matches files only"
// (spec.md §4.1).
func filterRegularFiles(matches []string, remote bool, rfs RemoteFS) []string {
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		var isDir bool
		if remote {
			info, err := rfs.Stat(m)
			if err != nil {
				continue
			}
			isDir = info.IsDir()
		} else {
			info, err := os.Stat(m)
			if err != nil {
				continue
			}
			isDir = info.IsDir()
		}
		if !isDir {
			out = append(out, m)
		}
	}
	return out
}

// splitFinalGlob reports whether path's final segment contains a wildcard,
// and if so returns the directory and pattern.
func splitFinalGlob(p string) (dir, pattern string, isGlob bool) {
	clean := strings.ReplaceAll(p, "\\", "/")
	base := path.Base(clean)
	if !hasWildcard(base) {
		return "", "", false
	}
	return path.Dir(clean), base, true
}

// sourceIsDir reports whether the lone concrete source (on the side that
// owns it, per direction) is itself a directory, so resolveTargetKind can
// tell a single directory source from a single file source — the
// SpecificFile exception in spec.md §4.1 applies only when "there is
// exactly one file source", not one source of any kind.
func (r *Resolver) sourceIsDir(sourcePath string, direction model.Direction) bool {
	if direction == model.Upload {
		info, err := os.Stat(sourcePath)
		return err == nil && info.IsDir()
	}
	info, err := r.Remote.Stat(sourcePath)
	return err == nil && info.IsDir()
}

// resolveTargetKind applies the trailing-slash / existing-file rules from
// spec.md §4.1 and returns the fully resolved destination root (or exact
// file path). singleSourceIsDir is only meaningful when sourceCount == 1.
func (r *Resolver) resolveTargetKind(t classified, sourceCount int, singleSourceIsDir bool) (model.TargetKind, string, error) {
	if t.Remote {
		return r.resolveRemoteTarget(t, sourceCount, singleSourceIsDir)
	}
	return r.resolveLocalTarget(t, sourceCount, singleSourceIsDir)
}

func (r *Resolver) resolveLocalTarget(t classified, sourceCount int, singleSourceIsDir bool) (model.TargetKind, string, error) {
	info, statErr := os.Stat(t.Path)
	exists := statErr == nil

	if t.trailingSlash {
		if !exists || !info.IsDir() {
			return 0, "", &Error{Variant: model.LocalTargetMustBeDir, Path: t.Path, Err: fmt.Errorf("target must be an existing directory")}
		}
		return model.ExistingDirectory, t.Path, nil
	}

	if exists && !info.IsDir() {
		if sourceCount == 1 && !singleSourceIsDir {
			return model.SpecificFile, t.Path, nil
		}
		return 0, "", &Error{Variant: model.LocalTargetMustBeDir, Path: t.Path, Err: fmt.Errorf("target is an existing file but the source is a directory or multiple sources were given")}
	}
	if exists && info.IsDir() {
		return model.ExistingDirectory, t.Path, nil
	}

	parent := filepath.Dir(t.Path)
	if _, err := os.Stat(parent); err != nil {
		return 0, "", &Error{Variant: model.LocalTargetParentMissing, Path: parent, Err: err}
	}
	if err := os.Mkdir(t.Path, 0o755); err != nil {
		return 0, "", &Error{Variant: model.CreateLocalDirFailed, Path: t.Path, Err: err}
	}
	return model.CreatableDirectory, t.Path, nil
}

func (r *Resolver) resolveRemoteTarget(t classified, sourceCount int, singleSourceIsDir bool) (model.TargetKind, string, error) {
	info, statErr := r.Remote.Stat(t.Path)
	exists := statErr == nil

	if t.trailingSlash {
		if !exists || !info.IsDir() {
			return 0, "", &Error{Variant: model.RemoteTargetMustBeDir, Path: t.Path, Err: fmt.Errorf("target must be an existing directory")}
		}
		return model.ExistingDirectory, path.Clean(t.Path), nil
	}

	if exists && !info.IsDir() {
		if sourceCount == 1 && !singleSourceIsDir {
			return model.SpecificFile, t.Path, nil
		}
		return 0, "", &Error{Variant: model.RemoteTargetMustBeDir, Path: t.Path, Err: fmt.Errorf("target is an existing file but the source is a directory or multiple sources were given")}
	}
	if exists && info.IsDir() {
		return model.ExistingDirectory, t.Path, nil
	}

	parent := path.Dir(t.Path)
	if _, err := r.Remote.Stat(parent); err != nil {
		return 0, "", &Error{Variant: model.RemoteTargetParentMissing, Path: parent, Err: err}
	}
	if err := r.Remote.Mkdir(t.Path); err != nil {
		return 0, "", &Error{Variant: model.CreateRemoteDirFailed, Path: t.Path, Err: err}
	}
	return model.CreatableDirectory, t.Path, nil
}

// parentChain returns every ancestor of dir (not dir itself) up to but not
// including the root, outermost first — used to mkdir -p the upload target's lineage once,
// up front (spec.md §4.1 closing paragraph).
func parentChain(dir string) []string {
	var chain []string
	cur := path.Clean(dir)
	for {
		parent := path.Dir(cur)
		if parent == cur || parent == "." || parent == "/" {
			break
		}
		chain = append([]string{parent}, chain...)
		cur = parent
	}
	return chain
}
