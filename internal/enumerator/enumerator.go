// Package enumerator walks the source side of a transfer — local directory
// walk or SFTP readdir — and streams TransferTasks into a bounded channel.
// It never materializes the whole tree's file list before dispatch: it
// holds one directory's listing at a time, pushes a task per file as it
// goes, and recurses into subdirectories depth-first; the bounded
// channel send is the sole backpressure mechanism (spec.md §4.3, §9).
//
// Structurally grounded on charmer/pkg/charmer/path/operations/{local,sftp}/
// list.go for the walk shape (os.ReadDir locally, sftp readdir remotely),
// deliberately NOT following erik123457-fileripper-library/internal/pfte/
// engine.go's filepath.Walk-into-a-slice-then-queue pattern, which
// materializes the whole tree before any task is dispatched.
package enumerator

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/nitronplus/hostpilot/internal/model"
)

// RemoteFS is the subset of *sftp.Client needed to stream a remote
// directory tree without loading it all into memory at once.
type RemoteFS interface {
	Stat(path string) (os.FileInfo, error)
	ReadDir(path string) ([]os.FileInfo, error)
}

// Enumerator streams TransferTasks for a resolved Plan into a bounded
// channel. Capacity is fixed by the caller to workers*4 (spec.md §4.3).
type Enumerator struct {
	Remote RemoteFS
}

// Run walks every concrete source root in plan.Sources and sends one
// TransferTask per regular file to tasks. It blocks on a full channel
// rather than buffering internally. Run closes tasks exactly once, whether
// it returns nil or an error.
func (e *Enumerator) Run(ctx context.Context, plan *model.Plan, tasks chan<- model.TransferTask) error {
	defer close(tasks)

	for _, src := range plan.Sources {
		if err := e.walkSource(ctx, plan, src, tasks); err != nil {
			return err
		}
	}
	return nil
}

func (e *Enumerator) walkSource(ctx context.Context, plan *model.Plan, src string, tasks chan<- model.TransferTask) error {
	isDir, size, err := e.stat(plan, src)
	if err != nil {
		return err
	}

	if !isDir {
		dest := e.destFor(plan, src, filepath.Base(filepath.FromSlash(src)))
		return send(ctx, tasks, model.TransferTask{SourcePath: src, DestinationPath: dest, SizeHint: size})
	}

	// Directory source: copy its contents, not a wrapping directory
	// (spec.md §4.1 "Source semantics") — entries under src land directly
	// under the target root, even when several directory sources are
	// given in one upload.
	return e.walkDir(ctx, plan, src, plan.TargetPath, tasks)
}

func (e *Enumerator) walkDir(ctx context.Context, plan *model.Plan, srcDir, destDir string, tasks chan<- model.TransferTask) error {
	entries, err := e.readDir(plan, srcDir)
	if err != nil {
		return err
	}
	// Deterministic order keeps tests and any future --dry-run output stable;
	// it has no bearing on correctness (ordering between files is
	// unspecified per spec.md §5).
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	for _, ent := range entries {
		childSrc := joinNative(plan.Direction == model.Upload, srcDir, ent.name)
		childDest := joinPath(plan.Direction == model.Upload, destDir, ent.name)

		if ent.isDir {
			if err := e.walkDir(ctx, plan, childSrc, childDest, tasks); err != nil {
				return err
			}
			continue
		}

		if err := send(ctx, tasks, model.TransferTask{SourcePath: childSrc, DestinationPath: childDest, SizeHint: ent.size}); err != nil {
			return err
		}
	}
	return nil
}

type dirEntry struct {
	name  string
	isDir bool
	size  int64
}

func (e *Enumerator) readDir(plan *model.Plan, dir string) ([]dirEntry, error) {
	sourceIsRemote := plan.Direction == model.Download
	if sourceIsRemote {
		infos, err := e.Remote.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		out := make([]dirEntry, len(infos))
		for i, info := range infos {
			out[i] = dirEntry{name: info.Name(), isDir: info.IsDir(), size: info.Size()}
		}
		return out, nil
	}

	infos, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]dirEntry, 0, len(infos))
	for _, info := range infos {
		fi, err := info.Info()
		if err != nil {
			continue
		}
		out = append(out, dirEntry{name: fi.Name(), isDir: fi.IsDir(), size: fi.Size()})
	}
	return out, nil
}

func (e *Enumerator) stat(plan *model.Plan, p string) (isDir bool, size int64, err error) {
	sourceIsRemote := plan.Direction == model.Download
	if sourceIsRemote {
		info, err := e.Remote.Stat(p)
		if err != nil {
			return false, 0, err
		}
		return info.IsDir(), info.Size(), nil
	}
	info, err := os.Stat(p)
	if err != nil {
		return false, 0, err
	}
	return info.IsDir(), info.Size(), nil
}

// destFor computes the destination path for a single top-level file source.
func (e *Enumerator) destFor(plan *model.Plan, _ string, baseName string) string {
	if plan.TargetKindRequired == model.SpecificFile {
		return plan.TargetPath
	}
	return joinPath(plan.Direction == model.Upload, plan.TargetPath, baseName)
}

// joinPath joins on the destination side: remote paths always use forward
// slashes, local paths use the OS separator.
func joinPath(destIsRemote bool, a, b string) string {
	if destIsRemote {
		return path.Join(a, b)
	}
	return filepath.Join(a, b)
}

// joinNative joins on the source side.
func joinNative(srcIsLocal bool, a, b string) string {
	if srcIsLocal {
		return filepath.Join(a, b)
	}
	return path.Join(a, b)
}

func send(ctx context.Context, tasks chan<- model.TransferTask, t model.TransferTask) error {
	select {
	case tasks <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
