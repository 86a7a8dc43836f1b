package resolver

import (
	"os"
	"path"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitronplus/hostpilot/internal/alias"
	"github.com/nitronplus/hostpilot/internal/model"
)

// fakeInfo is a minimal os.FileInfo for the in-memory fake filesystem below.
type fakeInfo struct {
	name  string
	isDir bool
}

func (f fakeInfo) Name() string       { return f.name }
func (f fakeInfo) Size() int64        { return 0 }
func (f fakeInfo) Mode() os.FileMode  { return 0 }
func (f fakeInfo) ModTime() time.Time { return time.Time{} }
func (f fakeInfo) IsDir() bool        { return f.isDir }
func (f fakeInfo) Sys() any           { return nil }

// fakeRemote is an in-memory stand-in for *sftp.Client good enough to drive
// the resolver's classification and target-kind rules without a real SSH
// host (spec.md §4.1's own testing strategy — "resolver logic is tested
// against an in-memory fake, not a live server").
type fakeRemote struct {
	dirs  map[string]bool
	files map[string]bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{dirs: map[string]bool{"/": true}, files: map[string]bool{}}
}

func (f *fakeRemote) mkdir(p string) { f.dirs[path.Clean(p)] = true }
func (f *fakeRemote) touch(p string) { f.files[path.Clean(p)] = true }

func (f *fakeRemote) Stat(p string) (os.FileInfo, error) {
	c := path.Clean(p)
	if f.dirs[c] {
		return fakeInfo{name: path.Base(c), isDir: true}, nil
	}
	if f.files[c] {
		return fakeInfo{name: path.Base(c), isDir: false}, nil
	}
	return nil, os.ErrNotExist
}

func (f *fakeRemote) ReadDir(p string) ([]os.FileInfo, error) {
	var out []os.FileInfo
	clean := path.Clean(p)
	for d := range f.dirs {
		if path.Dir(d) == clean {
			out = append(out, fakeInfo{name: path.Base(d), isDir: true})
		}
	}
	for fp := range f.files {
		if path.Dir(fp) == clean {
			out = append(out, fakeInfo{name: path.Base(fp), isDir: false})
		}
	}
	return out, nil
}

func (f *fakeRemote) Mkdir(p string) error {
	f.dirs[path.Clean(p)] = true
	return nil
}

func (f *fakeRemote) MkdirAll(p string) error {
	f.dirs[path.Clean(p)] = true
	return nil
}

func (f *fakeRemote) Glob(pattern string) ([]string, error) {
	dir := path.Dir(pattern)
	base := path.Base(pattern)
	var out []string
	for fp := range f.files {
		if path.Dir(fp) != dir {
			continue
		}
		if matched, _ := path.Match(base, path.Base(fp)); matched {
			out = append(out, fp)
		}
	}
	for dp := range f.dirs {
		if path.Dir(dp) != dir {
			continue
		}
		if matched, _ := path.Match(base, path.Base(dp)); matched {
			out = append(out, dp)
		}
	}
	return out, nil
}

func newTestRegistry(t *testing.T) *alias.Registry {
	t.Helper()
	dir := t.TempDir()
	p := path.Join(dir, "aliases.json")
	require.NoError(t, os.WriteFile(p, []byte(`[{"name":"build","user":"ci","host":"build.internal","port":22}]`), 0o644))
	reg, err := alias.Load(p)
	require.NoError(t, err)
	return reg
}

func TestResolveUploadIntoExistingRemoteDirectory(t *testing.T) {
	remote := newFakeRemote()
	remote.mkdir("/srv/app")

	local := t.TempDir()
	require.NoError(t, os.WriteFile(path.Join(local, "a.txt"), []byte("hi"), 0o644))

	r := New(newTestRegistry(t), remote, func() (string, error) { return "/home/ci", nil })
	plan, _, err := r.Resolve([]string{path.Join(local, "a.txt")}, "build:/srv/app/")
	require.NoError(t, err)

	assert.Equal(t, model.Upload, plan.Direction)
	assert.Equal(t, model.ExistingDirectory, plan.TargetKindRequired)
	assert.Equal(t, "/srv/app", plan.TargetPath)
}

func TestResolveRejectsBothSidesLocal(t *testing.T) {
	r := New(newTestRegistry(t), newFakeRemote(), nil)
	_, _, err := r.Resolve([]string{"a.txt"}, "b.txt")

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, model.InvalidDirection, rerr.Variant)
}

func TestResolveRejectsMultipleRemoteDownloadSources(t *testing.T) {
	remote := newFakeRemote()
	remote.touch("/srv/a.txt")
	remote.touch("/srv/b.txt")

	r := New(newTestRegistry(t), remote, func() (string, error) { return "/home/ci", nil })
	_, _, err := r.Resolve([]string{"build:/srv/a.txt", "build:/srv/b.txt"}, t.TempDir())

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, model.DownloadMultipleRemoteSources, rerr.Variant)
}

func TestResolveRejectsGlobOutsideFinalSegment(t *testing.T) {
	remote := newFakeRemote()
	r := New(newTestRegistry(t), remote, func() (string, error) { return "/home/ci", nil })
	_, _, err := r.Resolve([]string{"build:/srv/*/logs"}, t.TempDir())

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, model.UnsupportedGlobUsage, rerr.Variant)
}

func TestResolveExpandsRemoteTilde(t *testing.T) {
	remote := newFakeRemote()
	remote.mkdir("/home/ci/logs")

	r := New(newTestRegistry(t), remote, func() (string, error) { return "/home/ci", nil })
	plan, _, err := r.Resolve([]string{"build:~/logs/"}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "/home/ci/logs", plan.Sources[0])
}

func TestResolveUnknownAliasFails(t *testing.T) {
	r := New(newTestRegistry(t), newFakeRemote(), nil)
	_, _, err := r.Resolve([]string{"a.txt"}, "ghost:/srv")

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, model.AliasNotFound, rerr.Variant)
	assert.Equal(t, "ghost", rerr.Alias)
}

func TestResolveRejectsSingleDirectorySourceAgainstExistingFileTarget(t *testing.T) {
	remote := newFakeRemote()
	remote.touch("/srv/existing-file")

	local := t.TempDir()
	require.NoError(t, os.Mkdir(path.Join(local, "sub"), 0o755))
	require.NoError(t, os.WriteFile(path.Join(local, "sub", "x.txt"), []byte("hi"), 0o644))

	r := New(newTestRegistry(t), remote, func() (string, error) { return "/home/ci", nil })
	_, _, err := r.Resolve([]string{path.Join(local, "sub")}, "build:/srv/existing-file")

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, model.RemoteTargetMustBeDir, rerr.Variant, "a single directory source must not take the SpecificFile exception meant for a single file source")
}

func TestResolveGlobMatchesFilesOnly(t *testing.T) {
	remote := newFakeRemote()
	remote.touch("/srv/a.log")
	remote.touch("/srv/b.log")
	remote.mkdir("/srv/sub.log") // a directory that happens to match the pattern

	r := New(newTestRegistry(t), remote, func() (string, error) { return "/home/ci", nil })
	plan, _, err := r.Resolve([]string{"build:/srv/*.log"}, t.TempDir())
	require.NoError(t, err)
	assert.Len(t, plan.Sources, 2)
}
