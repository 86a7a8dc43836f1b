package failuresink

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitronplus/hostpilot/internal/model"
)

func TestAppendWritesOneJSONObjectPerLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "failures.jsonl")
	sink := Open(path, func(string, ...any) { t.Fatal("unexpected warning") })
	defer sink.Close()

	require.Equal(t, path, sink.Path())

	sink.Append(model.TransferTask{SourcePath: "a.txt", DestinationPath: "srv:/a.txt"},
		model.FailureRecord{Variant: model.WorkerIo, Message: "short read"})
	sink.Append(model.TransferTask{SourcePath: "b.txt", DestinationPath: "srv:/b.txt"},
		model.FailureRecord{Variant: model.MissingLocalSource, Message: "not found"})

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 2)

	var first record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, model.WorkerIo, first.Variant)
	assert.Equal(t, "a.txt", first.Source)
	assert.Equal(t, "srv:/a.txt", first.Dest)
}

func TestOpenFailureWarnsAndDisablesAppend(t *testing.T) {
	// A path whose parent cannot be created (a file standing where a
	// directory needs to go) forces Open to fail.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	badPath := filepath.Join(blocker, "logs", "failures.jsonl")

	warned := false
	sink := Open(badPath, func(string, ...any) { warned = true })
	defer sink.Close()

	assert.True(t, warned)
	assert.Empty(t, sink.Path())

	// Append must not panic even though the file never opened.
	sink.Append(model.TransferTask{SourcePath: "a"}, model.FailureRecord{Variant: model.WorkerIo, Message: "x"})
}

func TestDefaultPathHonorsHome(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	path, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home/tester", ".hostpilot", "logs", "failures.jsonl"), path)
}
