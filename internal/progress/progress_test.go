package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nitronplus/hostpilot/internal/model"
)

func TestTrackFileCapsAtMaxVisibleBars(t *testing.T) {
	r := New(Options{}, &model.Metrics{})

	for i := 0; i < MaxVisibleBars; i++ {
		assert.True(t, r.TrackFile(string(rune('a'+i))), "slot %d should still be free", i)
	}
	assert.False(t, r.TrackFile("overflow"), "a 9th concurrent file must not get a visible slot")

	r.ReleaseFile("a")
	assert.True(t, r.TrackFile("overflow"), "releasing a slot must free it up for the next file")
}

func TestTrackFileDisabledInQuietAndJSONModes(t *testing.T) {
	quiet := New(Options{Quiet: true}, &model.Metrics{})
	assert.False(t, quiet.TrackFile("x"))

	jsonMode := New(Options{JSON: true}, &model.Metrics{})
	assert.False(t, jsonMode.TrackFile("x"))
}

func TestFileProgressIgnoresUntrackedKey(t *testing.T) {
	r := New(Options{}, &model.Metrics{})
	// No TrackFile call for "ghost": must not panic despite r.bar being nil.
	r.FileProgress("ghost", 10, 100)
}

func TestReleaseFileIsIdempotent(t *testing.T) {
	r := New(Options{}, &model.Metrics{})
	assert.True(t, r.TrackFile("a"))
	r.ReleaseFile("a")
	r.ReleaseFile("a") // must not panic or double-free a slot
	for i := 0; i < MaxVisibleBars; i++ {
		assert.True(t, r.TrackFile(string(rune('a'+i))))
	}
}

func TestPercentOf(t *testing.T) {
	assert.Equal(t, 0.0, percentOf(5, 0))
	assert.Equal(t, 0.5, percentOf(5, 10))
	assert.Equal(t, 1.0, percentOf(10, 10))
}
