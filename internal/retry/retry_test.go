package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitronplus/hostpilot/internal/model"
	"github.com/nitronplus/hostpilot/internal/sshsession"
	"github.com/nitronplus/hostpilot/internal/transfer"
)

func TestRunSucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	outcome := Run(Policy{Retries: 3, BackoffBase: time.Millisecond}, func() error {
		calls++
		return nil
	}, nil)
	assert.NoError(t, outcome.Err)
	assert.False(t, outcome.NeedsRebuild)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, outcome.Attempts)
}

func TestRunRetriesRetriableErrorsThenSucceeds(t *testing.T) {
	calls := 0
	outcome := Run(Policy{Retries: 3, BackoffBase: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return &transfer.Error{Variant: model.WorkerIo, Retriable: true, Err: errors.New("short read")}
		}
		return nil
	}, nil)
	assert.NoError(t, outcome.Err)
	assert.True(t, outcome.NeedsRebuild)
	assert.Equal(t, 3, calls)
}

func TestRunStopsImmediatelyOnFatalError(t *testing.T) {
	calls := 0
	outcome := Run(Policy{Retries: 3, BackoffBase: time.Millisecond}, func() error {
		calls++
		return &transfer.Error{Variant: model.MissingLocalSource, Retriable: false}
	}, nil)
	require.Error(t, outcome.Err)
	assert.Equal(t, 1, calls)
	assert.False(t, outcome.NeedsRebuild)
}

func TestRunExhaustsRetriesAndReturnsLastError(t *testing.T) {
	calls := 0
	outcome := Run(Policy{Retries: 2, BackoffBase: time.Millisecond}, func() error {
		calls++
		return &transfer.Error{Variant: model.WorkerIo, Retriable: true, Err: errors.New("boom")}
	}, nil)
	require.Error(t, outcome.Err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, outcome.Attempts)
	assert.True(t, outcome.NeedsRebuild)
}

func TestRunRebuildsBeforeNextAttemptNotAfterRun(t *testing.T) {
	generation := 0
	var seenGeneration []int
	calls := 0
	outcome := Run(Policy{Retries: 3, BackoffBase: time.Millisecond}, func() error {
		calls++
		seenGeneration = append(seenGeneration, generation)
		if calls < 3 {
			return &transfer.Error{Variant: model.WorkerIo, Retriable: true, Err: errors.New("broken channel")}
		}
		return nil
	}, func(err error) {
		generation++
	})
	assert.NoError(t, outcome.Err)
	assert.Equal(t, []int{0, 1, 2}, seenGeneration)
}

func TestIsRetriableAuthFailureIsFatal(t *testing.T) {
	err := &sshsession.Error{Variant: model.SshAuthFailed, Addr: "h:22"}
	assert.False(t, IsRetriable(err))
}

func TestIsRetriableOtherSessionErrorsAreRetriable(t *testing.T) {
	err := &sshsession.Error{Variant: model.SshHandshakeFailed, Addr: "h:22"}
	assert.True(t, IsRetriable(err))
}

func TestIsRetriableUnclassifiedErrorDefaultsTrue(t *testing.T) {
	assert.True(t, IsRetriable(errors.New("connection reset")))
}

func TestClassifyAlwaysPopulatesMessage(t *testing.T) {
	rec := Classify(&transfer.Error{Variant: model.WorkerIo, Path: "/srv/x", Err: errors.New("boom")}, "")
	assert.Equal(t, model.WorkerIo, rec.Variant)
	assert.NotEmpty(t, rec.Message)

	rec = Classify(&sshsession.Error{Variant: model.SshHandshakeFailed, Addr: "h:22", Err: errors.New("eof")}, "")
	assert.Equal(t, model.SshHandshakeFailed, rec.Variant)
	assert.NotEmpty(t, rec.Message)

	rec = Classify(errors.New("plain"), "/some/path")
	assert.Equal(t, model.WorkerIo, rec.Variant)
	assert.Equal(t, "/some/path", rec.Path)
	assert.NotEmpty(t, rec.Message)
}
