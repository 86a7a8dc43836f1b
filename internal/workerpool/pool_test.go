package workerpool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/nitronplus/hostpilot/internal/model"
	"github.com/nitronplus/hostpilot/internal/retry"
	"github.com/nitronplus/hostpilot/internal/sshsession"
	"github.com/nitronplus/hostpilot/internal/transfer"
)

func TestClampBounds(t *testing.T) {
	assert.Equal(t, 1, Clamp(0))
	assert.Equal(t, 1, Clamp(-5))
	assert.Equal(t, 1, Clamp(1))
	assert.Equal(t, 8, Clamp(8))
	assert.Equal(t, 16, Clamp(16))
	assert.Equal(t, 16, Clamp(100))
}

func TestNewClampsBufferSize(t *testing.T) {
	p := New(4, 0, sshsession.Target{}, model.Upload, retry.DefaultPolicy(), Hooks{}, &model.Metrics{})
	assert.Equal(t, 1*1024*1024, p.BufferSize)

	p = New(4, 64, sshsession.Target{}, model.Upload, retry.DefaultPolicy(), Hooks{}, &model.Metrics{})
	assert.Equal(t, 8*1024*1024, p.BufferSize)
}

func TestAttemptFailsFastWithoutASession(t *testing.T) {
	p := &Pool{Direction: model.Upload}
	err := p.attempt(nil, model.TransferTask{DestinationPath: "/srv/x"}, make([]byte, 4))

	var xferErr *transfer.Error
	require.ErrorAs(t, err, &xferErr)
	assert.Equal(t, model.WorkerNoSession, xferErr.Variant)
	assert.True(t, xferErr.Retriable)
}

func TestAttemptFailsFastWithoutSftpChannel(t *testing.T) {
	p := &Pool{Direction: model.Upload}
	sess := &sshsession.Session{SSH: &ssh.Client{}}
	err := p.attempt(sess, model.TransferTask{DestinationPath: "/srv/x"}, make([]byte, 4))

	var xferErr *transfer.Error
	require.ErrorAs(t, err, &xferErr)
	assert.Equal(t, model.WorkerNoSftp, xferErr.Variant)
}

func TestRunWorkerNeverPullsTasksWhenInitialSessionBuildFails(t *testing.T) {
	var failedWorkers []int
	p := &Pool{
		Direction: model.Upload,
		Metrics:   &model.Metrics{},
		Hooks: Hooks{
			OnWorkerFailed: func(id int, rec model.FailureRecord) {
				failedWorkers = append(failedWorkers, id)
				assert.Equal(t, model.WorkerBuildSessionFailed, rec.Variant)
			},
		},
	}
	p.sessionBuilder = func(ctx context.Context) (*sshsession.Session, error) {
		return nil, errors.New("auth failed")
	}

	tasks := make(chan model.TransferTask, 3)
	tasks <- model.TransferTask{SourcePath: "a"}
	tasks <- model.TransferTask{SourcePath: "b"}
	tasks <- model.TransferTask{SourcePath: "c"}

	p.runWorker(context.Background(), 7, tasks)

	assert.Equal(t, []int{7}, failedWorkers)
	assert.Equal(t, 3, len(tasks), "a worker that can't build a session must not dequeue any task")
	assert.Equal(t, int64(0), p.Metrics.FilesFailed)
}

func TestRunWorkerStopsPullingAfterMidRunRebuildFails(t *testing.T) {
	var failedFiles []string
	p := &Pool{
		Direction:   model.Upload,
		Metrics:     &model.Metrics{},
		RetryPolicy: retry.Policy{Retries: 1, BackoffBase: 0},
		Hooks: Hooks{
			OnFileFailed: func(task model.TransferTask, rec model.FailureRecord) {
				failedFiles = append(failedFiles, task.SourcePath)
			},
		},
	}
	builds := 0
	p.sessionBuilder = func(ctx context.Context) (*sshsession.Session, error) {
		builds++
		if builds == 1 {
			return &sshsession.Session{}, nil
		}
		return nil, errors.New("rebuild failed")
	}

	tasks := make(chan model.TransferTask, 2)
	tasks <- model.TransferTask{SourcePath: "a", DestinationPath: "/srv/a"}
	tasks <- model.TransferTask{SourcePath: "b", DestinationPath: "/srv/b"}

	p.runWorker(context.Background(), 0, tasks)

	assert.Equal(t, []string{"a"}, failedFiles, "only the task in flight when the rebuild fails should be marked failed")
	assert.Equal(t, 1, len(tasks), "the worker must stop dequeuing once a mid-run rebuild cannot recover a session")
}
