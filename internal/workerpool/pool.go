// Package workerpool runs a fixed set of workers, each owning one SSH
// session and one reusable SFTP channel, pulling TransferTasks until the
// task channel closes and drains (spec.md §4.4).
//
// Worker loop shape grounded on
// erik123457-fileripper-library/internal/pfte/plr.go's StartUnleash
// (pull-from-queue, dispatch-by-operation), adapted so each worker owns its
// session exclusively rather than round-robining across a shared session
// slice — spec.md's ownership model forbids sharing a session between
// workers.
package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nitronplus/hostpilot/internal/model"
	"github.com/nitronplus/hostpilot/internal/retry"
	"github.com/nitronplus/hostpilot/internal/sshsession"
	"github.com/nitronplus/hostpilot/internal/transfer"
)

// Clamp bounds the configured concurrency flag to [1, 16], treating 0 as 1
// (spec.md §4.4, §6).
func Clamp(n int) int {
	if n <= 0 {
		return 1
	}
	if n > 16 {
		return 16
	}
	return n
}

// Hooks lets the CLI front-end observe per-file and per-worker events
// without the pool importing the progress/logging packages directly.
type Hooks struct {
	OnFileStart    func(task model.TransferTask)
	OnFileProgress func(task model.TransferTask, copied int64)
	OnFileDone     func(task model.TransferTask)
	OnFileFailed   func(task model.TransferTask, rec model.FailureRecord)
	OnWorkerFailed func(workerID int, rec model.FailureRecord)
}

// Pool runs N workers against a shared, externally-closed task channel.
type Pool struct {
	N          int
	BufferSize int
	Target     sshsession.Target
	Direction  model.Direction
	RetryPolicy retry.Policy
	Hooks      Hooks
	Metrics    *model.Metrics

	// sessionBuilder is overridable in tests; New sets it to a real
	// sshsession.Connect call.
	sessionBuilder func(ctx context.Context) (*sshsession.Session, error)
}

// New builds a Pool with the concurrency flag clamped per spec.md §4.4.
func New(n int, bufMiB int, target sshsession.Target, direction model.Direction, policy retry.Policy, hooks Hooks, metrics *model.Metrics) *Pool {
	if bufMiB < 1 {
		bufMiB = 1
	}
	if bufMiB > 8 {
		bufMiB = 8
	}
	p := &Pool{
		N:           Clamp(n),
		BufferSize:  bufMiB * 1024 * 1024,
		Target:      target,
		Direction:   direction,
		RetryPolicy: policy,
		Hooks:       hooks,
		Metrics:     metrics,
	}
	p.sessionBuilder = func(ctx context.Context) (*sshsession.Session, error) {
		return sshsession.Connect(ctx, p.Target, sshsession.DefaultConnectTimeout)
	}
	return p
}

// Run starts p.N workers pulling from tasks until it closes and drains. It
// blocks until every worker has exited.
func (p *Pool) Run(ctx context.Context, tasks <-chan model.TransferTask) {
	var wg sync.WaitGroup
	for i := 0; i < p.N; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.runWorker(ctx, id, tasks)
		}(i)
	}
	wg.Wait()
}

// runWorker owns one session/SFTP pair for its whole lifetime, rebuilding
// it whenever an attempt leaves it in doubt (spec.md §4.4 step 4). A worker
// that cannot build its session at all never touches the task channel, so
// a bad key or unreachable host blocks only that worker — the remaining
// workers drain the queue instead of it repeatedly dequeuing tasks it can
// only fail (spec.md §4.4 step 1).
func (p *Pool) runWorker(ctx context.Context, id int, tasks <-chan model.TransferTask) {
	buf := make([]byte, p.BufferSize)

	sess, err := p.buildSession(ctx)
	if err != nil {
		rec := model.FailureRecord{
			Variant: model.WorkerBuildSessionFailed,
			Message: err.Error(),
			Detail:  err.Error(),
		}
		if p.Hooks.OnWorkerFailed != nil {
			p.Hooks.OnWorkerFailed(id, rec)
		}
		return
	}
	defer func() {
		if sess != nil {
			sess.Close()
		}
	}()

	for {
		task, ok := <-tasks
		if !ok {
			return
		}

		if sess == nil {
			newSess, err := p.buildSession(ctx)
			if err != nil {
				rec := model.FailureRecord{
					Variant: model.WorkerBuildSessionFailed,
					Message: err.Error(),
					Detail:  err.Error(),
				}
				atomic.AddInt64(&p.Metrics.FilesFailed, 1)
				if p.Hooks.OnWorkerFailed != nil {
					p.Hooks.OnWorkerFailed(id, rec)
				}
				if p.Hooks.OnFileFailed != nil {
					p.Hooks.OnFileFailed(task, rec)
				}
				return
			}
			sess = newSess
		}

		if p.Hooks.OnFileStart != nil {
			p.Hooks.OnFileStart(task)
		}

		outcome := retry.Run(p.RetryPolicy, func() error {
			return p.attempt(sess, task, buf)
		}, func(error) {
			if sess != nil {
				sess.Close()
			}
			atomic.AddInt64(&p.Metrics.SessionRebuilds, 1)
			atomic.AddInt64(&p.Metrics.SftpRebuilds, 1)
			newSess, buildErr := p.buildSession(ctx)
			if buildErr != nil {
				sess = nil
				return
			}
			sess = newSess
		})

		if outcome.Err != nil {
			rec := retry.Classify(outcome.Err, task.DestinationPath)
			atomic.AddInt64(&p.Metrics.FilesFailed, 1)
			if p.Hooks.OnFileFailed != nil {
				p.Hooks.OnFileFailed(task, rec)
			}
			if sess == nil {
				// The in-retry rebuild never recovered a working session;
				// stop competing for tasks instead of dequeuing another one
				// this worker can only fail identically.
				return
			}
			continue
		}

		atomic.AddInt64(&p.Metrics.FilesCompleted, 1)
		atomic.AddInt64(&p.Metrics.TotalBytes, task.SizeHint)
		if p.Hooks.OnFileDone != nil {
			p.Hooks.OnFileDone(task)
		}
	}
}

func (p *Pool) buildSession(ctx context.Context) (*sshsession.Session, error) {
	return p.sessionBuilder(ctx)
}

func (p *Pool) attempt(sess *sshsession.Session, task model.TransferTask, buf []byte) error {
	if sess == nil || sess.SSH == nil {
		return &transfer.Error{Variant: model.WorkerNoSession, Path: task.DestinationPath, Retriable: true}
	}
	if sess.SFTP == nil {
		return &transfer.Error{Variant: model.WorkerNoSftp, Path: task.DestinationPath, Retriable: true}
	}

	progress := func(copied int64) {
		if p.Hooks.OnFileProgress != nil {
			p.Hooks.OnFileProgress(task, copied)
		}
	}

	if p.Direction == model.Upload {
		return transfer.Upload(sess.SFTP, task, buf, progress)
	}
	return transfer.Download(sess.SFTP, task, buf, progress)
}

// BackoffFloor is a one-millisecond minimum for the retry backoff unit. The
// CLI front-end passes --retry-backoff-ms to retry.Policy without checking
// it against this value.
const BackoffFloor = time.Millisecond
