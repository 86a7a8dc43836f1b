// Command ts is the concurrent SSH/SFTP file-transfer CLI: ts copies one or
// more local or "alias:path" remote sources into a target, picking upload
// or download by which side is remote (spec.md §1, §2).
//
// Front-end shape grounded on
// tphakala-birdnet-go/cmd/file/file.go (single cobra.Command, signal-driven
// cancellation context, RunE returning the process error) — re-targeted
// from an audio-analysis subcommand onto a transfer run.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nitronplus/hostpilot/internal/alias"
	"github.com/nitronplus/hostpilot/internal/enumerator"
	"github.com/nitronplus/hostpilot/internal/failuresink"
	"github.com/nitronplus/hostpilot/internal/model"
	"github.com/nitronplus/hostpilot/internal/progress"
	"github.com/nitronplus/hostpilot/internal/resolver"
	"github.com/nitronplus/hostpilot/internal/retry"
	"github.com/nitronplus/hostpilot/internal/sshsession"
	"github.com/nitronplus/hostpilot/internal/workerpool"
	"github.com/nitronplus/hostpilot/pkg/version"
)

var log = logrus.New()

type options struct {
	concurrency    int
	bufMiB         int
	retries        int
	retryBackoffMS int
	verbose        bool
	quiet          bool
	jsonSummary    bool
}

func main() {
	opts := &options{}

	root := &cobra.Command{
		Use:   "ts SOURCE... TARGET",
		Short: "Copy files to or from a remote host over SSH/SFTP",
		Long: "ts copies one or more SOURCE paths into TARGET. Exactly one side of the\n" +
			"transfer must be a remote alias:path reference; the other side is local.\n" +
			"Remote hosts are named through the alias registry (~/.hostpilot/aliases.json).",
		Version: version.Version,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, args[:len(args)-1], args[len(args)-1])
		},
	}
	root.SilenceUsage = true
	root.SilenceErrors = true

	root.Flags().IntVarP(&opts.concurrency, "concurrency", "c", 8, "number of concurrent worker sessions (1-16)")
	root.Flags().IntVarP(&opts.bufMiB, "buf-mib", "f", 1, "per-worker copy buffer size in MiB (1-8)")
	root.Flags().IntVarP(&opts.retries, "retries", "r", 3, "attempts per file before giving up")
	root.Flags().IntVar(&opts.retryBackoffMS, "retry-backoff-ms", 100, "linear backoff unit between retries, in milliseconds")
	root.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	root.Flags().BoolVar(&opts.quiet, "quiet", false, "suppress progress bars and the human summary")
	root.Flags().BoolVar(&opts.jsonSummary, "json", false, "print the end-of-run summary as a single line of JSON")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nreceived interrupt, shutting down after in-flight transfers drain...")
		cancel()
	}()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "ts:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options, sources []string, target string) error {
	configureLogging(opts)

	registry, err := alias.Load(alias.DefaultPath())
	if err != nil {
		return fmt.Errorf("load alias registry: %w", err)
	}

	remoteTarget, ok := findRemote(registry, append(append([]string{}, sources...), target))
	var sess *sshsession.Session
	if ok {
		log.WithFields(logrus.Fields{"host": remoteTarget.Host, "user": remoteTarget.User}).Debug("connecting")
		sess, err = sshsession.Connect(ctx, remoteTarget, sshsession.DefaultConnectTimeout)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer sess.Close()
	}

	res := buildResolver(registry, sess)
	plan, remoteParents, err := res.Resolve(sources, target)
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}

	if plan.Direction == model.Upload && sess != nil {
		for _, dir := range remoteParents {
			if err := sess.SFTP.MkdirAll(dir); err != nil {
				rec := model.FailureRecord{
					Variant: model.CreateRemoteDirFailed,
					Message: fmt.Sprintf("create remote directory %s: %v", dir, err),
					Path:    dir,
					Error:   err.Error(),
				}
				return fmt.Errorf("%s: %s", rec.Variant, rec.Message)
			}
		}
	}

	metrics := &model.Metrics{StartTime: time.Now()}
	reporter := progress.New(progress.Options{Quiet: opts.quiet, JSON: opts.jsonSummary}, metrics)
	reporter.Start(0) // total bytes is unknown up front: the enumerator streams rather than pre-scanning (spec.md §4.3)

	sinkPath, err := failuresink.DefaultPath()
	if err != nil {
		reporter.Warnf("could not determine failure log path: %v", err)
	}
	sink := failuresink.Open(sinkPath, reporter.Warnf)
	defer sink.Close()

	policy := retry.Policy{Retries: opts.retries, BackoffBase: time.Duration(opts.retryBackoffMS) * time.Millisecond}

	hooks := workerpool.Hooks{
		OnFileStart: func(task model.TransferTask) {
			log.WithField("source", task.SourcePath).Debug("start")
			reporter.TrackFile(task.DestinationPath)
		},
		OnFileProgress: func(task model.TransferTask, copied int64) {
			reporter.FileProgress(task.DestinationPath, copied, task.SizeHint)
			reporter.Tick()
		},
		OnFileDone: func(task model.TransferTask) {
			log.WithField("source", task.SourcePath).Debug("done")
			reporter.ReleaseFile(task.DestinationPath)
			reporter.Tick()
		},
		OnFileFailed: func(task model.TransferTask, rec model.FailureRecord) {
			log.WithFields(logrus.Fields{"source": task.SourcePath, "variant": rec.Variant}).Warn(rec.Message)
			sink.Append(task, rec)
			reporter.ReleaseFile(task.DestinationPath)
			reporter.Tick()
		},
		OnWorkerFailed: func(workerID int, rec model.FailureRecord) {
			log.WithFields(logrus.Fields{"worker": workerID, "variant": rec.Variant}).Error(rec.Message)
		},
	}

	pool := workerpool.New(opts.concurrency, opts.bufMiB, remoteTarget, plan.Direction, policy, hooks, metrics)

	tasks := make(chan model.TransferTask, workerpool.Clamp(opts.concurrency)*4)
	enumDone := make(chan error, 1)
	en := &enumerator.Enumerator{Remote: remoteFS(sess)}
	go func() { enumDone <- en.Run(ctx, plan, tasks) }()

	pool.Run(ctx, tasks)

	if err := <-enumDone; err != nil && err != context.Canceled {
		reporter.Warnf("enumeration stopped early: %v", err)
	}

	summary := reporter.Finish(sink.Path())
	if summary.Failures > 0 {
		return fmt.Errorf("%d file(s) failed, see %s", summary.Failures, sink.Path())
	}
	return nil
}

// remoteFS adapts a Session's SFTP client to enumerator.RemoteFS. sess is
// never nil by the time this is called: Resolve rejects any plan that
// doesn't have exactly one remote side.
func remoteFS(sess *sshsession.Session) enumerator.RemoteFS {
	if sess == nil {
		return nil
	}
	return sess.SFTP
}

func buildResolver(registry *alias.Registry, sess *sshsession.Session) *resolver.Resolver {
	var remote resolver.RemoteFS
	var home resolver.HomeResolver
	if sess != nil {
		remote = sess.SFTP
		home = func() (string, error) { return sshsession.RemoteHome(sess.SSH) }
	}
	return resolver.New(registry, remote, home)
}

// findRemote scans raw CLI arguments for the first alias:path token that
// matches a registered alias, mirroring internal/resolver's own
// classification rule closely enough to know which host to dial before the
// resolver itself runs (the resolver needs a live RemoteFS to resolve glob
// and target-kind rules, so the connection has to come first).
func findRemote(registry *alias.Registry, raw []string) (sshsession.Target, bool) {
	for _, s := range raw {
		idx := strings.IndexByte(s, ':')
		if idx <= 1 {
			continue
		}
		name := s[:idx]
		entry, ok := registry.Lookup(name)
		if !ok {
			continue
		}
		return sshsession.Target{Host: entry.Host, Port: entry.Port, User: entry.User}, true
	}
	return sshsession.Target{}, false
}

func configureLogging(opts *options) {
	log.SetOutput(os.Stderr)
	if opts.verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}
	if opts.quiet {
		log.SetLevel(logrus.ErrorLevel)
	}
}
