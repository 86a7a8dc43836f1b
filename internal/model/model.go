// Package model holds the data types shared across the transfer engine:
// endpoints, the immutable plan produced by the resolver, per-file tasks,
// failure records and run metrics. Per-worker state (session, SFTP channel,
// buffer) is held by each worker goroutine in internal/workerpool.
package model

import "time"

// Direction is the side the remote endpoint plays in a transfer.
type Direction int

const (
	Upload Direction = iota
	Download
)

func (d Direction) String() string {
	if d == Upload {
		return "upload"
	}
	return "download"
}

// TargetKind describes what the resolver required of the target path.
type TargetKind int

const (
	ExistingDirectory TargetKind = iota
	CreatableDirectory
	SpecificFile
	Ambiguous
)

// Endpoint is either a local path or an alias:path remote reference.
type Endpoint struct {
	Remote bool
	Alias  string // set when Remote
	Path   string
}

func LocalEndpoint(path string) Endpoint {
	return Endpoint{Remote: false, Path: path}
}

func RemoteEndpoint(alias, path string) Endpoint {
	return Endpoint{Remote: true, Alias: alias, Path: path}
}

// GlobPredicate is the single final-segment wildcard filter applied during
// enumeration, per spec.md 4.1 "Glob handling".
type GlobPredicate struct {
	Dir     string
	Pattern string
}

// Plan is the immutable, pre-flight description of a run. It never changes
// once the resolver returns it.
type Plan struct {
	Direction         Direction
	Sources           []string
	Target            Endpoint
	TargetKindRequired TargetKind
	// TargetPath is the fully resolved destination root (directory, unless
	// TargetKindRequired is SpecificFile, in which case it is the exact
	// destination file path and len(Sources) == 1).
	TargetPath string
	Glob       *GlobPredicate
	RemoteHome string // cached ~ expansion, empty if unused
}

// TransferTask is one file's worth of work. For uploads SourcePath is local
// and DestinationPath is remote; inverted for downloads.
type TransferTask struct {
	SourcePath      string
	DestinationPath string
	SizeHint        int64
}

// FailureVariant is the closed set of structured failure tags from spec.md §3.
type FailureVariant string

const (
	InvalidDirection           FailureVariant = "InvalidDirection"
	UnsupportedGlobUsage       FailureVariant = "UnsupportedGlobUsage"
	AliasNotFound              FailureVariant = "AliasNotFound"
	RemoteTargetMustBeDir      FailureVariant = "RemoteTargetMustBeDir"
	LocalTargetMustBeDir       FailureVariant = "LocalTargetMustBeDir"
	RemoteTargetParentMissing  FailureVariant = "RemoteTargetParentMissing"
	LocalTargetParentMissing   FailureVariant = "LocalTargetParentMissing"
	CreateRemoteDirFailed      FailureVariant = "CreateRemoteDirFailed"
	CreateLocalDirFailed       FailureVariant = "CreateLocalDirFailed"
	GlobNoMatches              FailureVariant = "GlobNoMatches"
	WorkerNoSession            FailureVariant = "WorkerNoSession"
	WorkerNoSftp               FailureVariant = "WorkerNoSftp"
	SftpCreateFailed           FailureVariant = "SftpCreateFailed"
	SshNoAddress               FailureVariant = "SshNoAddress"
	SshSessionCreateFailed     FailureVariant = "SshSessionCreateFailed"
	SshHandshakeFailed         FailureVariant = "SshHandshakeFailed"
	SshAuthFailed              FailureVariant = "SshAuthFailed"
	WorkerBuildSessionFailed   FailureVariant = "WorkerBuildSessionFailed"
	MissingLocalSource         FailureVariant = "MissingLocalSource"
	DownloadMultipleRemoteSources FailureVariant = "DownloadMultipleRemoteSources"
	OperationFailed            FailureVariant = "OperationFailed"
	WorkerIo                   FailureVariant = "WorkerIo"
)

// FailureRecord is one structured, append-only JSON object describing a
// terminal per-file or per-run failure.
type FailureRecord struct {
	Variant FailureVariant `json:"variant"`
	Message string         `json:"message"`
	Alias   string         `json:"alias,omitempty"`
	Addr    string         `json:"addr,omitempty"`
	Path    string         `json:"path,omitempty"`
	Pattern string         `json:"pattern,omitempty"`
	Error   string         `json:"error,omitempty"`
	Detail  string         `json:"detail,omitempty"`
}

// Metrics are the monotonically increasing counters tracked for the
// lifetime of one run. All fields are updated with atomic or
// lock-protected increments; see internal/workerpool.
type Metrics struct {
	TotalBytes      int64
	FilesCompleted  int64
	FilesFailed     int64
	SessionRebuilds int64
	SftpRebuilds    int64
	StartTime       time.Time
}

// Summary is the end-of-run report, emitted as text or single-line JSON.
type Summary struct {
	TotalBytes      int64   `json:"total_bytes"`
	ElapsedSecs     float64 `json:"elapsed_secs"`
	Files           int64   `json:"files"`
	SessionRebuilds int64   `json:"session_rebuilds"`
	SftpRebuilds    int64   `json:"sftp_rebuilds"`
	Failures        int64   `json:"failures"`
	FailuresPath    string  `json:"failures_path,omitempty"`
}
