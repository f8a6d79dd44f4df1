package runner

import "time"

const (
	// DefaultTickInterval bounds how long the coordinator sleeps between polls
	DefaultTickInterval = 50 * time.Millisecond

	// WorkerCommand is the hidden subcommand a worker process is started with
	WorkerCommand = "worker"

	// WorkerMessageFD is the file descriptor a worker writes its messages to
	WorkerMessageFD = 3

	// AllowAll and AllowFailed are the allow-to-run sentinels
	AllowAll    = "__all__"
	AllowFailed = "__failed__"

	// AllowListSeparator separates explicit allow-to-run entries
	AllowListSeparator = ":"

	// CaptureExt is the extension of a root's captured output file
	CaptureExt = ".out"

	// DefaultQueueSize is the capacity of the shared message queue
	DefaultQueueSize = 1024

	// MaxReasonableConcurrency is the worker count above which a warning is logged
	MaxReasonableConcurrency = 32
)
