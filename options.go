package bbq

import "time"

// CipherMode selects the on-disk payload encryption scheme for a Queue.
type CipherMode int

const (
	// CipherAESECB is the legacy scheme: AES-256 in ECB mode with a key
	// derived by zero-padding or truncating SecretKey to 32 bytes. It is
	// deterministic and reveals structure; kept as the default for on-disk
	// compatibility (spec.md §9).
	CipherAESECB CipherMode = iota

	// CipherAESGCM is an opt-in authenticated mode: AES-256-GCM with a key
	// derived from SecretKey via HKDF-SHA-256. Not compatible with files
	// written under CipherAESECB.
	CipherAESGCM
)

// QueueOptions configures a single Queue. Zero values are replaced by
// defaults in withDefaults; callers only need to set the fields they care
// about.
type QueueOptions struct {
	// Size is the maximum serialized payload size in bytes. Default 2048.
	Size int
	// Expire, if > 0, arms a per-message deletion timer. Default 0 (disabled).
	Expire time.Duration
	// Limit, if > 0, caps the pipeline length. Default 0 (disabled).
	Limit int
	// UpdateMetaTime debounces metadata snapshot writes. Floored at 1s,
	// default 3s.
	UpdateMetaTime time.Duration
	// RebroadcastTime is the delay before a saturated message is resent to
	// the Dispatcher. Default 2s.
	RebroadcastTime time.Duration
	// SecretKey, if non-empty, enables payload encryption under CipherMode.
	SecretKey string
	// CipherMode selects the encryption scheme when SecretKey is set.
	// Default CipherAESECB.
	CipherMode CipherMode
	// MaxRebroadcasts bounds how many times a single message may be
	// rebroadcast under back-pressure before it is force-failed. 0 means
	// unbounded, matching the original design (spec.md §12).
	MaxRebroadcasts int
}

func (o QueueOptions) withDefaults() QueueOptions {
	if o.Size <= 0 {
		o.Size = 2048
	}
	if o.UpdateMetaTime < time.Second {
		o.UpdateMetaTime = 3 * time.Second
	}
	if o.RebroadcastTime <= 0 {
		o.RebroadcastTime = 2 * time.Second
	}
	return o
}

// JobOptions configures a Job or (embedded) a ScheduleJob.
type JobOptions struct {
	// Log enables per-job log lines through the Dispatcher's Logger.
	Log bool
	// Retry is the number of additional attempts after the first. Default 0.
	Retry int
	// Timeout bounds a single attempt. Default 60s.
	Timeout time.Duration
	// RetryAfter is the delay before a retry attempt. Default 30s.
	RetryAfter time.Duration
	// MaxListeners caps concurrent out-of-process runtime listeners. Default 100.
	MaxListeners int
	// Concurrency caps live Job instances. Default 20.
	Concurrency int
	// WorkingMessageCount caps accepted-but-not-started messages. Default 100.
	WorkingMessageCount int
}

func (o JobOptions) withDefaults() JobOptions {
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	if o.RetryAfter <= 0 {
		o.RetryAfter = 30 * time.Second
	}
	if o.MaxListeners <= 0 {
		o.MaxListeners = 100
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 20
	}
	if o.WorkingMessageCount <= 0 {
		o.WorkingMessageCount = 100
	}
	return o
}

// ScheduleJobOptions configures a ScheduleJob: the same knobs as JobOptions
// plus a timezone for cron matching.
type ScheduleJobOptions struct {
	JobOptions
	// Timezone is an IANA zone name. Default "UTC".
	Timezone string
}

func (o ScheduleJobOptions) withDefaults() ScheduleJobOptions {
	o.JobOptions = o.JobOptions.withDefaults()
	if o.Timezone == "" {
		o.Timezone = "UTC"
	}
	return o
}

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	// Log enables worker-level log lines.
	Log bool
	// Priority orders Workers within a Dispatcher; higher matches first.
	// Ties broken by registration order. Default 1.
	Priority int
	// IntervalRunJob is the tick period of the legacy interval-driven dispatch
	// loop, a fallback re-pump of every registered Job run alongside the
	// normal push-driven dispatch. Default 2s.
	IntervalRunJob time.Duration
}

func (o WorkerOptions) withDefaults() WorkerOptions {
	if o.Priority == 0 {
		o.Priority = 1
	}
	if o.IntervalRunJob <= 0 {
		o.IntervalRunJob = 2 * time.Second
	}
	return o
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// Path is the root directory for persistence. Default "<cwd>/bbq".
	Path string
	// Log enables dispatcher-level log lines and gates Queue logging, since
	// QueueOptions has no Log flag of its own. Workers and Jobs gate
	// independently via their own Log fields.
	Log bool
	// QueueDefaults seeds QueueOptions for queues created without explicit
	// options.
	QueueDefaults QueueOptions
	// Logger receives log output when Log is true. Defaults to a no-op
	// logger if nil, even when Log is true, so a caller who forgets to
	// supply one degrades silently rather than panicking.
	Logger Logger
}

func (o DispatcherOptions) withDefaults() DispatcherOptions {
	if o.Path == "" {
		o.Path = defaultRootPath()
	}
	o.QueueDefaults = o.QueueDefaults.withDefaults()
	if o.Logger == nil {
		o.Logger = NopLogger{}
	}
	return o
}
