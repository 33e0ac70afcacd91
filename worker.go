package bbq

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/knmbbq/bbq/internal/cronmatch"
)

// Worker is a named registry of Jobs and ScheduleJobs. It routes messages
// routed to it by the Dispatcher to the least-loaded eligible Job and drives
// scheduled-job timers (spec.md §4.4).
type Worker struct {
	Name    string
	Options WorkerOptions

	dispatcher *Dispatcher
	runtime    Runtime
	logger     Logger
	rawLogger  Logger // ungated by Options.Log; handed to Jobs/ScheduleJobs so their own Log flags can gate independently

	mu            sync.Mutex
	jobs          map[string]*Job         // by name
	scheduleJobs  map[string]*ScheduleJob // by name
	jobsByQueue   map[string][]*Job       // queueID -> jobs, registration order
	observerQueue map[string]bool         // queueID -> currently accepting
}

func newWorker(name string, opts WorkerOptions, dispatcher *Dispatcher, runtime Runtime, logger Logger) *Worker {
	opts = opts.withDefaults()
	gated := logger
	if !opts.Log {
		gated = NopLogger{}
	}
	w := &Worker{
		Name:          name,
		Options:       opts,
		dispatcher:    dispatcher,
		runtime:       runtime,
		logger:        withComponent(gated, "worker:"+name),
		rawLogger:     logger,
		jobs:          make(map[string]*Job),
		scheduleJobs:  make(map[string]*ScheduleJob),
		jobsByQueue:   make(map[string][]*Job),
		observerQueue: make(map[string]bool),
	}
	go w.runIntervalLoop()
	return w
}

// runIntervalLoop is the legacy interval-driven variant of the dispatch
// loop, governed by Options.IntervalRunJob. The modern path pumps a Job the
// moment its backlog changes (accept/downInstance); this loop periodically
// re-pumps every registered Job as a fallback so a backlog does not stall
// forever if a wake-up was ever missed. pump() is idempotent under
// concurrency and backlog limits, so re-pumping a Job with nothing to do or
// no spare concurrency is a no-op — this never re-dispatches a message that
// is already claimed.
func (w *Worker) runIntervalLoop() {
	ticker := time.NewTicker(w.Options.IntervalRunJob)
	defer ticker.Stop()
	for range ticker.C {
		w.mu.Lock()
		jobs := make([]*Job, 0, len(w.jobs))
		for _, job := range w.jobs {
			jobs = append(jobs, job)
		}
		w.mu.Unlock()

		for _, job := range jobs {
			job.pump()
		}
	}
}

// CreateJob registers a Job named name consuming queueName, bound to
// callback. name must be unique within this Worker.
func (w *Worker) CreateJob(name, queueName string, callback Callback, opts JobOptions) (*Job, error) {
	if !callback.valid() {
		return nil, ErrCallbackInvalid
	}

	w.mu.Lock()
	if w.nameTakenLocked(name) {
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: job %q", ErrNameDuplicate, name)
	}
	w.mu.Unlock()

	queue, err := w.dispatcher.GetQueue(queueName)
	if err != nil {
		return nil, err
	}

	job := newJob(name, queue, callback, opts, w, w.runtime, w.rawLogger)

	w.mu.Lock()
	w.jobs[name] = job
	w.jobsByQueue[queue.ID] = append(w.jobsByQueue[queue.ID], job)
	w.observerQueue[queue.ID] = true
	w.mu.Unlock()

	return job, nil
}

// CreateScheduleJob registers a cron-triggered ScheduleJob named name. name
// must be unique within this Worker.
func (w *Worker) CreateScheduleJob(name string, callback Callback, pattern string, sampleData any, opts ScheduleJobOptions) (*ScheduleJob, error) {
	if !callback.valid() {
		return nil, ErrCallbackInvalid
	}

	parsed, err := cronmatch.Parse(pattern)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	if w.nameTakenLocked(name) {
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: schedule job %q", ErrNameDuplicate, name)
	}
	w.mu.Unlock()

	sj := newScheduleJob(name, parsed, sampleData, callback, opts, w, w.runtime, w.rawLogger)

	w.mu.Lock()
	w.scheduleJobs[name] = sj
	w.mu.Unlock()

	sj.start()
	return sj, nil
}

func (w *Worker) nameTakenLocked(name string) bool {
	if _, ok := w.jobs[name]; ok {
		return true
	}
	_, ok := w.scheduleJobs[name]
	return ok
}

// Run is the core dispatch operation (spec.md §4.4): pick the least-loaded
// eligible Job for queue and hand it env, or pause this Worker's observer
// for that queue and ask it to rebroadcast under back-pressure.
func (w *Worker) Run(queue *Queue, env MessageEnvelope) {
	w.mu.Lock()
	candidates := w.jobsByQueue[queue.ID]
	var chosen *Job
	best := -1
	for _, job := range candidates {
		n := job.workingCount()
		if n >= job.Options.WorkingMessageCount {
			continue
		}
		if best == -1 || n < best {
			chosen = job
			best = n
		}
	}
	if chosen == nil {
		w.observerQueue[queue.ID] = false
	}
	w.mu.Unlock()

	if chosen == nil {
		queue.rebroadcastLater(env.Message, env.Value)
		return
	}
	chosen.accept(env)
}

// downMessage unpauses this Worker's observer for the queue env came from.
// Invoked by a Job once it has accepted env off its backlog.
func (w *Worker) downMessage(env MessageEnvelope) {
	w.mu.Lock()
	w.observerQueue[env.QueueID] = true
	w.mu.Unlock()
}

// ExistObserverQueue reports whether this Worker is currently registered and
// unpaused for queueID.
func (w *Worker) ExistObserverQueue(queueID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	listening, exists := w.observerQueue[queueID]
	return exists && listening
}

// sortWorkersByPriority sorts workers descending by Options.Priority,
// ties broken by original (insertion) order, per spec.md §4.5.
func sortWorkersByPriority(workers []*Worker) {
	sort.SliceStable(workers, func(i, j int) bool {
		return workers[i].Options.Priority > workers[j].Options.Priority
	})
}
