package bbq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/knmbbq/bbq/internal/events"
)

// Job is a Worker-owned descriptor: a named callback bound to one queue,
// with bounded concurrency and a bounded backlog of accepted-but-unstarted
// messages (spec.md §3 "Job descriptor").
type Job struct {
	Name     string
	Queue    *Queue
	Callback Callback
	Options  JobOptions

	worker  *Worker
	runtime Runtime
	logger  Logger

	mu             sync.Mutex
	instances      map[string]*jobInstance
	workingMessage []MessageEnvelope
}

func newJob(name string, queue *Queue, callback Callback, opts JobOptions, worker *Worker, runtime Runtime, logger Logger) *Job {
	opts = opts.withDefaults()
	if !opts.Log {
		logger = NopLogger{}
	}
	return &Job{
		Name:      name,
		Queue:     queue,
		Callback:  callback,
		Options:   opts,
		worker:    worker,
		runtime:   runtime,
		logger:    withComponent(logger, "job:"+name),
		instances: make(map[string]*jobInstance),
	}
}

// workingCount reports the current backlog length, used by Worker.Run's
// least-loaded selection.
func (j *Job) workingCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.workingMessage)
}

// instanceCount reports the number of live Job instances.
func (j *Job) instanceCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.instances)
}

// accept appends env to the backlog and kicks the concurrency loop. Callers
// must have already checked workingCount() < WorkingMessageCount.
func (j *Job) accept(env MessageEnvelope) {
	j.mu.Lock()
	j.workingMessage = append(j.workingMessage, env)
	j.mu.Unlock()
	j.pump()
}

// pump starts new Job instances while there is spare concurrency and
// unserved backlog, per spec.md §4.4's "kick its concurrency loop". The head
// of workingMessage is claimed (dequeued) under j.mu before the processing
// goroutine is spawned, so a message is handed to exactly one jobInstance
// even under Concurrency>1 — the goroutine's own eventual downMessage call
// must never be the thing that dequeues it.
func (j *Job) pump() {
	for {
		j.mu.Lock()
		if len(j.instances) >= j.Options.Concurrency || len(j.workingMessage) == 0 {
			j.mu.Unlock()
			return
		}
		env := j.workingMessage[0]
		j.workingMessage = j.workingMessage[1:]
		inst := newJobInstance(j)
		j.instances[inst.id] = inst
		j.mu.Unlock()

		j.worker.downMessage(env)
		go inst.Try(env)
	}
}

// downInstance frees the concurrency slot held by instanceID and re-pumps.
func (j *Job) downInstance(instanceID string) {
	j.mu.Lock()
	delete(j.instances, instanceID)
	j.mu.Unlock()
	j.pump()
}

// publish emits a job lifecycle event through the owning Dispatcher's hub, if
// any. A Job constructed for tests without a Worker/Dispatcher is a no-op.
func (j *Job) publish(kind events.Kind, messageID string) {
	if j.worker == nil || j.worker.dispatcher == nil || j.worker.dispatcher.events == nil {
		return
	}
	j.worker.dispatcher.events.Publish(events.Event{
		QueueID: j.Queue.ID,
		TS:      time.Now(),
		Kind:    kind,
		Message: messageID,
	})
}

// jobInstance is one execution context for one message: spec.md §4.2's
// per-attempt state machine (new → running → (retrying → running)* →
// succeeded|failed-terminal).
type jobInstance struct {
	id    string
	job   *Job
	tried int
}

func newJobInstance(job *Job) *jobInstance {
	return &jobInstance{id: uuid.NewString(), job: job}
}

// Try executes one attempt. The message has already been dequeued from the
// Job's backlog by pump before this instance was created; retries reuse the
// same instance and env.
func (ji *jobInstance) Try(env MessageEnvelope) {
	ji.tried++
	ji.job.publish(events.KindJobDispatched, env.ID)

	handle := Handle{
		JobID:      ji.id,
		JobName:    ji.job.Name,
		WorkerName: ji.job.worker.Name,
		QueueName:  ji.job.Queue.Name,
		HandleAt:   nowMillis(),
		Tried:      ji.tried,
		Message:    env.Message.Clone(),
		Value:      env.Value,
	}

	err := ji.run(handle)
	if err == nil {
		ji.job.logger.Debugf("message %s succeeded on attempt %d", env.ID, ji.tried)
		ji.job.publish(events.KindJobSucceeded, env.ID)
		ji.job.downInstance(ji.id)
		ji.job.Queue.Done(env.ID)
		return
	}

	ji.job.logger.Warnf("message %s failed on attempt %d: %v", env.ID, ji.tried, err)
	ji.job.publish(events.KindJobFailed, env.ID)
	ji.job.Queue.Fail(env.ID)

	if ji.tried < ji.job.Options.Retry+1 {
		time.AfterFunc(ji.job.Options.RetryAfter, func() {
			ji.Try(env)
		})
		return
	}
	ji.job.downInstance(ji.id)
}

// run dispatches to the in-process or out-of-process execution path and
// races the result against Options.Timeout.
func (ji *jobInstance) run(h Handle) error {
	ctx, cancel := context.WithTimeout(context.Background(), ji.job.Options.Timeout)
	defer cancel()

	result := make(chan error, 1)
	if ji.job.Callback.isExternal() {
		go func() {
			result <- ji.job.runtime.Run(ctx, ji.job.Callback.path, h)
		}()
	} else {
		go func() {
			result <- safeInvoke(ji.job.Callback.fn, h)
		}()
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ErrTimeout
	}
}

// safeInvoke recovers from a panicking callback and turns it into an error,
// so one broken job cannot take down the process.
func safeInvoke(fn JobFunc, h Handle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panicked: %v", r)
		}
	}()
	return fn(h)
}
