package bbq

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/knmbbq/bbq/internal/cronmatch"
	"github.com/knmbbq/bbq/internal/events"
)

// scheduleTickInterval is the cron-match polling period (spec.md §4.4).
const scheduleTickInterval = 60 * time.Second

// ScheduleJob is the time-triggered variant of Job: no queue, a cron pattern
// instead of a message stream, and a constant sample payload cloned into a
// synthetic message on every fire (spec.md §4.3).
type ScheduleJob struct {
	Name       string
	Pattern    cronmatch.Pattern
	SampleData any
	Callback   Callback
	Options    ScheduleJobOptions

	worker  *Worker
	runtime Runtime
	logger  Logger

	mu        sync.Mutex
	instances map[string]*scheduleJobInstance
	stop      chan struct{}
}

func newScheduleJob(name string, pattern cronmatch.Pattern, sampleData any, callback Callback, opts ScheduleJobOptions, worker *Worker, runtime Runtime, logger Logger) *ScheduleJob {
	opts = opts.withDefaults()
	if !opts.Log {
		logger = NopLogger{}
	}
	return &ScheduleJob{
		Name:       name,
		Pattern:    pattern,
		SampleData: sampleData,
		Callback:   callback,
		Options:    opts,
		worker:     worker,
		runtime:    runtime,
		logger:     withComponent(logger, "scheduleJob:"+name),
		instances:  make(map[string]*scheduleJobInstance),
		stop:       make(chan struct{}),
	}
}

// start runs the one-minute tick loop until Stop is called.
func (sj *ScheduleJob) start() {
	ticker := time.NewTicker(scheduleTickInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-sj.stop:
				return
			case <-ticker.C:
				if cronmatch.IsTimeToRun(sj.Pattern, sj.Options.Timezone) {
					sj.fire()
				}
			}
		}
	}()
}

// Stop halts the tick loop. In-flight instances are not interrupted.
func (sj *ScheduleJob) Stop() {
	close(sj.stop)
}

func (sj *ScheduleJob) fire() {
	sj.mu.Lock()
	if len(sj.instances) >= sj.Options.Concurrency {
		sj.mu.Unlock()
		sj.logger.Warnf("tick fired while at concurrency limit, skipping")
		return
	}
	inst := newScheduleJobInstance(sj)
	sj.instances[inst.id] = inst
	sj.mu.Unlock()

	go inst.Try()
}

func (sj *ScheduleJob) downInstance(instanceID string) {
	sj.mu.Lock()
	delete(sj.instances, instanceID)
	sj.mu.Unlock()
}

// publish emits a job lifecycle event through the owning Dispatcher's hub, if
// any. ScheduleJob has no queue, so events carry an empty QueueID and are
// only visible to wildcard subscribers.
func (sj *ScheduleJob) publish(kind events.Kind, tickID string) {
	if sj.worker == nil || sj.worker.dispatcher == nil || sj.worker.dispatcher.events == nil {
		return
	}
	sj.worker.dispatcher.events.Publish(events.Event{
		TS:      time.Now(),
		Kind:    kind,
		Message: tickID,
	})
}

// scheduleJobInstance is one execution context for one tick, mirroring
// jobInstance's attempt/retry/timeout machinery but with a synthetic message.
type scheduleJobInstance struct {
	id    string
	sj    *ScheduleJob
	tried int
}

func newScheduleJobInstance(sj *ScheduleJob) *scheduleJobInstance {
	return &scheduleJobInstance{id: uuid.NewString(), sj: sj}
}

func (si *scheduleJobInstance) Try() {
	si.tried++
	si.sj.publish(events.KindJobDispatched, si.id)

	msgID := uuid.NewString()
	kind, _ := detectMessageType(si.sj.SampleData)
	msg := Message{ID: msgID, CreatedAt: nowMillis(), Type: kind}

	handle := Handle{
		JobID:      si.id,
		JobName:    si.sj.Name,
		WorkerName: si.sj.worker.Name,
		HandleAt:   nowMillis(),
		Tried:      si.tried,
		Message:    msg,
		Value:      cloneValue(si.sj.SampleData),
	}

	err := si.run(handle)
	if err == nil {
		si.sj.logger.Debugf("tick %s succeeded on attempt %d", si.id, si.tried)
		si.sj.publish(events.KindJobSucceeded, si.id)
		si.sj.downInstance(si.id)
		return
	}

	si.sj.logger.Warnf("tick %s failed on attempt %d: %v", si.id, si.tried, err)
	si.sj.publish(events.KindJobFailed, si.id)
	if si.tried < si.sj.Options.Retry+1 {
		time.AfterFunc(si.sj.Options.RetryAfter, si.Try)
		return
	}
	si.sj.downInstance(si.id)
}

func (si *scheduleJobInstance) run(h Handle) error {
	ctx, cancel := context.WithTimeout(context.Background(), si.sj.Options.Timeout)
	defer cancel()

	result := make(chan error, 1)
	if si.sj.Callback.isExternal() {
		go func() {
			result <- si.sj.runtime.Run(ctx, si.sj.Callback.path, h)
		}()
	} else {
		go func() {
			result <- safeInvoke(si.sj.Callback.fn, h)
		}()
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ErrTimeout
	}
}

// cloneValue returns a deep copy of structured sample data by round
// tripping through JSON when possible, so concurrent ticks never share a
// mutable map/slice; scalars are returned as-is.
func cloneValue(value any) any {
	switch value.(type) {
	case string, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, bool, nil:
		return value
	default:
		kind, err := detectMessageType(value)
		if err != nil {
			return value
		}
		serialized, err := serializeValue(value, kind)
		if err != nil {
			return value
		}
		decoded, err := decodeValue(serialized, kind)
		if err != nil {
			return value
		}
		return decoded
	}
}
