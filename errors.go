package bbq

import "errors"

// Sentinel errors returned by the public API. Wrap with fmt.Errorf("...: %w", ErrX)
// at call sites that need to attach context; callers should match with errors.Is.
var (
	// ErrQueueFull is returned by Queue.AddMessage when options.Limit > 0 and the
	// pipeline is already at capacity.
	ErrQueueFull = errors.New("bbq: queue is full")

	// ErrMessageUndefined is returned by Queue.AddMessage when value is nil.
	ErrMessageUndefined = errors.New("bbq: message value is undefined")

	// ErrMessageTooLarge is returned by Queue.AddMessage when the serialized
	// payload exceeds options.Size bytes.
	ErrMessageTooLarge = errors.New("bbq: message exceeds configured size limit")

	// ErrQueueNotFound is returned by Dispatcher.GetQueue/GetQueueByID and by
	// Worker.CreateJob when the named queue doesn't exist.
	ErrQueueNotFound = errors.New("bbq: queue not found")

	// ErrNameDuplicate is returned when registering a Job, ScheduleJob, or
	// Worker under a name already in use within its owning scope.
	ErrNameDuplicate = errors.New("bbq: name already registered")

	// ErrCallbackInvalid is returned when an External callback's path does not
	// end in a recognized script extension.
	ErrCallbackInvalid = errors.New("bbq: callback is neither in-process nor a recognized script path")

	// ErrTimeout is the error a Job/ScheduleJob attempt fails with when the
	// configured timeout elapses before the callback returns.
	ErrTimeout = errors.New("bbq: callback timed out")

	// ErrWorkerRuntime is returned when the isolated runtime used for an
	// External callback fails to start or exits abnormally.
	ErrWorkerRuntime = errors.New("bbq: worker runtime error")

	// ErrCrypto is returned by encrypt/decrypt operations on malformed
	// ciphertext or key material.
	ErrCrypto = errors.New("bbq: crypto error")

	// ErrIO wraps filesystem failures encountered while persisting or reading
	// queue state.
	ErrIO = errors.New("bbq: io error")
)
