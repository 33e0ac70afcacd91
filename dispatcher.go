package bbq

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/knmbbq/bbq/internal/events"
	"github.com/knmbbq/bbq/internal/fsutil"
)

// dispatcherMeta is the on-disk shape of the root metadata snapshot
// (<root>/metabbq.json), matching spec.md §6 exactly.
type dispatcherMeta struct {
	Queues    []dispatcherMetaQueue `json:"queues"`
	CreatedAt int64                 `json:"createdAt"`
	Path      string                `json:"path"`
	Secret    bool                  `json:"secret"`
	Log       bool                  `json:"log"`
}

type dispatcherMetaQueue struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Path    string       `json:"path"`
	Options QueueOptions `json:"options"`
}

// Dispatcher is the top-level registry of Queues and Workers: it routes a
// Queue's broadcast to the first eligible Worker in priority order
// (spec.md §4.5).
type Dispatcher struct {
	Options   DispatcherOptions
	CreatedAt int64
	logger    Logger
	rawLogger Logger // opts.Logger, ungated by opts.Log; handed to Workers/Jobs so their own Log flags can gate independently
	metrics   *Metrics
	runtime   Runtime
	events    *events.Hub

	mu           sync.Mutex
	queuesByID   map[string]*Queue
	queuesByName map[string]*Queue
	workers      []*Worker
}

// NewDispatcher constructs a Dispatcher. Call Setup before use.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	opts = opts.withDefaults()
	logger := opts.Logger
	if !opts.Log {
		logger = NopLogger{}
	}
	return &Dispatcher{
		Options:      opts,
		CreatedAt:    nowMillis(),
		logger:       withComponent(logger, "dispatcher"),
		rawLogger:    opts.Logger,
		metrics:      &Metrics{},
		runtime:      NewExecRuntime(),
		events:       events.NewHub(32),
		queuesByID:   make(map[string]*Queue),
		queuesByName: make(map[string]*Queue),
	}
}

// Metrics returns the Dispatcher's activity counters.
func (d *Dispatcher) Metrics() *Metrics { return d.metrics }

// Events returns the Dispatcher's lifecycle event hub. Subscribers receive
// message and job lifecycle events for observability; this is a
// library-level pub/sub mechanism, not a network surface.
func (d *Dispatcher) Events() *events.Hub { return d.events }

// SetRuntime overrides the Runtime used for out-of-process callbacks across
// every Worker this Dispatcher creates afterward. Defaults to ExecRuntime.
func (d *Dispatcher) SetRuntime(r Runtime) { d.runtime = r }

// Setup ensures the root directory exists, restores any previously
// registered queues from the root metadata file (read-then-write, per
// spec.md §12), and writes a fresh snapshot.
func (d *Dispatcher) Setup() error {
	if err := fsutil.EnsureDir(d.Options.Path); err != nil {
		return err
	}

	existing, err := d.readMeta()
	if err != nil {
		return err
	}

	if existing != nil {
		for _, qm := range existing.Queues {
			if err := d.applyQueue(qm); err != nil {
				return err
			}
		}
	}

	return d.writeMetaSnapshot()
}

// applyQueue restores a persisted queue descriptor, re-using its id and
// path, and runs its Setup.
func (d *Dispatcher) applyQueue(qm dispatcherMetaQueue) error {
	q := NewQueue(qm.Name, qm.Options, d, d.logger)
	q.ID = qm.ID
	q.Path = qm.Path
	q.metrics = d.metrics
	q.events = d.events

	if err := q.Setup(); err != nil {
		return fmt.Errorf("bbq: restore queue %q: %w", qm.Name, err)
	}

	d.mu.Lock()
	d.queuesByID[q.ID] = q
	d.queuesByName[q.Name] = q
	d.mu.Unlock()
	return nil
}

// CreateQueue is idempotent by name: an existing queue named name is
// returned unchanged. Otherwise a new Queue is constructed at
// <root>/<md5(name)>, its Setup is run, and the root metadata is
// resnapshotted.
func (d *Dispatcher) CreateQueue(name string, opts QueueOptions) (*Queue, error) {
	d.mu.Lock()
	if existing, ok := d.queuesByName[name]; ok {
		d.mu.Unlock()
		return existing, nil
	}
	d.mu.Unlock()

	merged := mergeQueueOptions(d.Options.QueueDefaults, opts)
	q := NewQueue(name, merged, d, d.logger)
	q.Path = fsutil.QueueDir(d.Options.Path, name)
	q.metrics = d.metrics
	q.events = d.events

	if err := q.Setup(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.queuesByID[q.ID] = q
	d.queuesByName[q.Name] = q
	d.mu.Unlock()

	if err := d.writeMetaSnapshot(); err != nil {
		d.logger.Errorf("write dispatcher meta: %v", err)
	}
	return q, nil
}

// GetQueue looks up a Queue by name.
func (d *Dispatcher) GetQueue(name string) (*Queue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.queuesByName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrQueueNotFound, name)
	}
	return q, nil
}

// GetQueueByID looks up a Queue by id.
func (d *Dispatcher) GetQueueByID(id string) (*Queue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.queuesByID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrQueueNotFound, id)
	}
	return q, nil
}

// DeleteQueue removes a Queue's on-disk directory, unregisters it, and
// resnapshots the root metadata.
func (d *Dispatcher) DeleteQueue(name string) error {
	d.mu.Lock()
	q, ok := d.queuesByName[name]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrQueueNotFound, name)
	}
	delete(d.queuesByName, name)
	delete(d.queuesByID, q.ID)
	d.mu.Unlock()

	if err := fsutil.RemoveDir(q.Path); err != nil {
		return err
	}
	return d.writeMetaSnapshot()
}

// CreateWorker registers a new Worker. name must be unique across Workers.
func (d *Dispatcher) CreateWorker(name string, opts WorkerOptions) (*Worker, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, w := range d.workers {
		if w.Name == name {
			return nil, fmt.Errorf("%w: worker %q", ErrNameDuplicate, name)
		}
	}

	w := newWorker(name, opts, d, d.runtime, d.rawLogger)
	d.workers = append(d.workers, w)
	sortWorkersByPriority(d.workers)
	return w, nil
}

// Listen implements broadcaster: it iterates Workers in descending priority
// order and hands env to the first Worker whose ExistObserverQueue(queueID)
// is true. If none matches, the message is rebroadcast after
// RebroadcastTime.
func (d *Dispatcher) Listen(queueID string, env MessageEnvelope) {
	d.mu.Lock()
	workers := make([]*Worker, len(d.workers))
	copy(workers, d.workers)
	q := d.queuesByID[queueID]
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.incDispatched()
	}

	for _, w := range workers {
		if w.ExistObserverQueue(queueID) {
			w.Run(q, env)
			return
		}
	}

	if q != nil {
		q.rebroadcastLater(env.Message, env.Value)
	}
}

func (d *Dispatcher) writeMetaSnapshot() error {
	d.mu.Lock()
	queues := make([]dispatcherMetaQueue, 0, len(d.queuesByID))
	for _, q := range d.queuesByID {
		queues = append(queues, dispatcherMetaQueue{ID: q.ID, Name: q.Name, Path: q.Path, Options: q.Options})
	}
	meta := dispatcherMeta{
		Queues:    queues,
		CreatedAt: d.CreatedAt,
		Path:      d.Options.Path,
		Secret:    d.Options.QueueDefaults.SecretKey != "",
		Log:       d.Options.Log,
	}
	d.mu.Unlock()

	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("bbq: marshal dispatcher meta: %w", err)
	}
	return fsutil.WriteFileAtomic(filepath.Join(d.Options.Path, fsutil.DispatcherMetaFileName), b, 0o644)
}

func (d *Dispatcher) readMeta() (*dispatcherMeta, error) {
	path := filepath.Join(d.Options.Path, fsutil.DispatcherMetaFileName)
	if !fsutil.Exists(path) {
		return nil, nil
	}
	raw, err := fsutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	var meta dispatcherMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("bbq: unmarshal dispatcher meta: %w", err)
	}
	return &meta, nil
}

func mergeQueueOptions(defaults, override QueueOptions) QueueOptions {
	merged := defaults
	zero := QueueOptions{}
	if override.Size != zero.Size {
		merged.Size = override.Size
	}
	if override.Expire != zero.Expire {
		merged.Expire = override.Expire
	}
	if override.Limit != zero.Limit {
		merged.Limit = override.Limit
	}
	if override.UpdateMetaTime != zero.UpdateMetaTime {
		merged.UpdateMetaTime = override.UpdateMetaTime
	}
	if override.RebroadcastTime != zero.RebroadcastTime {
		merged.RebroadcastTime = override.RebroadcastTime
	}
	if override.SecretKey != zero.SecretKey {
		merged.SecretKey = override.SecretKey
	}
	if override.CipherMode != zero.CipherMode {
		merged.CipherMode = override.CipherMode
	}
	if override.MaxRebroadcasts != zero.MaxRebroadcasts {
		merged.MaxRebroadcasts = override.MaxRebroadcasts
	}
	return merged.withDefaults()
}

// defaultRootPath returns "<cwd>/bbq", the default Dispatcher persistence
// root (spec.md §6).
func defaultRootPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return filepath.Join(cwd, "bbq")
}
