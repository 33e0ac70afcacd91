package bbq

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/knmbbq/bbq/internal/cryptoutil"
	"github.com/knmbbq/bbq/internal/events"
	"github.com/knmbbq/bbq/internal/fsutil"
)

// broadcaster is the Dispatcher-side of a Queue's non-owning back-reference.
// A Queue never mutates its dispatcher; it only signals it. Modeled as an
// interface (rather than a direct *Dispatcher field) so Queue can be tested
// in isolation, grounded on Tushkiz-go-tiny-queue/internal/events's
// publish/subscribe split between producer and hub.
type broadcaster interface {
	Listen(queueID string, env MessageEnvelope)
}

// queueMeta is the on-disk shape of a queue's metadata snapshot
// (<queue dir>/metaq.json), matching spec.md §6 exactly.
type queueMeta struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Size      int       `json:"size"`
	Expire    int64     `json:"expire"` // seconds; 0 disables
	Limit     int       `json:"limit"`
	Secret    bool      `json:"secret"`
	CreatedAt int64     `json:"createdAt"`
	Pipeline  []Message `json:"pipeline"`
	Fails     []Message `json:"fails"`
}

// Queue is a durable, named mailbox: a pipeline of live messages and a list
// of failed messages, persisted under its own directory and encrypted at
// rest when a secret key is configured. Grounded on
// Tushkiz-go-tiny-queue/internal/queue/store.go's Enqueue/FetchAndLease
// shape, transposed from a MySQL table onto flat files per spec.md §6.
type Queue struct {
	ID        string
	Name      string
	Path      string
	CreatedAt int64
	Options   QueueOptions

	dispatcher broadcaster
	logger     Logger
	metrics    *Metrics
	events     *events.Hub

	mu       sync.Mutex
	pipeline []Message
	fails    []Message
	timers   map[string]*time.Timer

	metaMu       sync.Mutex
	metaTimer    *time.Timer
	rebroadcasts map[string]int
}

// NewQueue constructs a Queue. It does not touch disk; call Setup for that.
func NewQueue(name string, opts QueueOptions, dispatcher broadcaster, logger Logger) *Queue {
	if logger == nil {
		logger = NopLogger{}
	}
	return &Queue{
		ID:           uuid.NewString(),
		Name:         name,
		Options:      opts.withDefaults(),
		CreatedAt:    nowMillis(),
		dispatcher:   dispatcher,
		logger:       withComponent(logger, "queue:"+name),
		timers:       make(map[string]*time.Timer),
		rebroadcasts: make(map[string]int),
	}
}

// AddMessage validates and persists value, then broadcasts and snapshots
// asynchronously. See spec.md §4.1.
func (q *Queue) AddMessage(value any) (Message, error) {
	kind, err := detectMessageType(value)
	if err != nil {
		return Message{}, err
	}
	serialized, err := serializeValue(value, kind)
	if err != nil {
		return Message{}, err
	}
	size := len([]byte(serialized))
	if size > q.Options.Size {
		return Message{}, ErrMessageTooLarge
	}

	id := uuid.NewString()
	msg := Message{
		ID:        id,
		Size:      size,
		Path:      fsutil.MessagePath(id),
		CreatedAt: nowMillis(),
		Type:      kind,
	}

	// Reserve msg's slot in the pipeline under the same critical section that
	// checks Limit, so two concurrent callers can never both pass the check
	// against the same pre-insert length. The reservation is rolled back if
	// the payload write below fails.
	q.mu.Lock()
	if q.Options.Limit > 0 && len(q.pipeline)+1 > q.Options.Limit {
		q.mu.Unlock()
		return Message{}, ErrQueueFull
	}
	q.pipeline = insertSorted(q.pipeline, msg)
	q.mu.Unlock()

	payload := serialized
	if q.Options.SecretKey != "" {
		payload, err = q.encrypt(serialized)
		if err != nil {
			q.unreserve(msg.ID)
			return Message{}, fmt.Errorf("bbq: encrypt payload: %w", err)
		}
	}
	if err := q.writePayload(msg.Path, payload); err != nil {
		q.unreserve(msg.ID)
		return Message{}, fmt.Errorf("%w: %v", ErrIO, err)
	}

	q.mu.Lock()
	if q.Options.Expire > 0 {
		q.armExpiration(msg.ID, q.Options.Expire)
	}
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.incAdded()
	}
	q.logger.Debugf("added message %s (%d bytes)", msg.ID, msg.Size)
	q.publish(events.KindMessageAdded, msg.ID)

	go q.broadcast(msg, value)
	q.scheduleMetaSnapshot()

	return msg, nil
}

// Fail moves messageID from pipeline to fails, incrementing failedCount. If
// already in fails, returns the existing record unchanged. Returns
// (Message{}, false) if the id is unknown to either list.
func (q *Queue) Fail(messageID string) (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, m := range q.fails {
		if m.ID == messageID {
			return m, true
		}
	}

	idx := indexOf(q.pipeline, messageID)
	if idx < 0 {
		return Message{}, false
	}
	msg := q.pipeline[idx]
	q.pipeline = append(q.pipeline[:idx], q.pipeline[idx+1:]...)

	now := nowMillis()
	msg.FailedAt = &now
	msg.FailedCount++
	q.fails = insertSorted(q.fails, msg)

	if q.metrics != nil {
		q.metrics.incFailed()
	}
	q.publish(events.KindMessageFailed, msg.ID)
	q.scheduleMetaSnapshotLocked()
	return msg, true
}

// GetFail removes messageID from fails and returns its decrypted envelope.
// The caller takes over responsibility for the message (typically
// re-enqueueing or discarding it); the payload file is left untouched.
func (q *Queue) GetFail(messageID string) (MessageEnvelope, bool, error) {
	q.mu.Lock()
	idx := indexOf(q.fails, messageID)
	if idx < 0 {
		q.mu.Unlock()
		return MessageEnvelope{}, false, nil
	}
	msg := q.fails[idx]
	q.fails = append(q.fails[:idx], q.fails[idx+1:]...)
	q.scheduleMetaSnapshotLocked()
	q.mu.Unlock()

	value, err := q.readAndDecode(msg)
	if err != nil {
		return MessageEnvelope{}, true, err
	}
	return MessageEnvelope{Message: msg, QueueID: q.ID, Value: value}, true, nil
}

// Done schedules deletion of messageID one second from now. Idempotent and a
// no-op if messageID is empty.
func (q *Queue) Done(messageID string) {
	if messageID == "" {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.armDeletionLocked(messageID, time.Second)
}

// ReBroadcast re-emits every message currently in pipeline (and, if
// withFails, in fails) as a fresh broadcast envelope, reading and decrypting
// each from disk.
func (q *Queue) ReBroadcast(withFails bool) {
	q.mu.Lock()
	msgs := make([]Message, len(q.pipeline))
	copy(msgs, q.pipeline)
	if withFails {
		msgs = append(msgs, q.fails...)
		sort.Slice(msgs, func(i, j int) bool { return msgs[i].CreatedAt < msgs[j].CreatedAt })
	}
	q.mu.Unlock()

	for _, msg := range msgs {
		value, err := q.readAndDecode(msg)
		if err != nil {
			q.logger.Errorf("rebroadcast %s: %v", msg.ID, err)
			continue
		}
		q.dispatcher.Listen(q.ID, MessageEnvelope{Message: msg, QueueID: q.ID, Value: value})
	}
}

// Setup ensures the queue directory exists, restores state from an existing
// metadata snapshot (reading before writing, per spec.md §12), re-arms
// expiration timers relative to now, writes a fresh snapshot, and then
// re-broadcasts, in createdAt order, the pipeline and fails messages it
// restored so in-flight work resumes.
func (q *Queue) Setup() error {
	if err := fsutil.EnsureDir(q.msgsDir()); err != nil {
		return err
	}

	existing, err := q.readMeta()
	if err != nil {
		return err
	}

	if existing != nil {
		q.mu.Lock()
		q.pipeline = existing.Pipeline
		q.fails = existing.Fails
		now := nowMillis()
		for _, m := range q.pipeline {
			if q.Options.Expire <= 0 {
				continue
			}
			elapsed := now - m.CreatedAt
			remaining := q.Options.Expire.Milliseconds() - elapsed
			if remaining < 1 {
				remaining = 1
			}
			q.armExpiration(m.ID, time.Duration(remaining)*time.Millisecond)
		}
		q.mu.Unlock()
	}

	if err := q.writeMetaSnapshot(); err != nil {
		return err
	}

	// Take the set to resume now, so a message added after Setup returns is
	// delivered only by its own AddMessage broadcast, never a second time here.
	q.mu.Lock()
	restored := append(append([]Message(nil), q.pipeline...), q.fails...)
	q.mu.Unlock()
	sort.Slice(restored, func(i, j int) bool { return restored[i].CreatedAt < restored[j].CreatedAt })
	go func() {
		for _, msg := range restored {
			value, err := q.readAndDecode(msg)
			if err != nil {
				q.logger.Errorf("rebroadcast %s: %v", msg.ID, err)
				continue
			}
			q.dispatcher.Listen(q.ID, MessageEnvelope{Message: msg, QueueID: q.ID, Value: value})
		}
	}()
	return nil
}

// Pipeline returns a snapshot copy of the live message list.
func (q *Queue) Pipeline() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Message, len(q.pipeline))
	copy(out, q.pipeline)
	return out
}

// Fails returns a snapshot copy of the failed message list.
func (q *Queue) Fails() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Message, len(q.fails))
	copy(out, q.fails)
	return out
}

// unreserve removes a pipeline slot reserved by AddMessage after the payload
// failed to encrypt or write, so a failed AddMessage never counts against
// Limit.
func (q *Queue) unreserve(messageID string) {
	q.mu.Lock()
	if idx := indexOf(q.pipeline, messageID); idx >= 0 {
		q.pipeline = append(q.pipeline[:idx], q.pipeline[idx+1:]...)
	}
	q.mu.Unlock()
}

func (q *Queue) broadcast(msg Message, value any) {
	if q.dispatcher == nil {
		return
	}
	q.dispatcher.Listen(q.ID, MessageEnvelope{Message: msg, QueueID: q.ID, Value: value})
}

// rebroadcastLater is invoked by a Worker/Dispatcher under back-pressure: the
// message is re-emitted after rebroadcastTime, bounded by MaxRebroadcasts
// when configured (spec.md §12).
func (q *Queue) rebroadcastLater(msg Message, value any) {
	if q.Options.MaxRebroadcasts > 0 {
		q.metaMu.Lock()
		count := q.rebroadcasts[msg.ID]
		if count >= q.Options.MaxRebroadcasts {
			q.metaMu.Unlock()
			q.logger.Warnf("message %s exceeded max rebroadcasts, force-failing", msg.ID)
			q.Fail(msg.ID)
			return
		}
		q.rebroadcasts[msg.ID] = count + 1
		q.metaMu.Unlock()
	}

	time.AfterFunc(q.Options.RebroadcastTime, func() {
		if q.metrics != nil {
			q.metrics.incRebroadcast()
		}
		q.broadcast(msg, value)
	})
}

func (q *Queue) armExpiration(messageID string, after time.Duration) {
	if t, ok := q.timers[messageID]; ok {
		t.Stop()
	}
	q.timers[messageID] = time.AfterFunc(after, func() {
		q.expire(messageID)
	})
}

func (q *Queue) armDeletionLocked(messageID string, after time.Duration) {
	if t, ok := q.timers[messageID]; ok {
		t.Stop()
	}
	q.timers[messageID] = time.AfterFunc(after, func() {
		q.remove(messageID, true)
	})
}

func (q *Queue) expire(messageID string) {
	if q.metrics != nil {
		q.metrics.incExpired()
	}
	q.remove(messageID, false)
}

// remove deletes messageID from whichever list holds it, removes its
// payload file, and snapshots metadata. done distinguishes a Done-triggered
// removal from an expiration/operator removal only for logging.
func (q *Queue) remove(messageID string, done bool) {
	q.mu.Lock()
	delete(q.timers, messageID)

	var msg Message
	var found bool
	if idx := indexOf(q.pipeline, messageID); idx >= 0 {
		msg = q.pipeline[idx]
		q.pipeline = append(q.pipeline[:idx], q.pipeline[idx+1:]...)
		found = true
	} else if idx := indexOf(q.fails, messageID); idx >= 0 {
		msg = q.fails[idx]
		q.fails = append(q.fails[:idx], q.fails[idx+1:]...)
		found = true
	}
	q.scheduleMetaSnapshotLocked()
	q.mu.Unlock()

	if !found {
		return
	}
	if err := fsutil.RemoveFile(q.absolutePath(msg.Path)); err != nil {
		q.logger.Errorf("remove payload for %s: %v", messageID, err)
	}
	if done {
		if q.metrics != nil {
			q.metrics.incDone()
		}
		q.publish(events.KindMessageDone, messageID)
	}
}

// publish emits a lifecycle event if this Queue has an event hub attached.
func (q *Queue) publish(kind events.Kind, messageID string) {
	if q.events == nil {
		return
	}
	q.events.Publish(events.Event{
		QueueID: q.ID,
		TS:      time.Now(),
		Kind:    kind,
		Message: messageID,
	})
}

func (q *Queue) readAndDecode(msg Message) (any, error) {
	raw, err := fsutil.ReadFile(q.absolutePath(msg.Path))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	serialized := string(raw)
	if q.Options.SecretKey != "" {
		serialized, err = q.decrypt(serialized)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
		}
	}
	return decodeValue(serialized, msg.Type)
}

func (q *Queue) writePayload(relPath, content string) error {
	return fsutil.WriteFileAtomic(q.absolutePath(relPath), []byte(content), 0o644)
}

func (q *Queue) absolutePath(relPath string) string {
	return q.Path + string('/') + relPath
}

func (q *Queue) msgsDir() string {
	return q.absolutePath("msgs")
}

func (q *Queue) encrypt(plaintext string) (string, error) {
	if q.Options.CipherMode == CipherAESGCM {
		return cryptoutil.EncryptGCM(q.Options.SecretKey, plaintext)
	}
	return cryptoutil.EncryptECB(q.Options.SecretKey, plaintext)
}

func (q *Queue) decrypt(ciphertext string) (string, error) {
	if q.Options.CipherMode == CipherAESGCM {
		return cryptoutil.DecryptGCM(q.Options.SecretKey, ciphertext)
	}
	return cryptoutil.DecryptECB(q.Options.SecretKey, ciphertext)
}

// scheduleMetaSnapshot debounces metadata writes by UpdateMetaTime: each call
// cancels the previously pending writer and reschedules (spec.md §4.1).
func (q *Queue) scheduleMetaSnapshot() {
	q.metaMu.Lock()
	defer q.metaMu.Unlock()
	q.scheduleMetaSnapshotUnlocked()
}

func (q *Queue) scheduleMetaSnapshotLocked() {
	// Called with q.mu held; metaMu guards a disjoint field so this is safe.
	q.metaMu.Lock()
	defer q.metaMu.Unlock()
	q.scheduleMetaSnapshotUnlocked()
}

func (q *Queue) scheduleMetaSnapshotUnlocked() {
	if q.metaTimer != nil {
		q.metaTimer.Stop()
	}
	q.metaTimer = time.AfterFunc(q.Options.UpdateMetaTime, func() {
		if err := q.writeMetaSnapshot(); err != nil {
			q.logger.Errorf("write meta snapshot: %v", err)
		}
	})
}

func (q *Queue) writeMetaSnapshot() error {
	q.mu.Lock()
	meta := queueMeta{
		ID:        q.ID,
		Name:      q.Name,
		Path:      q.Path,
		Size:      q.Options.Size,
		Expire:    int64(q.Options.Expire.Seconds()),
		Limit:     q.Options.Limit,
		Secret:    q.Options.SecretKey != "",
		CreatedAt: q.CreatedAt,
		Pipeline:  append([]Message(nil), q.pipeline...),
		Fails:     append([]Message(nil), q.fails...),
	}
	q.mu.Unlock()

	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("bbq: marshal queue meta: %w", err)
	}
	return fsutil.WriteFileAtomic(q.absolutePath(fsutil.MetaFileName), b, 0o644)
}

func (q *Queue) readMeta() (*queueMeta, error) {
	if !fsutil.Exists(q.absolutePath(fsutil.MetaFileName)) {
		return nil, nil
	}
	raw, err := fsutil.ReadFile(q.absolutePath(fsutil.MetaFileName))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	var meta queueMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("bbq: unmarshal queue meta: %w", err)
	}
	return &meta, nil
}

func insertSorted(list []Message, msg Message) []Message {
	i := sort.Search(len(list), func(i int) bool { return list[i].CreatedAt > msg.CreatedAt })
	list = append(list, Message{})
	copy(list[i+1:], list[i:])
	list[i] = msg
	return list
}

func indexOf(list []Message, id string) int {
	for i, m := range list {
		if m.ID == id {
			return i
		}
	}
	return -1
}
