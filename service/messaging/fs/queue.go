// Package fs provides a queue persisted through afs, usable against any
// afs-addressable backend. Messages move between stage directories
// (pending, processing, retry, dlq) so an event feed survives process
// restarts.
package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/storage"

	"github.com/flowmesh/flowmesh/internal/clock"
	"github.com/flowmesh/flowmesh/internal/idgen"
	"github.com/flowmesh/flowmesh/service/messaging"
)

const (
	stagePending    = "pending"
	stageProcessing = "processing"
	stageRetry      = "retry"
	stageDone       = "done"
	stageDLQ        = "dlq"
)

// Config holds the filesystem queue configuration.
type Config struct {
	// BaseURL is the root location holding the stage directories.
	BaseURL string
	// MaxRetries bounds redeliveries before a message dead-letters.
	MaxRetries int
}

// DefaultConfig returns a default configuration rooted under /tmp.
func DefaultConfig() Config {
	return Config{BaseURL: "/tmp/flowmesh/queue", MaxRetries: 3}
}

// Queue implements messaging.Queue on stage directories.
type Queue[T any] struct {
	fs     afs.Service
	config Config
	mu     sync.Mutex
}

var _ messaging.Queue[any] = (*Queue[any])(nil)

// NewQueue creates the queue and its stage directories.
func NewQueue[T any](fs afs.Service, config Config) (*Queue[T], error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("fs queue: base URL is required")
	}
	q := &Queue[T]{fs: fs, config: config}
	ctx := context.Background()
	for _, stage := range []string{stagePending, stageProcessing, stageRetry, stageDone, stageDLQ} {
		dir := q.stageDir(stage)
		if exists, _ := fs.Exists(ctx, dir); !exists {
			if err := fs.Create(ctx, dir, file.DefaultDirOsMode, true); err != nil {
				return nil, fmt.Errorf("fs queue: create %s: %w", dir, err)
			}
		}
	}
	return q, nil
}

func (q *Queue[T]) stageDir(stage string) string {
	return path.Join(q.config.BaseURL, stage)
}

func (q *Queue[T]) stagePath(stage, id string) string {
	return path.Join(q.stageDir(stage), id+".json")
}

// envelope is the persisted message form.
type envelope[T any] struct {
	ID        string    `json:"id"`
	Data      T         `json:"data"`
	Error     string    `json:"error,omitempty"`
	Retries   int       `json:"retries"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Publish writes a message into the pending stage.
func (q *Queue[T]) Publish(ctx context.Context, t *T) error {
	now := clock.Now()
	env := &envelope[T]{ID: idgen.New(), Data: *t, CreatedAt: now, UpdatedAt: now}
	return q.write(ctx, q.stagePath(stagePending, env.ID), env)
}

// Consume picks the oldest pending or retry-eligible message and moves it to
// the processing stage. It returns nil when the queue is empty.
func (q *Queue[T]) Consume(ctx context.Context) (messaging.Message[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, stage := range []string{stageRetry, stagePending} {
		env, err := q.takeOldest(ctx, stage)
		if err != nil {
			return nil, err
		}
		if env != nil {
			return &message[T]{envelope: env, queue: q}, nil
		}
	}
	return nil, nil
}

// takeOldest claims the oldest message of a stage, or nil.
func (q *Queue[T]) takeOldest(ctx context.Context, stage string) (*envelope[T], error) {
	objects, err := q.fs.List(ctx, q.stageDir(stage))
	if err != nil {
		return nil, fmt.Errorf("fs queue: list %s: %w", stage, err)
	}
	var oldest storage.Object
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), ".json") {
			continue
		}
		if oldest == nil || object.Name() < oldest.Name() {
			oldest = object
		}
	}
	if oldest == nil {
		return nil, nil
	}
	env, err := q.read(ctx, oldest.URL())
	if err != nil {
		// quarantine an unreadable message
		_ = q.fs.Move(ctx, oldest.URL(), path.Join(q.stageDir(stageDLQ), "invalid-"+oldest.Name()))
		return nil, err
	}
	env.UpdatedAt = clock.Now()
	if err := q.write(ctx, q.stagePath(stageProcessing, env.ID), env); err != nil {
		return nil, err
	}
	if err := q.fs.Delete(ctx, oldest.URL()); err != nil {
		return nil, fmt.Errorf("fs queue: delete %s: %w", oldest.URL(), err)
	}
	return env, nil
}

// settle moves a message out of the processing stage.
func (q *Queue[T]) settle(ctx context.Context, env *envelope[T], stage string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	env.UpdatedAt = clock.Now()
	if err := q.write(ctx, q.stagePath(stage, env.ID), env); err != nil {
		return err
	}
	processing := q.stagePath(stageProcessing, env.ID)
	if exists, _ := q.fs.Exists(ctx, processing); exists {
		return q.fs.Delete(ctx, processing)
	}
	return nil
}

func (q *Queue[T]) write(ctx context.Context, location string, env *envelope[T]) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("fs queue: marshal message %s: %w", env.ID, err)
	}
	return q.fs.Upload(ctx, location, file.DefaultFileOsMode, bytes.NewReader(data))
}

func (q *Queue[T]) read(ctx context.Context, URL string) (*envelope[T], error) {
	data, err := q.fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("fs queue: read %s: %w", URL, err)
	}
	env := &envelope[T]{}
	if err := json.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("fs queue: unmarshal %s: %w", URL, err)
	}
	return env, nil
}

type message[T any] struct {
	envelope *envelope[T]
	queue    *Queue[T]

	mu        sync.Mutex
	processed bool
}

// T returns the payload.
func (m *message[T]) T() *T { return &m.envelope.Data }

// Ack moves the message to the done stage.
func (m *message[T]) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed {
		return fmt.Errorf("message %s already processed", m.envelope.ID)
	}
	m.processed = true
	return m.queue.settle(context.Background(), m.envelope, stageDone)
}

// Nack schedules a redelivery or dead-letters the message once the retry
// budget runs out.
func (m *message[T]) Nack(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed {
		return fmt.Errorf("message %s already processed", m.envelope.ID)
	}
	m.processed = true
	if err != nil {
		m.envelope.Error = err.Error()
	}
	m.envelope.Retries++
	stage := stageRetry
	if m.envelope.Retries > m.queue.config.MaxRetries {
		stage = stageDLQ
	}
	return m.queue.settle(context.Background(), m.envelope, stage)
}
