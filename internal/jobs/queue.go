// Package jobs runs background work for source indexing and comment
// generation. Delivery is at-least-once: handlers record their outcome
// on the entity they process, so a redelivered task is a no-op.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
)

// Task is one unit of background work.
type Task struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Handler processes one task payload.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Queue accepts tasks for asynchronous processing.
type Queue interface {
	Enqueue(ctx context.Context, taskType string, payload any) error
}

// Mux routes tasks to their registered handlers.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewMux() *Mux {
	return &Mux{handlers: make(map[string]Handler)}
}

func (m *Mux) Handle(taskType string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[taskType] = h
}

func (m *Mux) dispatch(ctx context.Context, task Task) {
	m.mu.RLock()
	h, ok := m.handlers[task.Type]
	m.mu.RUnlock()
	if !ok {
		log.Printf("jobs: no handler for task type %q", task.Type)
		return
	}
	if err := h(ctx, task.Payload); err != nil {
		log.Printf("jobs: task %s failed: %v", task.Type, err)
	}
}

func encodeTask(taskType string, payload any) (Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("marshal task payload: %w", err)
	}
	return Task{Type: taskType, Payload: data}, nil
}

// MemoryQueue runs tasks on in-process workers. Used in tests and when
// Redis is not configured.
type MemoryQueue struct {
	mux   *Mux
	tasks chan Task
	wg    sync.WaitGroup
}

func NewMemoryQueue(mux *Mux) *MemoryQueue {
	return &MemoryQueue{
		mux:   mux,
		tasks: make(chan Task, 256),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, taskType string, payload any) error {
	task, err := encodeTask(taskType, payload)
	if err != nil {
		return err
	}
	select {
	case q.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches workers that run until ctx is canceled.
func (q *MemoryQueue) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case task := <-q.tasks:
					q.mux.dispatch(ctx, task)
				}
			}
		}()
	}
}

// Wait blocks until all workers have exited.
func (q *MemoryQueue) Wait() {
	q.wg.Wait()
}
