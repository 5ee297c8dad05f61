package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	queueKey      = "inkwell:jobs"
	processingKey = "inkwell:jobs:processing"
)

// RedisQueue pushes tasks onto a Redis list and pops them with
// blocking reads, so multiple API instances can share one worker pool.
// A worker claims a task by moving it onto a processing list and
// removes it only after the handler returns, so a crash mid-task means
// redelivery on the next start rather than a lost task.
type RedisQueue struct {
	client *redis.Client
	mux    *Mux
	wg     sync.WaitGroup
}

func NewRedisQueue(client *redis.Client, mux *Mux) *RedisQueue {
	return &RedisQueue{client: client, mux: mux}
}

func (q *RedisQueue) Enqueue(ctx context.Context, taskType string, payload any) error {
	task, err := encodeTask(taskType, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := q.client.LPush(ctx, queueKey, data).Err(); err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// Start requeues tasks stranded on the processing list by a previous
// run, then launches workers that pop tasks until ctx is canceled.
func (q *RedisQueue) Start(ctx context.Context, workers int) {
	q.requeueOrphans(ctx)
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.worker(ctx)
		}()
	}
}

// requeueOrphans moves claimed-but-unfinished tasks back onto the
// queue. Handlers claim their entity with a conditional status update,
// so a redelivered task that already ran is a no-op.
func (q *RedisQueue) requeueOrphans(ctx context.Context) {
	for {
		_, err := q.client.LMove(ctx, processingKey, queueKey, "RIGHT", "RIGHT").Result()
		if errors.Is(err, redis.Nil) {
			return
		}
		if err != nil {
			log.Printf("jobs: requeue orphaned task: %v", err)
			return
		}
	}
}

func (q *RedisQueue) worker(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		value, err := q.client.BLMove(ctx, queueKey, processingKey, "RIGHT", "LEFT", 2*time.Second).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("jobs: pop failed: %v", err)
			time.Sleep(time.Second)
			continue
		}

		var task Task
		if err := json.Unmarshal([]byte(value), &task); err != nil {
			log.Printf("jobs: malformed task: %v", err)
			q.finish(ctx, value)
			continue
		}
		q.mux.dispatch(ctx, task)
		q.finish(ctx, value)
	}
}

func (q *RedisQueue) finish(ctx context.Context, value string) {
	if err := q.client.LRem(ctx, processingKey, 1, value).Err(); err != nil && ctx.Err() == nil {
		log.Printf("jobs: remove finished task: %v", err)
	}
}

// Wait blocks until all workers have exited.
func (q *RedisQueue) Wait() {
	q.wg.Wait()
}
