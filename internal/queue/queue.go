package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// QueueName is the Redis list the API pushes verification tasks onto and
// workers pop from.
const QueueName = "verification_tasks"

// Task is one unit of work for a process-isolated worker.
type Task struct {
	JobID  string `json:"job_id"`
	Email  string `json:"email"`
	Method string `json:"method"`
}

// Queue is a Redis-backed task queue.
type Queue struct {
	client *redis.Client
}

// Connect dials Redis and pings it to ensure it's alive.
func Connect(addr string) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    "", // No password for local docker
		DB:          0,  // Default DB
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Queue{client: client}, nil
}

// Push appends a task to the queue.
func (q *Queue) Push(ctx context.Context, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := q.client.RPush(ctx, QueueName, data).Err(); err != nil {
		return fmt.Errorf("push task: %w", err)
	}
	return nil
}

// Pop blocks until a task is available.
func (q *Queue) Pop(ctx context.Context) (Task, error) {
	// BLPOP returns [queue_name, value].
	result, err := q.client.BLPop(ctx, 0*time.Second, QueueName).Result()
	if err != nil {
		return Task{}, err
	}
	var task Task
	if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
		return Task{}, fmt.Errorf("malformed task %q: %w", result[1], err)
	}
	return task, nil
}

// Len reports the number of queued tasks.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, QueueName).Result()
}

// Close releases the underlying connection pool.
func (q *Queue) Close() error {
	return q.client.Close()
}
