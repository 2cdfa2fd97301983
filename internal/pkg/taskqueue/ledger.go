package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redisc "github.com/newsdigest/core/internal/pkg/redis"
	"github.com/redis/go-redis/v9"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

func (s TaskStatus) Finished() bool {
	return s == TaskCompleted || s == TaskFailed
}

var ErrTaskNotFound = errors.New("task not found")

// Task is the ledger record of one pool job.
type Task struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	GroupKey  string          `json:"group_key,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Status    TaskStatus      `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

const (
	keyPrefix = "newsdigest:task:"
	keyIndex  = "newsdigest:tasks:index" // sorted set: score=created_at, member=task_id
	taskTTL   = 7 * 24 * time.Hour
)

// Ledger records background job status in Redis so operators can see what
// the pool did after the fact.
type Ledger struct {
	rc  *redisc.Client
	now func() time.Time
}

func NewLedger(rc *redisc.Client) *Ledger {
	return &Ledger{rc: rc, now: time.Now}
}

func (l *Ledger) taskKey(id string) string { return keyPrefix + id }

// Enqueue stores a pending task under id.
func (l *Ledger) Enqueue(ctx context.Context, id, taskType, groupKey string, payload any) (*Task, error) {
	now := l.now()
	task := &Task{
		ID:        id,
		Type:      taskType,
		GroupKey:  groupKey,
		Status:    TaskPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		task.Payload = raw
	}

	data, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}

	pipe := l.rc.Raw().TxPipeline()
	pipe.Set(ctx, l.taskKey(id), data, taskTTL)
	pipe.ZAdd(ctx, keyIndex, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: id,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return task, nil
}

// Get retrieves a task by its ID.
func (l *Ledger) Get(ctx context.Context, id string) (*Task, error) {
	data, err := l.rc.Raw().Get(ctx, l.taskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// UpdateStatus sets a task's status and optional result and error.
func (l *Ledger) UpdateStatus(ctx context.Context, id string, status TaskStatus, result any, errMsg string) error {
	task, err := l.Get(ctx, id)
	if err != nil {
		return err
	}

	task.Status = status
	task.UpdatedAt = l.now()
	task.Error = errMsg
	if result != nil {
		if task.Result, err = json.Marshal(result); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	}

	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return l.rc.Raw().Set(ctx, l.taskKey(id), data, taskTTL).Err()
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Type   string
	Group  string
	Status TaskStatus
}

func (f Filter) match(t *Task) bool {
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.Group != "" && t.GroupKey != f.Group {
		return false
	}
	return f.Status == "" || t.Status == f.Status
}

// List returns tasks matching f, newest first, plus the total match count.
func (l *Ledger) List(ctx context.Context, page, size int, f Filter) ([]*Task, int64, error) {
	ids, err := l.rc.Raw().ZRevRange(ctx, keyIndex, 0, -1).Result()
	if err != nil {
		return nil, 0, err
	}

	tasks := make([]*Task, 0, len(ids))
	for _, id := range ids {
		task, err := l.Get(ctx, id)
		if errors.Is(err, ErrTaskNotFound) {
			continue
		}
		if err != nil {
			return nil, 0, err
		}
		if f.match(task) {
			tasks = append(tasks, task)
		}
	}

	total := int64(len(tasks))
	if page < 1 {
		page = 1
	}
	start := (page - 1) * size
	if start >= len(tasks) {
		return []*Task{}, total, nil
	}
	end := start + size
	if end > len(tasks) {
		end = len(tasks)
	}
	return tasks[start:end], total, nil
}

// Purge removes finished tasks created before cutoff and index entries whose
// record has already expired. It returns the number of index entries removed.
func (l *Ledger) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := l.rc.Raw().ZRangeByScore(ctx, keyIndex, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("(%d", cutoff.UnixMilli()),
	}).Result()
	if err != nil {
		return 0, err
	}

	removed := 0
	pipe := l.rc.Raw().TxPipeline()
	for _, id := range ids {
		task, err := l.Get(ctx, id)
		switch {
		case errors.Is(err, ErrTaskNotFound):
		case err != nil:
			return 0, err
		case !task.Status.Finished():
			continue
		}
		pipe.Del(ctx, l.taskKey(id))
		pipe.ZRem(ctx, keyIndex, id)
		removed++
	}
	if removed == 0 {
		return 0, nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return removed, nil
}
