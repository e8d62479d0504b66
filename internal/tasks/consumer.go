package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"cloudscope/internal/config"
)

// Handler executes one task. Returning nil acknowledges the task;
// an error triggers a retry up to the configured limit.
type Handler func(ctx context.Context, task *Task) error

// Consumer pulls tasks from the work topic and dispatches them.
// Offsets commit only after a task is handled or given up on, so a
// crash mid-task redelivers it.
type Consumer struct {
	reader        *kafka.Reader
	handler       Handler
	maxRetries    int
	backoff       time.Duration
	commitTimeout time.Duration
}

// NewConsumer creates a Consumer in the configured consumer group.
func NewConsumer(cfg config.Tasks, handler Handler) (*Consumer, error) {
	if handler == nil {
		return nil, errors.New("tasks: handler is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.ConsumerGroup,
		Topic:          cfg.Topic,
		MinBytes:       1,
		MaxBytes:       10 << 20,
		CommitInterval: 0, // explicit commits
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			slog.Debug(fmt.Sprintf(msg, args...), "component", "task-reader")
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			slog.Error(fmt.Sprintf(msg, args...), "component", "task-reader")
		}),
	})

	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	commitTimeout := cfg.CommitTimeout
	if commitTimeout <= 0 {
		commitTimeout = 10 * time.Second
	}

	return &Consumer{
		reader:        reader,
		handler:       handler,
		maxRetries:    cfg.MaxRetries,
		backoff:       backoff,
		commitTimeout: commitTimeout,
	}, nil
}

// Run consumes tasks until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("task consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("tasks: fetching message: %w", err)
		}

		c.dispatch(ctx, msg.Value)

		// A hung broker must not stall the fetch loop forever.
		commitCtx, cancel := context.WithTimeout(ctx, c.commitTimeout)
		err = c.reader.CommitMessages(commitCtx, msg)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("tasks: committing offset: %w", err)
		}
	}
}

// dispatch decodes and executes one task with retries. An
// undecodable message or an exhausted task is dropped; the offset
// still commits so a poison message cannot wedge the partition.
func (c *Consumer) dispatch(ctx context.Context, value []byte) {
	var task Task
	if err := json.Unmarshal(value, &task); err != nil {
		slog.Error("dropping undecodable task message", "error", err)
		return
	}
	if !task.Kind.IsValid() {
		slog.Error("dropping task of unknown kind", "task_id", task.ID, "kind", task.Kind)
		return
	}

	log := slog.With("task_id", task.ID, "kind", task.Kind, "case_id", task.CaseID)

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.backoff * time.Duration(attempt)):
			}
			log.Warn("retrying task", "attempt", attempt)
		}

		err := c.handler(ctx, &task)
		if err == nil {
			log.Info("task completed")
			return
		}
		if ctx.Err() != nil {
			return
		}
		log.Error("task failed", "attempt", attempt, "error", err)
	}

	log.Error("giving up on task", "max_retries", c.maxRetries)
}

// Close stops the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
