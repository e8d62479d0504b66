package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"cloudscope/internal/config"
)

// Producer submits tasks to the work topic. Messages are keyed by
// case id so one case's tasks stay ordered on a single partition.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a Producer for the configured topic.
func NewProducer(cfg config.Tasks) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  cfg.MaxRetries + 1,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			slog.Debug(fmt.Sprintf(msg, args...), "component", "task-writer")
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			slog.Error(fmt.Sprintf(msg, args...), "component", "task-writer")
		}),
	}
	return &Producer{writer: writer}
}

// Submit enqueues one task.
func (p *Producer) Submit(ctx context.Context, task *Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("tasks: encoding task %s: %w", task.ID, err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.CaseID),
		Value: data,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("tasks: submitting task %s: %w", task.ID, err)
	}

	slog.Info("task submitted",
		"task_id", task.ID,
		"kind", task.Kind,
		"case_id", task.CaseID,
	)
	return nil
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
