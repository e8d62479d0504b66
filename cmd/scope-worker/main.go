// Package main is the scope-worker daemon. It consumes ingestion and
// detection tasks from Kafka and executes them against the event store.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"cloudscope/internal/awstrail"
	"cloudscope/internal/azure"
	"cloudscope/internal/config"
	"cloudscope/internal/detect"
	"cloudscope/internal/ingest"
	"cloudscope/internal/logging"
	"cloudscope/internal/schema"
	"cloudscope/internal/store"
	"cloudscope/internal/tasks"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-version" || os.Args[1] == "--version" || os.Args[1] == "-v") {
		fmt.Printf("scope-worker %s\n", version)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Logging)

	if !cfg.Tasks.Enabled {
		fmt.Fprintln(os.Stderr, "Error: task queue is disabled, set tasks.enabled or SCOPE_KAFKA_BROKERS")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := store.NewClient(cfg.Storage.ClickHouse)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to event store: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	if err := store.NewMigrator(client).Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error migrating event store: %v\n", err)
		os.Exit(1)
	}

	w := &worker{cfg: cfg, store: client}

	consumer, err := tasks.NewConsumer(cfg.Tasks, w.handle)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating consumer: %v\n", err)
		os.Exit(1)
	}
	defer consumer.Close()

	slog.Info("worker started", "version", version, "topic", cfg.Tasks.Topic)
	if err := consumer.Run(ctx); err != nil {
		slog.Error("worker stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("worker shut down")
}

// worker executes tasks against the shared store connection. AWS and
// Azure credentials come from each provider's default chain.
type worker struct {
	cfg   *config.Config
	store *store.Client
}

func (w *worker) handle(ctx context.Context, task *tasks.Task) error {
	switch task.Kind {
	case tasks.KindIngestS3:
		return w.ingestS3(ctx, task)
	case tasks.KindIngestAPI:
		return w.ingestAPI(ctx, task)
	case tasks.KindIngestAzure:
		return w.ingestAzure(ctx, task)
	case tasks.KindRunDetection:
		return w.runDetection(ctx, task)
	}
	return fmt.Errorf("worker: unhandled task kind %q", task.Kind)
}

func (w *worker) runner() *ingest.Runner {
	events := store.NewEventRepository(w.store, w.cfg.Storage.Insert)
	return ingest.NewRunner(events, w.cfg.Collect.Workers, w.cfg.Collect.QueueDepth)
}

func (w *worker) ingestS3(ctx context.Context, task *tasks.Task) error {
	var payload tasks.IngestS3Payload
	if err := task.DecodePayload(&payload); err != nil {
		return err
	}

	client, err := awstrail.NewClient(ctx, awstrail.Credentials{})
	if err != nil {
		return err
	}
	collector := awstrail.NewCollector(client.S3(), client.Region(), w.cfg.Collect.BatchSize)

	req := awstrail.CollectRequest{
		Bucket:     payload.Bucket,
		Prefix:     payload.Prefix,
		Regions:    payload.Regions,
		Start:      payload.Start,
		End:        payload.End,
		SaveRawDir: w.cfg.Collect.SaveRawDir,
	}
	if len(req.Regions) == 0 {
		req.Regions = w.cfg.Collect.DefaultRegions
	}
	if req.Prefix == "" {
		accountID, err := client.AccountID(ctx)
		if err != nil {
			slog.Warn("cannot resolve account id, probing all account folders", "error", err)
		}
		req.AccountID = accountID
	}

	stats, err := w.runner().Run(ctx, ingest.RunSpec{
		CaseID:    task.CaseID,
		Provider:  schema.ProviderAWS,
		Normalize: awstrail.Normalize,
		Source: func(ctx context.Context, emit func([]ingest.Raw) error) error {
			return collector.Collect(ctx, req, func(batch []awstrail.RawRecord) error {
				return emit(awsRaws(batch))
			})
		},
	})
	if err != nil {
		return err
	}
	slog.Info("s3 ingestion task finished", "task_id", task.ID, "inserted", stats.Inserted, "dropped", stats.Dropped)
	return nil
}

func (w *worker) ingestAPI(ctx context.Context, task *tasks.Task) error {
	var payload tasks.IngestAPIPayload
	if err := task.DecodePayload(&payload); err != nil {
		return err
	}

	client, err := awstrail.NewClient(ctx, awstrail.Credentials{})
	if err != nil {
		return err
	}

	stats, err := w.runner().Run(ctx, ingest.RunSpec{
		CaseID:    task.CaseID,
		Provider:  schema.ProviderAWS,
		Normalize: awstrail.Normalize,
		Source: func(ctx context.Context, emit func([]ingest.Raw) error) error {
			records, err := awstrail.LookupManagementEvents(ctx, client.CloudTrail(), payload.Start, payload.End, nil)
			if err != nil {
				return err
			}
			return emit(awsRaws(records))
		},
	})
	if err != nil {
		return err
	}
	slog.Info("api ingestion task finished", "task_id", task.ID, "inserted", stats.Inserted, "dropped", stats.Dropped)
	return nil
}

func (w *worker) ingestAzure(ctx context.Context, task *tasks.Task) error {
	var payload tasks.IngestAPIPayload
	if err := task.DecodePayload(&payload); err != nil {
		return err
	}

	client, err := azure.NewClient(ctx, azure.Credentials{
		SubscriptionID: os.Getenv("AZURE_SUBSCRIPTION_ID"),
	})
	if err != nil {
		return err
	}
	collector := azure.NewCollector(client.ActivityLogs(), w.cfg.Collect.BatchSize, w.cfg.Collect.AzureRetention)

	stats, err := w.runner().Run(ctx, ingest.RunSpec{
		CaseID:    task.CaseID,
		Provider:  schema.ProviderAzure,
		Normalize: azure.Normalize,
		Source: func(ctx context.Context, emit func([]ingest.Raw) error) error {
			req := azure.CollectRequest{Start: payload.Start, End: payload.End}
			return collector.Collect(ctx, req, func(batch []azure.RawRecord) error {
				raws := make([]ingest.Raw, 0, len(batch))
				for _, rec := range batch {
					raws = append(raws, ingest.Raw{Data: rec.Data})
				}
				return emit(raws)
			})
		},
	})
	if err != nil {
		return err
	}
	slog.Info("azure ingestion task finished", "task_id", task.ID, "inserted", stats.Inserted, "dropped", stats.Dropped)
	return nil
}

func (w *worker) runDetection(ctx context.Context, task *tasks.Task) error {
	var payload tasks.DetectionPayload
	if err := task.DecodePayload(&payload); err != nil {
		return err
	}

	cloud := schema.CloudProvider(payload.Cloud)
	if !cloud.IsValid() {
		return fmt.Errorf("worker: unknown cloud %q", payload.Cloud)
	}

	var lock detect.Locker
	if w.cfg.Redis.Addr != "" {
		runLock := detect.NewRunLock(w.cfg.Redis)
		defer runLock.Close()
		lock = runLock
	}

	engine := detect.NewEngine(
		store.NewEventRepository(w.store, w.cfg.Storage.Insert),
		store.NewRuleRepository(w.store),
		store.NewResultRepository(w.store),
		store.NewTagRepository(w.store),
		lock,
	)

	summary, err := engine.Run(ctx, task.CaseID, cloud)
	if err != nil {
		return err
	}
	slog.Info("detection task finished",
		"task_id", task.ID,
		"matches", summary.Matches,
		"new_results", summary.NewResults,
		"failures", summary.Failures)
	return nil
}

func awsRaws(batch []awstrail.RawRecord) []ingest.Raw {
	raws := make([]ingest.Raw, 0, len(batch))
	for _, rec := range batch {
		raws = append(raws, ingest.Raw{
			Data:     rec.Data,
			Region:   rec.Region,
			FileName: rec.FileName,
		})
	}
	return raws
}
