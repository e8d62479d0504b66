// Package main is the cloudscope CLI: cloud audit log collection,
// detection runs and timeline export for investigation cases.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloudscope/internal/awstrail"
	"cloudscope/internal/azure"
	"cloudscope/internal/config"
	"cloudscope/internal/detect"
	"cloudscope/internal/errs"
	"cloudscope/internal/gcp"
	"cloudscope/internal/ingest"
	"cloudscope/internal/logging"
	"cloudscope/internal/schema"
	"cloudscope/internal/store"
	"cloudscope/internal/tasks"
	"cloudscope/internal/timeline"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &app{cfg: cfg}

	switch os.Args[1] {
	case "aws":
		app.runAWS(ctx, os.Args[2:])
	case "azure":
		app.runAzure(ctx, os.Args[2:])
	case "gcp":
		app.runGCP(ctx, os.Args[2:])
	case "submit":
		app.runSubmit(ctx, os.Args[2:])
	case "detect":
		app.runDetect(ctx, os.Args[2:])
	case "timeline":
		app.runTimeline(ctx, os.Args[2:])
	case "migrate":
		app.runMigrate(ctx)
	case "-version", "--version", "-v":
		fmt.Printf("cloudscope %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: cloudscope <command> [flags]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  aws       Collect AWS CloudTrail logs (s3|local|management|discover|explore-bucket|discover-resources|credential-report)\n")
	fmt.Fprintf(os.Stderr, "  azure     Collect Azure Activity Log events (activity)\n")
	fmt.Fprintf(os.Stderr, "  gcp       Collect GCP audit logs (not yet supported)\n")
	fmt.Fprintf(os.Stderr, "  submit    Queue a task for the background worker\n")
	fmt.Fprintf(os.Stderr, "  detect    Run detection rules over a case (run)\n")
	fmt.Fprintf(os.Stderr, "  timeline  Export a case timeline (export)\n")
	fmt.Fprintf(os.Stderr, "  migrate   Apply event store migrations\n")
	fmt.Fprintf(os.Stderr, "\nFlags:\n")
	fmt.Fprintf(os.Stderr, "  -version  Show version and exit\n")
}

type app struct {
	cfg *config.Config
}

// openStore connects to ClickHouse and applies pending migrations.
func (a *app) openStore(ctx context.Context) *store.Client {
	client, err := store.NewClient(a.cfg.Storage.ClickHouse)
	if err != nil {
		fatal("connecting to event store: %v", err)
	}
	if err := store.NewMigrator(client).Run(ctx); err != nil {
		fatal("migrating event store: %v", err)
	}
	return client
}

func (a *app) runMigrate(ctx context.Context) {
	client := a.openStore(ctx)
	defer client.Close()
	fmt.Println("event store schema is up to date")
}

// ---- aws ----

func (a *app) runAWS(ctx context.Context, args []string) {
	if len(args) < 1 {
		fatal("usage: cloudscope aws <s3|local|management|discover|explore-bucket|discover-resources|credential-report> [flags]")
	}

	switch args[0] {
	case "s3":
		a.awsS3(ctx, args[1:])
	case "local":
		a.awsLocal(ctx, args[1:])
	case "management":
		a.awsManagement(ctx, args[1:])
	case "discover":
		a.awsDiscover(ctx, args[1:])
	case "explore-bucket":
		a.awsExploreBucket(ctx, args[1:])
	case "discover-resources":
		a.awsDiscoverResources(ctx, args[1:])
	case "credential-report":
		a.awsCredentialReport(ctx, args[1:])
	default:
		fatal("unknown aws subcommand %q", args[0])
	}
}

// exportOpts selects the direct export path: collected events are
// normalized into memory and written out without touching the store.
type exportOpts struct {
	format string
	out    string
}

// exportFlags adds the direct-export flags shared by the collection
// subcommands.
func exportFlags(fs *flag.FlagSet) *exportOpts {
	o := &exportOpts{}
	fs.StringVar(&o.format, "format", "", "Write the collected timeline directly (csv|json|terminal) instead of storing events")
	fs.StringVar(&o.out, "out", "", "Direct export output file (default: stdout)")
	return o
}

// awsFlags adds the shared AWS credential flags to fs.
func awsFlags(fs *flag.FlagSet) *awstrail.Credentials {
	creds := &awstrail.Credentials{}
	fs.StringVar(&creds.AccessKeyID, "access-key", "", "AWS access key id (default: credential chain)")
	fs.StringVar(&creds.SecretAccessKey, "secret-key", "", "AWS secret access key")
	fs.StringVar(&creds.SessionToken, "session-token", "", "AWS session token")
	fs.StringVar(&creds.Region, "region", "", "Default AWS region")
	return creds
}

func (a *app) awsClient(ctx context.Context, creds *awstrail.Credentials) *awstrail.Client {
	client, err := awstrail.NewClient(ctx, *creds)
	if err != nil {
		fatal("creating AWS client: %v", err)
	}
	return client
}

func (a *app) awsS3(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("aws s3", flag.ExitOnError)
	creds := awsFlags(fs)
	caseID := fs.String("case", "", "Investigation case id (required)")
	bucket := fs.String("bucket", "", "Trail log bucket (required)")
	prefix := fs.String("prefix", "", "Base prefix above the region folders (default: discovered)")
	regions := fs.String("regions", "", "Comma separated regions (default: discovered)")
	start := fs.String("start", "", "Window start, YYYY-MM-DD (required)")
	end := fs.String("end", "", "Window end, YYYY-MM-DD (required)")
	saveRaw := fs.String("save-raw", a.cfg.Collect.SaveRawDir, "Directory for decompressed raw log copies")
	export := exportFlags(fs)
	fs.Parse(args)

	requireFlags(map[string]string{"case": *caseID, "bucket": *bucket, "start": *start, "end": *end})

	client := a.awsClient(ctx, creds)
	collector := awstrail.NewCollector(client.S3(), client.Region(), a.cfg.Collect.BatchSize)

	req := awstrail.CollectRequest{
		Bucket:     *bucket,
		Prefix:     *prefix,
		Regions:    splitCSV(*regions),
		Start:      parseDay(*start),
		End:        parseDay(*end),
		SaveRawDir: *saveRaw,
	}
	if len(req.Regions) == 0 {
		req.Regions = a.cfg.Collect.DefaultRegions
	}
	if req.Prefix == "" {
		// Prefix discovery narrows to this account's trail folder
		// when the bucket holds logs for several accounts.
		accountID, err := client.AccountID(ctx)
		if err != nil {
			slog.Warn("cannot resolve account id, probing all account folders", "error", err)
		}
		req.AccountID = accountID
	}

	a.ingestAWS(ctx, *caseID, export, func(ctx context.Context, emit func([]ingest.Raw) error) error {
		return collector.Collect(ctx, req, func(batch []awstrail.RawRecord) error {
			return emit(awsRaws(batch))
		})
	})
}

func (a *app) awsLocal(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("aws local", flag.ExitOnError)
	caseID := fs.String("case", "", "Investigation case id (required)")
	dir := fs.String("dir", "", "Directory of .json/.gz trail logs (required)")
	recursive := fs.Bool("recursive", false, "Recurse into subdirectories")
	export := exportFlags(fs)
	fs.Parse(args)

	requireFlags(map[string]string{"case": *caseID, "dir": *dir})

	collector := awstrail.NewCollector(nil, "", a.cfg.Collect.BatchSize)
	req := awstrail.LocalRequest{Dir: *dir, Recursive: *recursive}

	a.ingestAWS(ctx, *caseID, export, func(ctx context.Context, emit func([]ingest.Raw) error) error {
		return collector.CollectLocal(ctx, req, func(batch []awstrail.RawRecord) error {
			return emit(awsRaws(batch))
		})
	})
}

func (a *app) awsManagement(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("aws management", flag.ExitOnError)
	creds := awsFlags(fs)
	caseID := fs.String("case", "", "Investigation case id (required)")
	start := fs.String("start", "", "Window start, YYYY-MM-DD (required)")
	end := fs.String("end", "", "Window end, YYYY-MM-DD (required)")
	attr := fs.String("attribute", "", "Lookup attribute filter, key=value (e.g. Username=alice)")
	export := exportFlags(fs)
	fs.Parse(args)

	requireFlags(map[string]string{"case": *caseID, "start": *start, "end": *end})

	var filters []awstrail.LookupFilter
	if *attr != "" {
		key, value, ok := strings.Cut(*attr, "=")
		if !ok {
			fatal("-attribute must be key=value, got %q", *attr)
		}
		filters = append(filters, awstrail.LookupFilter{Key: key, Value: value})
	}

	client := a.awsClient(ctx, creds)

	a.ingestAWS(ctx, *caseID, export, func(ctx context.Context, emit func([]ingest.Raw) error) error {
		records, err := awstrail.LookupManagementEvents(ctx, client.CloudTrail(), parseDay(*start), parseDay(*end), filters)
		if err != nil {
			return err
		}
		return emit(awsRaws(records))
	})
}

func (a *app) awsDiscover(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("aws discover", flag.ExitOnError)
	creds := awsFlags(fs)
	fs.Parse(args)

	client := a.awsClient(ctx, creds)
	trails, err := client.DiscoverTrails(ctx)
	if err != nil {
		fatal("discovering trails: %v", err)
	}
	printJSON(trails)
}

func (a *app) awsExploreBucket(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("aws explore-bucket", flag.ExitOnError)
	creds := awsFlags(fs)
	bucket := fs.String("bucket", "", "Bucket to probe (required)")
	fs.Parse(args)

	requireFlags(map[string]string{"bucket": *bucket})

	client := a.awsClient(ctx, creds)
	collector := awstrail.NewCollector(client.S3(), client.Region(), 0)

	accountID, err := client.AccountID(ctx)
	if err != nil {
		slog.Warn("cannot resolve account id, probing all account folders", "error", err)
	}

	structure, err := collector.DiscoverBucket(ctx, *bucket, accountID)
	if err != nil {
		fatal("exploring bucket: %v", err)
	}
	printJSON(structure)
}

func (a *app) awsDiscoverResources(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("aws discover-resources", flag.ExitOnError)
	creds := awsFlags(fs)
	types := fs.String("types", "", "Comma separated resource types (default: all of "+strings.Join(awstrail.ResourceTypes, ",")+")")
	fs.Parse(args)

	client := a.awsClient(ctx, creds)
	resources, err := client.DiscoverResources(ctx, splitCSV(*types))
	if err != nil {
		fatal("discovering resources: %v", err)
	}
	printJSON(resources)
}

func (a *app) awsCredentialReport(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("aws credential-report", flag.ExitOnError)
	creds := awsFlags(fs)
	fs.Parse(args)

	client := a.awsClient(ctx, creds)
	report, err := client.FetchCredentialReport(ctx)
	if err != nil {
		fatal("fetching credential report: %v", err)
	}
	printJSON(report)
}

// ingestAWS runs one AWS collection pipeline, into the store or
// straight to a timeline file when export flags are set.
func (a *app) ingestAWS(ctx context.Context, caseID string, export *exportOpts, source ingest.Source) {
	a.ingestProvider(ctx, caseID, schema.ProviderAWS, awstrail.Normalize, export, source)
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

// ---- azure ----

func (a *app) runAzure(ctx context.Context, args []string) {
	if len(args) < 1 || args[0] != "activity" {
		fatal("usage: cloudscope azure activity [flags]")
	}

	fs := flag.NewFlagSet("azure activity", flag.ExitOnError)
	caseID := fs.String("case", "", "Investigation case id (required)")
	subscription := fs.String("subscription", "", "Azure subscription id (required)")
	tenant := fs.String("tenant", "", "Azure tenant id (default: credential chain)")
	clientID := fs.String("client-id", "", "Service principal client id")
	clientSecret := fs.String("client-secret", "", "Service principal client secret")
	start := fs.String("start", "", "Window start, YYYY-MM-DD (required)")
	end := fs.String("end", "", "Window end, YYYY-MM-DD (required)")
	filter := fs.String("filter", "", "Extra activity log filter clause")
	export := exportFlags(fs)
	fs.Parse(args[1:])

	requireFlags(map[string]string{"case": *caseID, "subscription": *subscription, "start": *start, "end": *end})

	client, err := azure.NewClient(ctx, azure.Credentials{
		TenantID:       *tenant,
		ClientID:       *clientID,
		ClientSecret:   *clientSecret,
		SubscriptionID: *subscription,
	})
	if err != nil {
		fatal("creating Azure client: %v", err)
	}

	collector := azure.NewCollector(client.ActivityLogs(), a.cfg.Collect.BatchSize, a.cfg.Collect.AzureRetention)
	req := azure.CollectRequest{
		Start:  parseDay(*start),
		End:    parseDay(*end),
		Filter: *filter,
	}

	a.ingestProvider(ctx, *caseID, schema.ProviderAzure, azure.Normalize, export,
		func(ctx context.Context, emit func([]ingest.Raw) error) error {
			return collector.Collect(ctx, req, func(batch []azure.RawRecord) error {
				raws := make([]ingest.Raw, 0, len(batch))
				for _, rec := range batch {
					raws = append(raws, ingest.Raw{Data: rec.Data})
				}
				return emit(raws)
			})
		})
}

// ingestProvider wires one collection source through the runner and
// prints the run stats. Export flags divert the run to an in-memory
// sink and a direct timeline write, with no store involved.
func (a *app) ingestProvider(ctx context.Context, caseID string, provider schema.CloudProvider, normalize ingest.Normalizer, export *exportOpts, source ingest.Source) {
	if export != nil && export.format != "" {
		a.exportDirect(ctx, caseID, provider, normalize, export, source)
		return
	}

	client := a.openStore(ctx)
	defer client.Close()

	events := store.NewEventRepository(client, a.cfg.Storage.Insert)
	runner := ingest.NewRunner(events, a.cfg.Collect.Workers, a.cfg.Collect.QueueDepth)

	stats, err := runner.Run(ctx, ingest.RunSpec{
		CaseID:    caseID,
		Provider:  provider,
		Normalize: normalize,
		Source:    source,
	})
	if err != nil {
		fatal("ingestion failed: %v", err)
	}
	printJSON(stats)
}

// exportDirect collects and normalizes into memory and writes the
// timeline out in one shot.
func (a *app) exportDirect(ctx context.Context, caseID string, provider schema.CloudProvider, normalize ingest.Normalizer, export *exportOpts, source ingest.Source) {
	sink := ingest.NewMemorySink()
	runner := ingest.NewRunner(sink, a.cfg.Collect.Workers, a.cfg.Collect.QueueDepth)

	if _, err := runner.Run(ctx, ingest.RunSpec{
		CaseID:    caseID,
		Provider:  provider,
		Normalize: normalize,
		Source:    source,
	}); err != nil {
		fatal("collection failed: %v", err)
	}

	events := sink.Events()

	output := os.Stdout
	if export.out != "" {
		f, err := os.Create(export.out)
		if err != nil {
			fatal("creating output file: %v", err)
		}
		defer f.Close()
		output = f
	}

	switch export.format {
	case "csv", "json":
		if err := timeline.Export(events, export.format, output); err != nil {
			fatal("exporting timeline: %v", err)
		}
	case "terminal":
		timeline.SortEvents(events)
		fmt.Fprint(output, timeline.RenderTimeline(fmt.Sprintf("Timeline for %s", caseID), events))
	default:
		fatal("unknown format %q", export.format)
	}
}

// ---- gcp ----

func (a *app) runGCP(ctx context.Context, args []string) {
	if len(args) < 1 || args[0] != "audit" {
		fatal("usage: cloudscope gcp audit [flags]")
	}

	fs := flag.NewFlagSet("gcp audit", flag.ExitOnError)
	caseID := fs.String("case", "", "Investigation case id (required)")
	project := fs.String("project", "", "GCP project id (required)")
	start := fs.String("start", "", "Window start, YYYY-MM-DD (required)")
	end := fs.String("end", "", "Window end, YYYY-MM-DD (required)")
	fs.Parse(args[1:])

	requireFlags(map[string]string{"case": *caseID, "project": *project, "start": *start, "end": *end})

	collector := gcp.NewCollector(gcp.Credentials{ProjectID: *project})
	req := gcp.CollectRequest{Start: parseDay(*start), End: parseDay(*end)}

	err := collector.Collect(ctx, req, func([]gcp.RawRecord) error { return nil })
	if errors.Is(err, errs.ErrNotSupported) {
		fatal("GCP audit log collection is not supported yet")
	}
	if err != nil {
		fatal("collecting GCP audit logs: %v", err)
	}
}

// ---- submit ----

func (a *app) runSubmit(ctx context.Context, args []string) {
	if len(args) < 1 {
		fatal("usage: cloudscope submit <ingest-s3|ingest-api|ingest-azure|detect> [flags]")
	}
	if !a.cfg.Tasks.Enabled {
		fatal("task queue is disabled, set tasks.enabled or SCOPE_KAFKA_BROKERS")
	}

	var (
		task *tasks.Task
		err  error
	)

	switch args[0] {
	case "ingest-s3":
		fs := flag.NewFlagSet("submit ingest-s3", flag.ExitOnError)
		caseID := fs.String("case", "", "Investigation case id (required)")
		bucket := fs.String("bucket", "", "Trail log bucket (required)")
		prefix := fs.String("prefix", "", "Base prefix above the region folders")
		regions := fs.String("regions", "", "Comma separated regions")
		start := fs.String("start", "", "Window start, YYYY-MM-DD (required)")
		end := fs.String("end", "", "Window end, YYYY-MM-DD (required)")
		fs.Parse(args[1:])

		requireFlags(map[string]string{"case": *caseID, "bucket": *bucket, "start": *start, "end": *end})
		task, err = tasks.NewTask(tasks.KindIngestS3, *caseID, tasks.IngestS3Payload{
			Bucket:  *bucket,
			Prefix:  *prefix,
			Regions: splitCSV(*regions),
			Start:   parseDay(*start),
			End:     parseDay(*end),
		})

	case "ingest-api", "ingest-azure":
		fs := flag.NewFlagSet("submit "+args[0], flag.ExitOnError)
		caseID := fs.String("case", "", "Investigation case id (required)")
		start := fs.String("start", "", "Window start, YYYY-MM-DD (required)")
		end := fs.String("end", "", "Window end, YYYY-MM-DD (required)")
		fs.Parse(args[1:])

		requireFlags(map[string]string{"case": *caseID, "start": *start, "end": *end})
		kind := tasks.KindIngestAPI
		if args[0] == "ingest-azure" {
			kind = tasks.KindIngestAzure
		}
		task, err = tasks.NewTask(kind, *caseID, tasks.IngestAPIPayload{
			Start: parseDay(*start),
			End:   parseDay(*end),
		})

	case "detect":
		fs := flag.NewFlagSet("submit detect", flag.ExitOnError)
		caseID := fs.String("case", "", "Investigation case id (required)")
		cloud := fs.String("cloud", "aws", "Cloud to evaluate (aws|azure|gcp)")
		fs.Parse(args[1:])

		requireFlags(map[string]string{"case": *caseID})
		if !schema.CloudProvider(*cloud).IsValid() {
			fatal("unknown cloud %q", *cloud)
		}
		task, err = tasks.NewTask(tasks.KindRunDetection, *caseID, tasks.DetectionPayload{Cloud: *cloud})

	default:
		fatal("unknown submit subcommand %q", args[0])
	}
	if err != nil {
		fatal("building task: %v", err)
	}

	producer := tasks.NewProducer(a.cfg.Tasks)
	defer producer.Close()

	if err := producer.Submit(ctx, task); err != nil {
		fatal("submitting task: %v", err)
	}
	fmt.Printf("submitted %s task %s for case %s\n", task.Kind, task.ID, task.CaseID)
}

// ---- detect ----

func (a *app) runDetect(ctx context.Context, args []string) {
	if len(args) < 1 || args[0] != "run" {
		fatal("usage: cloudscope detect run [flags]")
	}

	fs := flag.NewFlagSet("detect run", flag.ExitOnError)
	caseID := fs.String("case", "", "Investigation case id (required)")
	cloud := fs.String("cloud", "aws", "Cloud to evaluate (aws|azure|gcp)")
	noLock := fs.Bool("no-lock", false, "Skip the redis run lock")
	fs.Parse(args[1:])

	requireFlags(map[string]string{"case": *caseID})
	provider := schema.CloudProvider(*cloud)
	if !provider.IsValid() {
		fatal("unknown cloud %q", *cloud)
	}

	client := a.openStore(ctx)
	defer client.Close()

	var lock detect.Locker
	if !*noLock && a.cfg.Redis.Addr != "" {
		runLock := detect.NewRunLock(a.cfg.Redis)
		defer runLock.Close()
		lock = runLock
	}

	engine := detect.NewEngine(
		store.NewEventRepository(client, a.cfg.Storage.Insert),
		store.NewRuleRepository(client),
		store.NewResultRepository(client),
		store.NewTagRepository(client),
		lock,
	)

	summary, err := engine.Run(ctx, *caseID, provider)
	if err != nil {
		fatal("detection run failed: %v", err)
	}
	printJSON(summary)
}

// ---- timeline ----

func (a *app) runTimeline(ctx context.Context, args []string) {
	if len(args) < 1 || args[0] != "export" {
		fatal("usage: cloudscope timeline export [flags]")
	}

	fs := flag.NewFlagSet("timeline export", flag.ExitOnError)
	caseID := fs.String("case", "", "Investigation case id (required)")
	format := fs.String("format", "csv", "Output format (csv|json|terminal)")
	out := fs.String("out", "", "Output file (default: stdout)")
	fs.Parse(args[1:])

	requireFlags(map[string]string{"case": *caseID})

	client := a.openStore(ctx)
	defer client.Close()

	events := store.NewEventRepository(client, a.cfg.Storage.Insert)
	tags := store.NewTagRepository(client)

	output := os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			fatal("creating output file: %v", err)
		}
		defer f.Close()
		output = f
	}

	switch *format {
	case "csv", "json":
		writer, err := timeline.NewWriter(*format, output)
		if err != nil {
			fatal("%v", err)
		}

		// Events stream out of the store already ordered by time with
		// undated events last, so batches append in final order.
		batch := make([]*schema.Event, 0, a.cfg.Collect.BatchSize)
		err = events.FindByCase(ctx, *caseID, func(event *schema.Event) error {
			batch = append(batch, event)
			if len(batch) >= a.cfg.Collect.BatchSize {
				if err := writer.WriteBatch(batch); err != nil {
					return err
				}
				batch = batch[:0]
			}
			return nil
		})
		if err != nil {
			fatal("exporting timeline: %v", err)
		}
		if err := writer.WriteBatch(batch); err != nil {
			fatal("exporting timeline: %v", err)
		}
		if err := writer.Close(); err != nil {
			fatal("exporting timeline: %v", err)
		}

	case "terminal":
		eventTags, err := tags.ForCase(ctx, *caseID)
		if err != nil {
			fatal("loading tags: %v", err)
		}

		var all []*schema.Event
		err = events.FindByCase(ctx, *caseID, func(event *schema.Event) error {
			event.AddTags(eventTags[event.Ref()]...)
			all = append(all, event)
			return nil
		})
		if err != nil {
			fatal("exporting timeline: %v", err)
		}

		timeline.SortEvents(all)
		fmt.Fprint(output, timeline.RenderTimeline(fmt.Sprintf("Timeline for %s", *caseID), all))

	default:
		fatal("unknown format %q", *format)
	}
}

// ---- helpers ----

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func requireFlags(flags map[string]string) {
	for name, value := range flags {
		if value == "" {
			fatal("-%s is required", name)
		}
	}
}

func parseDay(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		fatal("invalid date %q, want YYYY-MM-DD", s)
	}
	return t.UTC()
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var parts []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal("encoding output: %v", err)
	}
	fmt.Println(string(data))
}
