package awstrail

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"cloudscope/internal/errs"
)

// regionPrefixes are the AWS region name families used to tell region
// folders apart from other path segments.
var regionPrefixes = []string{"us-", "eu-", "ap-", "sa-", "ca-"}

// S3API is the slice of the S3 client the collector needs.
type S3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// RawRecord is one raw CloudTrail record plus its collection context.
type RawRecord struct {
	Data     []byte
	Region   string
	FileName string
}

// CollectRequest describes one S3 collection window.
type CollectRequest struct {
	Bucket string
	// Prefix is the base path above the region folders. When empty the
	// bucket structure is probed for a CloudTrail path.
	Prefix string
	// Regions to scan. When empty, regions are discovered by listing
	// the folder level under Prefix.
	Regions []string
	// AccountID narrows prefix discovery to one account's folder in
	// buckets holding trails for several accounts.
	AccountID string
	Start     time.Time
	End       time.Time
	// SaveRawDir, when set, receives a decompressed copy of every log
	// file under {dir}/{region}/{yyyy-mm-dd}/.
	SaveRawDir string
}

// Collector pulls CloudTrail log files out of S3 trail archives.
type Collector struct {
	s3            S3API
	defaultRegion string
	batchSize     int
}

// NewCollector creates a Collector. batchSize bounds how many raw
// records are buffered before the callback fires.
func NewCollector(client S3API, defaultRegion string, batchSize int) *Collector {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Collector{
		s3:            client,
		defaultRegion: defaultRegion,
		batchSize:     batchSize,
	}
}

// Collect scans the bucket for the requested window and hands raw
// records to fn in batches. Unreadable files and empty days are logged
// and skipped; the scan only aborts on context cancellation or a
// callback error. Re-invoking with the same request re-scans the same
// window.
func (c *Collector) Collect(ctx context.Context, req CollectRequest, fn func([]RawRecord) error) error {
	prefix := req.Prefix
	if prefix == "" {
		structure, err := c.DiscoverBucket(ctx, req.Bucket, req.AccountID)
		if err != nil {
			return err
		}
		prefix = structure.BasePrefix()
		if prefix == "" {
			return errs.Transport("awstrail.Collect", req.Bucket,
				fmt.Errorf("no cloudtrail path found, specify a prefix"))
		}
		slog.Info("automatically selected prefix", "bucket", req.Bucket, "prefix", prefix)
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	regions := req.Regions
	if len(regions) == 0 {
		discovered, err := c.discoverRegions(ctx, req.Bucket, prefix)
		if err != nil {
			slog.Warn("region discovery failed, using default region",
				"bucket", req.Bucket,
				"error", err,
			)
		}
		if len(discovered) > 0 {
			regions = discovered
			slog.Info("discovered regions with trail logs", "count", len(regions))
		} else {
			regions = []string{c.defaultRegion}
		}
	}

	start := req.Start.UTC().Truncate(24 * time.Hour)
	end := req.End.UTC().Truncate(24 * time.Hour)

	slog.Info("collecting cloudtrail logs",
		"bucket", req.Bucket,
		"prefix", prefix,
		"regions", regions,
		"start", start.Format("2006-01-02"),
		"end", end.Format("2006-01-02"),
	)

	batch := make([]RawRecord, 0, c.batchSize)
	total := 0

	for _, region := range regions {
		for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
			if err := ctx.Err(); err != nil {
				return err
			}

			dayPrefix := fmt.Sprintf("%s%s/%04d/%02d/%02d/",
				prefix, region, day.Year(), day.Month(), day.Day())

			records, err := c.collectDay(ctx, req, region, day, dayPrefix)
			if err != nil {
				if ctx.Err() != nil {
					return err
				}
				slog.Error("failed to scan day, skipping",
					"prefix", dayPrefix,
					"error", err,
				)
				continue
			}

			for _, rec := range records {
				batch = append(batch, rec)
				total++
				if len(batch) >= c.batchSize {
					if err := fn(batch); err != nil {
						return err
					}
					batch = make([]RawRecord, 0, c.batchSize)
				}
			}
		}
	}

	if len(batch) > 0 {
		if err := fn(batch); err != nil {
			return err
		}
	}

	slog.Info("cloudtrail collection finished",
		"bucket", req.Bucket,
		"regions", len(regions),
		"events", total,
	)
	return nil
}

// collectDay lists and reads every log file under one region/day prefix.
func (c *Collector) collectDay(ctx context.Context, req CollectRequest, region string, day time.Time, dayPrefix string) ([]RawRecord, error) {
	var records []RawRecord

	paginator := s3.NewListObjectsV2Paginator(c.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(req.Bucket),
		Prefix: aws.String(dayPrefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errs.Transport("awstrail.collectDay", dayPrefix, err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, ".gz") {
				continue
			}

			recs, err := c.readLogFile(ctx, req, region, day, key)
			if err != nil {
				slog.Error("failed to read log file, skipping",
					"key", key,
					"error", err,
				)
				continue
			}
			records = append(records, recs...)
		}
	}

	return records, nil
}

// readLogFile downloads, decompresses and splits one trail log file.
func (c *Collector) readLogFile(ctx context.Context, req CollectRequest, region string, day time.Time, key string) ([]RawRecord, error) {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(req.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errs.Transport("awstrail.readLogFile", key, err)
	}
	defer out.Body.Close()

	gz, err := gzip.NewReader(out.Body)
	if err != nil {
		return nil, errs.Parse("awstrail.readLogFile", key, err)
	}
	data, err := io.ReadAll(gz)
	if err != nil {
		return nil, errs.Parse("awstrail.readLogFile", key, err)
	}

	if req.SaveRawDir != "" {
		if err := saveRawCopy(req.SaveRawDir, region, day, key, data); err != nil {
			slog.Warn("failed to save raw log copy", "key", key, "error", err)
		}
	}

	records, err := splitRecords(data)
	if err != nil {
		return nil, errs.Parse("awstrail.readLogFile", key, err)
	}

	raws := make([]RawRecord, 0, len(records))
	for _, rec := range records {
		raws = append(raws, RawRecord{
			Data:     rec,
			Region:   region,
			FileName: path.Base(key),
		})
	}

	slog.Debug("read log file", "key", key, "events", len(raws))
	return raws, nil
}

// splitRecords pulls the records array out of a trail log document.
func splitRecords(data []byte) ([]json.RawMessage, error) {
	var doc struct {
		Records []json.RawMessage `json:"Records"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.Records, nil
}

// saveRawCopy writes the decompressed log under dir/region/yyyy-mm-dd/.
func saveRawCopy(dir, region string, day time.Time, key string, data []byte) error {
	target := filepath.Join(dir, region, day.Format("2006-01-02"))
	if err := os.MkdirAll(target, 0o755); err != nil {
		return err
	}

	name := strings.TrimSuffix(path.Base(key), ".gz")
	if !strings.HasSuffix(name, ".json") {
		name += ".json"
	}
	return os.WriteFile(filepath.Join(target, name), data, 0o644)
}

// discoverRegions lists the folder level under prefix and keeps the
// entries that look like region names.
func (c *Collector) discoverRegions(ctx context.Context, bucket, prefix string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(c.s3, &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var regions []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errs.Transport("awstrail.discoverRegions", bucket, err)
		}
		for _, cp := range page.CommonPrefixes {
			name := lastSegment(aws.ToString(cp.Prefix))
			if isRegionName(name) {
				regions = append(regions, name)
			}
		}
	}

	return regions, nil
}

func isRegionName(name string) bool {
	for _, p := range regionPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func lastSegment(prefix string) string {
	parts := strings.Split(strings.TrimSuffix(prefix, "/"), "/")
	return parts[len(parts)-1]
}
