package awstrail

import (
	"context"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"cloudscope/internal/errs"
)

// BucketStructure summarizes where trail logs live inside a bucket.
type BucketStructure struct {
	Bucket           string   `json:"bucket"`
	TopLevelPrefixes []string `json:"top_level_prefixes"`
	CloudTrailPaths  []string `json:"cloudtrail_paths"`
}

// BasePrefix picks the collection prefix: the first discovered path
// that ends at the CloudTrail folder itself (above the region level),
// falling back to the first candidate of any shape.
func (b *BucketStructure) BasePrefix() string {
	for _, p := range b.CloudTrailPaths {
		if strings.HasSuffix(strings.TrimSuffix(p, "/"), "CloudTrail") {
			return p
		}
	}
	if len(b.CloudTrailPaths) > 0 {
		return b.CloudTrailPaths[0]
	}
	return ""
}

// DiscoverBucket probes a bucket's folder structure for CloudTrail log
// paths. It walks the conventional AWSLogs/{account}/CloudTrail/{region}
// layout first and falls back to any top-level folder whose name
// mentions cloudtrail. A non-empty accountID restricts the walk to
// that account's folder, so organization buckets holding trails for
// many accounts resolve to the right one.
func (c *Collector) DiscoverBucket(ctx context.Context, bucket, accountID string) (*BucketStructure, error) {
	const maxTopPrefixes = 10

	top, err := c.listPrefixes(ctx, bucket, "", maxTopPrefixes)
	if err != nil {
		return nil, err
	}

	structure := &BucketStructure{
		Bucket:           bucket,
		TopLevelPrefixes: top,
	}

	for _, prefix := range top {
		if !strings.Contains(prefix, "AWSLogs") {
			continue
		}

		accounts, err := c.listPrefixes(ctx, bucket, prefix, 0)
		if err != nil {
			slog.Warn("failed to list account folders", "prefix", prefix, "error", err)
			continue
		}

		for _, account := range accounts {
			if accountID != "" && lastSegment(account) != accountID {
				continue
			}
			services, err := c.listPrefixes(ctx, bucket, account, 0)
			if err != nil {
				continue
			}

			for _, service := range services {
				if !strings.Contains(service, "CloudTrail") {
					continue
				}
				structure.CloudTrailPaths = append(structure.CloudTrailPaths, service)

				regions, err := c.listPrefixes(ctx, bucket, service, 0)
				if err != nil {
					continue
				}
				for _, region := range regions {
					if isRegionName(lastSegment(region)) {
						structure.CloudTrailPaths = append(structure.CloudTrailPaths, region)
					}
				}
			}
		}
	}

	if len(structure.CloudTrailPaths) == 0 {
		for _, prefix := range top {
			if strings.Contains(strings.ToLower(prefix), "cloudtrail") {
				structure.CloudTrailPaths = append(structure.CloudTrailPaths, prefix)
			}
		}
	}

	slog.Info("explored bucket structure",
		"bucket", bucket,
		"cloudtrail_paths", len(structure.CloudTrailPaths),
	)
	return structure, nil
}

// listPrefixes returns the folder-like common prefixes directly under
// prefix. max 0 means unlimited.
func (c *Collector) listPrefixes(ctx context.Context, bucket, prefix string, max int) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(c.s3, &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var prefixes []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errs.Transport("awstrail.listPrefixes", bucket+"/"+prefix, err)
		}
		for _, cp := range page.CommonPrefixes {
			prefixes = append(prefixes, aws.ToString(cp.Prefix))
			if max > 0 && len(prefixes) >= max {
				return prefixes, nil
			}
		}
	}

	return prefixes, nil
}
