package awstrail

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail/types"

	"cloudscope/internal/errs"
)

// LookupAPI is the slice of the CloudTrail client the lookup collector
// needs.
type LookupAPI interface {
	cloudtrail.LookupEventsAPIClient
}

// LookupFilter restricts a management-event lookup to one attribute
// value, e.g. EventName=ConsoleLogin.
type LookupFilter struct {
	Key   string
	Value string
}

// LookupManagementEvents pages through the LookupEvents API for the
// given window and returns the full window as raw records. The window
// is accumulated in memory; callers needing bounded memory chunk the
// date range themselves.
func LookupManagementEvents(ctx context.Context, api LookupAPI, start, end time.Time, filters []LookupFilter) ([]RawRecord, error) {
	input := &cloudtrail.LookupEventsInput{
		StartTime: &start,
		EndTime:   &end,
	}
	for _, f := range filters {
		input.LookupAttributes = append(input.LookupAttributes, types.LookupAttribute{
			AttributeKey:   types.LookupAttributeKey(f.Key),
			AttributeValue: &f.Value,
		})
	}

	slog.Info("collecting management events",
		"start", start.Format(time.RFC3339),
		"end", end.Format(time.RFC3339),
		"filters", len(filters),
	)

	var records []RawRecord
	paginator := cloudtrail.NewLookupEventsPaginator(api, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errs.Transport("awstrail.LookupManagementEvents", "cloudtrail", err)
		}

		for _, event := range page.Events {
			data, err := json.Marshal(event)
			if err != nil {
				slog.Warn("unencodable lookup event, skipping", "error", err)
				continue
			}
			records = append(records, RawRecord{Data: data})
		}
	}

	slog.Info("collected management events", "events", len(records))
	return records, nil
}
