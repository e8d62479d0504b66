package awstrail

import (
	"context"
	"encoding/csv"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"

	"cloudscope/internal/errs"
	"cloudscope/internal/schema"
)

// credReportLayouts are the timestamp formats seen in credential
// report columns.
var credReportLayouts = []string{
	"2006-01-02T15:04:05+00:00",
	timestampLayout,
}

// CredentialUser is one row of the IAM credential report.
type CredentialUser struct {
	User                string     `json:"user"`
	ARN                 string     `json:"arn"`
	CreatedAt           *time.Time `json:"user_creation_time"`
	PasswordEnabled     bool       `json:"password_enabled"`
	PasswordLastUsed    *time.Time `json:"password_last_used"`
	PasswordLastChanged *time.Time `json:"password_last_changed"`
	MFAActive           bool       `json:"mfa_active"`
	AccessKey1Active    bool       `json:"access_key_1_active"`
	AccessKey1LastUsed  *time.Time `json:"access_key_1_last_used_date"`
	AccessKey2Active    bool       `json:"access_key_2_active"`
	AccessKey2LastUsed  *time.Time `json:"access_key_2_last_used_date"`
}

// CredentialReport is the parsed IAM credential report.
type CredentialReport struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Users       []CredentialUser `json:"users"`
	// RawCSV preserves the report exactly as IAM produced it.
	RawCSV string `json:"-"`
}

// FetchCredentialReport generates the IAM credential report and polls
// until it is ready.
func (c *Client) FetchCredentialReport(ctx context.Context) (*CredentialReport, error) {
	if _, err := c.iam.GenerateCredentialReport(ctx, &iam.GenerateCredentialReportInput{}); err != nil {
		return nil, errs.Transport("awstrail.FetchCredentialReport", "iam", err)
	}

	const maxAttempts = 10

	var content []byte
	for attempt := 1; ; attempt++ {
		out, err := c.iam.GetCredentialReport(ctx, &iam.GetCredentialReportInput{})
		if err == nil {
			content = out.Content
			break
		}

		if !reportPending(err) {
			return nil, errs.Transport("awstrail.FetchCredentialReport", "iam", err)
		}
		if attempt >= maxAttempts {
			return nil, errs.Transport("awstrail.FetchCredentialReport", "iam",
				errors.New("timed out waiting for credential report"))
		}

		slog.Info("credential report not ready, retrying",
			"attempt", attempt,
			"max_attempts", maxAttempts,
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}

	report, err := parseCredentialReport(string(content))
	if err != nil {
		return nil, errs.Parse("awstrail.FetchCredentialReport", "iam", err)
	}

	slog.Info("retrieved credential report", "users", len(report.Users))
	return report, nil
}

func reportPending(err error) bool {
	var notPresent *iamtypes.CredentialReportNotPresentException
	var inProgress *iamtypes.CredentialReportNotReadyException
	return errors.As(err, &notPresent) || errors.As(err, &inProgress)
}

// parseCredentialReport decodes the report CSV. Unparseable cells fall
// back to their zero value rather than failing the report.
func parseCredentialReport(raw string) (*CredentialReport, error) {
	reader := csv.NewReader(strings.NewReader(raw))
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return &CredentialReport{GeneratedAt: time.Now().UTC(), RawCSV: raw}, nil
	}

	col := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		col[name] = i
	}
	cell := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	report := &CredentialReport{
		GeneratedAt: time.Now().UTC(),
		RawCSV:      raw,
	}
	for _, row := range rows[1:] {
		report.Users = append(report.Users, CredentialUser{
			User:                cell(row, "user"),
			ARN:                 cell(row, "arn"),
			CreatedAt:           schema.ParseTimestamp(cell(row, "user_creation_time"), credReportLayouts...),
			PasswordEnabled:     cell(row, "password_enabled") == "true",
			PasswordLastUsed:    schema.ParseTimestamp(cell(row, "password_last_used"), credReportLayouts...),
			PasswordLastChanged: schema.ParseTimestamp(cell(row, "password_last_changed"), credReportLayouts...),
			MFAActive:           cell(row, "mfa_active") == "true",
			AccessKey1Active:    cell(row, "access_key_1_active") == "true",
			AccessKey1LastUsed:  schema.ParseTimestamp(cell(row, "access_key_1_last_used_date"), credReportLayouts...),
			AccessKey2Active:    cell(row, "access_key_2_active") == "true",
			AccessKey2LastUsed:  schema.ParseTimestamp(cell(row, "access_key_2_last_used_date"), credReportLayouts...),
		})
	}

	return report, nil
}
