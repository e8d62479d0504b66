// Package azure collects and normalizes Azure Activity Log audit
// events into the canonical schema.
package azure

import (
	"context"
	"log/slog"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/monitor/armmonitor"

	"cloudscope/internal/errs"
	"cloudscope/internal/logging"
)

// Credentials holds the service principal used to query a subscription.
// When ClientID is empty the Azure default credential chain is used
// (environment, managed identity, CLI).
type Credentials struct {
	TenantID       string `yaml:"tenant_id"`
	ClientID       string `yaml:"client_id"`
	ClientSecret   string `yaml:"client_secret"`
	SubscriptionID string `yaml:"subscription_id"`
}

// Client wraps the Azure Monitor API for one subscription.
type Client struct {
	subscriptionID string
	activityLogs   *armmonitor.ActivityLogsClient
}

// NewClient authenticates against Azure and builds the monitor client.
// Authentication failures are fatal credential errors.
func NewClient(_ context.Context, creds Credentials) (*Client, error) {
	var (
		cred azcore.TokenCredential
		err  error
	)
	if creds.ClientID != "" {
		slog.Debug("using service principal credentials",
			"tenant_id", creds.TenantID,
			"client_id", creds.ClientID,
			"client_secret", logging.MaskSecret(creds.ClientSecret),
		)
		cred, err = azidentity.NewClientSecretCredential(creds.TenantID, creds.ClientID, creds.ClientSecret, nil)
	} else {
		cred, err = azidentity.NewDefaultAzureCredential(nil)
	}
	if err != nil {
		return nil, errs.Credential("azure.NewClient", err)
	}

	activityLogs, err := armmonitor.NewActivityLogsClient(creds.SubscriptionID, cred, nil)
	if err != nil {
		return nil, errs.Credential("azure.NewClient", err)
	}

	return &Client{
		subscriptionID: creds.SubscriptionID,
		activityLogs:   activityLogs,
	}, nil
}

// SubscriptionID returns the subscription this client queries.
func (c *Client) SubscriptionID() string {
	return c.subscriptionID
}

// ActivityLogs exposes the underlying pager source for the collector.
func (c *Client) ActivityLogs() ActivityLogsAPI {
	return c.activityLogs
}
