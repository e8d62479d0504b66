// Package awstrail collects and normalizes AWS CloudTrail audit logs,
// from S3 trail archives, the LookupEvents API, or local files.
package awstrail

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"cloudscope/internal/errs"
	"cloudscope/internal/logging"
)

// Credentials is the credential handle for one AWS account. Empty key
// fields fall back to the environment and shared config chain.
type Credentials struct {
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	Region          string `yaml:"region"`
}

// Client bundles the AWS service clients used for collection.
type Client struct {
	region string

	s3         *s3.Client
	cloudtrail *cloudtrail.Client
	iam        *iam.Client
	ec2        *ec2.Client
	sts        *sts.Client
}

// NewClient creates the service clients for a credential handle.
func NewClient(ctx context.Context, creds Credentials) (*Client, error) {
	region := creds.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if creds.AccessKeyID != "" && creds.SecretAccessKey != "" {
		slog.Debug("using static aws credentials",
			"access_key_id", logging.MaskKey(creds.AccessKeyID),
			"session_token", logging.MaskSecret(creds.SessionToken),
		)
		provider := credentials.NewStaticCredentialsProvider(
			creds.AccessKeyID,
			creds.SecretAccessKey,
			creds.SessionToken,
		)
		opts = append(opts, awsconfig.WithCredentialsProvider(provider))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errs.Credential("awstrail.NewClient", err)
	}

	return &Client{
		region:     region,
		s3:         s3.NewFromConfig(cfg),
		cloudtrail: cloudtrail.NewFromConfig(cfg),
		iam:        iam.NewFromConfig(cfg),
		ec2:        ec2.NewFromConfig(cfg),
		sts:        sts.NewFromConfig(cfg),
	}, nil
}

// Region returns the client's default region.
func (c *Client) Region() string {
	return c.region
}

// S3 exposes the S3 client for the trail archive collector.
func (c *Client) S3() S3API {
	return c.s3
}

// CloudTrail exposes the CloudTrail client for the lookup collector.
func (c *Client) CloudTrail() LookupAPI {
	return c.cloudtrail
}

// AccountID resolves the account behind the credentials. A failure
// here means the credential handle is unusable.
func (c *Client) AccountID(ctx context.Context) (string, error) {
	out, err := c.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", errs.Credential("awstrail.AccountID", err)
	}
	return aws.ToString(out.Account), nil
}
