package awstrail

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"cloudscope/internal/errs"
)

// Trail describes one configured CloudTrail trail.
type Trail struct {
	Name           string `json:"name"`
	S3BucketName   string `json:"s3_bucket_name"`
	S3KeyPrefix    string `json:"s3_key_prefix,omitempty"`
	HomeRegion     string `json:"home_region"`
	IsMultiRegion  bool   `json:"is_multi_region"`
	IsOrganization bool   `json:"is_organization"`
}

// DiscoverTrails lists the account's CloudTrail trails. The bucket
// names here are the usual starting point for an S3 collection run.
func (c *Client) DiscoverTrails(ctx context.Context) ([]Trail, error) {
	out, err := c.cloudtrail.DescribeTrails(ctx, &cloudtrail.DescribeTrailsInput{})
	if err != nil {
		return nil, errs.Transport("awstrail.DiscoverTrails", "cloudtrail", err)
	}

	trails := make([]Trail, 0, len(out.TrailList))
	for _, t := range out.TrailList {
		trails = append(trails, Trail{
			Name:           aws.ToString(t.Name),
			S3BucketName:   aws.ToString(t.S3BucketName),
			S3KeyPrefix:    aws.ToString(t.S3KeyPrefix),
			HomeRegion:     aws.ToString(t.HomeRegion),
			IsMultiRegion:  aws.ToBool(t.IsMultiRegionTrail),
			IsOrganization: aws.ToBool(t.IsOrganizationTrail),
		})
	}

	slog.Info("discovered cloudtrail trails", "count", len(trails))
	return trails, nil
}

// Resource is one discovered account resource.
type Resource struct {
	ID     string `json:"resource_id"`
	Type   string `json:"resource_type"`
	Name   string `json:"resource_name"`
	Region string `json:"aws_region"`
}

// ResourceTypes supported by DiscoverResources.
var ResourceTypes = []string{"ec2", "s3", "iam_users", "iam_roles"}

// DiscoverResources enumerates account resources of the requested
// types. A failing type is logged and skipped so one denied API call
// does not lose the rest of the inventory.
func (c *Client) DiscoverResources(ctx context.Context, types []string) (map[string][]Resource, error) {
	if len(types) == 0 {
		types = ResourceTypes
	}

	resources := make(map[string][]Resource, len(types))
	for _, t := range types {
		var (
			found []Resource
			err   error
		)
		switch t {
		case "ec2":
			found, err = c.discoverInstances(ctx)
		case "s3":
			found, err = c.discoverBuckets(ctx)
		case "iam_users":
			found, err = c.discoverIAMUsers(ctx)
		case "iam_roles":
			found, err = c.discoverIAMRoles(ctx)
		default:
			slog.Warn("unsupported resource type, skipping", "type", t)
			continue
		}
		if err != nil {
			slog.Error("resource discovery failed, skipping type", "type", t, "error", err)
			continue
		}
		resources[t] = found
	}

	total := 0
	for _, found := range resources {
		total += len(found)
	}
	slog.Info("discovered resources", "types", len(resources), "count", total)
	return resources, nil
}

func (c *Client) discoverInstances(ctx context.Context) ([]Resource, error) {
	var resources []Resource

	paginator := ec2.NewDescribeInstancesPaginator(c.ec2, &ec2.DescribeInstancesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errs.Transport("awstrail.discoverInstances", "ec2", err)
		}

		for _, reservation := range page.Reservations {
			for _, instance := range reservation.Instances {
				id := aws.ToString(instance.InstanceId)

				name := id
				for _, tag := range instance.Tags {
					if aws.ToString(tag.Key) == "Name" {
						name = aws.ToString(tag.Value)
						break
					}
				}

				region := c.region
				if instance.Placement != nil {
					if az := aws.ToString(instance.Placement.AvailabilityZone); az != "" {
						region = az[:len(az)-1]
					}
				}

				resources = append(resources, Resource{
					ID:     id,
					Type:   "EC2",
					Name:   name,
					Region: region,
				})
			}
		}
	}

	return resources, nil
}

func (c *Client) discoverBuckets(ctx context.Context) ([]Resource, error) {
	out, err := c.s3.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, errs.Transport("awstrail.discoverBuckets", "s3", err)
	}

	resources := make([]Resource, 0, len(out.Buckets))
	for _, bucket := range out.Buckets {
		name := aws.ToString(bucket.Name)

		region := "us-east-1"
		loc, err := c.s3.GetBucketLocation(ctx, &s3.GetBucketLocationInput{
			Bucket: bucket.Name,
		})
		if err != nil {
			slog.Warn("failed to resolve bucket region", "bucket", name, "error", err)
		} else if loc.LocationConstraint != "" {
			region = string(loc.LocationConstraint)
		}

		resources = append(resources, Resource{
			ID:     name,
			Type:   "S3",
			Name:   name,
			Region: region,
		})
	}

	return resources, nil
}

func (c *Client) discoverIAMUsers(ctx context.Context) ([]Resource, error) {
	var resources []Resource

	paginator := iam.NewListUsersPaginator(c.iam, &iam.ListUsersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errs.Transport("awstrail.discoverIAMUsers", "iam", err)
		}
		for _, user := range page.Users {
			resources = append(resources, Resource{
				ID:     aws.ToString(user.UserId),
				Type:   "IAM User",
				Name:   aws.ToString(user.UserName),
				Region: "global",
			})
		}
	}

	return resources, nil
}

func (c *Client) discoverIAMRoles(ctx context.Context) ([]Resource, error) {
	var resources []Resource

	paginator := iam.NewListRolesPaginator(c.iam, &iam.ListRolesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errs.Transport("awstrail.discoverIAMRoles", "iam", err)
		}
		for _, role := range page.Roles {
			resources = append(resources, Resource{
				ID:     aws.ToString(role.RoleId),
				Type:   "IAM Role",
				Name:   aws.ToString(role.RoleName),
				Region: "global",
			})
		}
	}

	return resources, nil
}
