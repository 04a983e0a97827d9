package publish

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/assetrun/assetrun/internal/errors"
)

// DefaultRegion is used when neither the configuration nor the AWS
// environment name a region.
const DefaultRegion = "us-east-1"

// ClientConfig configures an S3 client.
type ClientConfig struct {
	// Region overrides AWS_REGION and the shared config.
	Region string

	// Profile selects a shared config profile instead of AWS_PROFILE.
	Profile string

	// Endpoint overrides the service endpoint for S3-compatible stores.
	Endpoint string

	// PathStyle addresses buckets as endpoint/bucket/key.
	PathStyle bool
}

// NewClient creates an S3 client through the default AWS credential chain:
// environment, shared config and credentials files, SSO, web identity and
// container or instance roles.
func NewClient(ctx context.Context, cfg ClientConfig) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.New(errors.CodePublish).
			WithDetail("cannot load AWS configuration").
			WithSuggestion("Check AWS_PROFILE and ~/.aws/config, or set publish.profile in assetrun.json").
			Wrap(err)
	}
	if awsCfg.Region == "" {
		awsCfg.Region = DefaultRegion
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	}), nil
}
