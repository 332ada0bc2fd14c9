// Package awsconfig builds the AWS service clients shared by a deployment run.
package awsconfig

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/acm"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// CertificateRegion is where CloudFront looks up ACM certificates. The ACM
// client is always pinned here regardless of the deployment region.
const CertificateRegion = "us-east-1"

// Options selects the AWS account and region for a run.
type Options struct {
	Region  string
	Profile string
	// Explicit credentials for environments without a shared config file.
	AccessKey string
	SecretKey string
}

// Load resolves the AWS configuration for a run.
func Load(ctx context.Context, opts Options) (aws.Config, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}

	// Support explicit credentials
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}

// Clients bundles the service clients a deployment run uses. Build one per
// run and pass it down explicitly.
type Clients struct {
	Route53        *route53.Client
	ACM            *acm.Client
	CloudFormation *cloudformation.Client
	S3             *s3.Client
	CloudFront     *cloudfront.Client
	KMS            *kms.Client
	SecretsManager *secretsmanager.Client
}

// NewClients constructs the service clients from a resolved configuration.
func NewClients(cfg aws.Config) *Clients {
	acmCfg := cfg.Copy()
	acmCfg.Region = CertificateRegion

	return &Clients{
		Route53:        route53.NewFromConfig(cfg),
		ACM:            acm.NewFromConfig(acmCfg),
		CloudFormation: cloudformation.NewFromConfig(cfg),
		S3:             s3.NewFromConfig(cfg),
		CloudFront:     cloudfront.NewFromConfig(cfg),
		KMS:            kms.NewFromConfig(cfg),
		SecretsManager: secretsmanager.NewFromConfig(cfg),
	}
}
