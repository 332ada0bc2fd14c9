package publish

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/crofton-cloud/sitectl/pkg/errors"
)

// maxInvalidationPaths caps itemized invalidation paths; beyond it the whole
// distribution is invalidated with a single wildcard.
const maxInvalidationPaths = 25

// S3API is the subset of the S3 client the publisher uses.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// CloudFrontAPI is the subset of the CloudFront client the publisher uses.
type CloudFrontAPI interface {
	CreateInvalidation(ctx context.Context, params *cloudfront.CreateInvalidationInput, optFns ...func(*cloudfront.Options)) (*cloudfront.CreateInvalidationOutput, error)
}

// Destination is where the content goes.
type Destination struct {
	Bucket string
	// DistributionID enables cache invalidation after upload; empty skips it.
	DistributionID string
}

// AssetError pairs a failed asset with its upload error.
type AssetError struct {
	Asset Asset
	Err   error
}

// Report sums up a publish run.
type Report struct {
	Uploaded       int
	Skipped        int
	Failed         []AssetError
	InvalidationID string
}

// Publisher uploads assets and invalidates the CDN cache in one pass.
type Publisher struct {
	s3       S3API
	cdn      CloudFrontAPI
	metadata map[string]string
	log      zerolog.Logger
}

// NewPublisher creates a publisher. metadata is stamped onto every uploaded
// object, typically the publishing revision; nil is fine.
func NewPublisher(s3c S3API, cdn CloudFrontAPI, metadata map[string]string, log zerolog.Logger) *Publisher {
	return &Publisher{
		s3:       s3c,
		cdn:      cdn,
		metadata: metadata,
		log:      log.With().Str("component", "publish").Logger(),
	}
}

// Publish uploads the assets to the destination bucket, skipping objects
// whose content already matches, then issues a single invalidation covering
// everything that changed. A failed upload does not abort the run; failures
// accumulate in the report and surface as one error at the end, after the
// invalidation for the successful uploads has gone out.
func (p *Publisher) Publish(ctx context.Context, assets []Asset, dest Destination) (Report, error) {
	var report Report
	var changed []string

	for _, asset := range assets {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		if p.unchanged(ctx, asset, dest.Bucket) {
			report.Skipped++
			p.log.Debug().Str("key", asset.Key).Msg("content unchanged, skipping")
			continue
		}

		if err := p.upload(ctx, asset, dest.Bucket); err != nil {
			report.Failed = append(report.Failed, AssetError{Asset: asset, Err: err})
			p.log.Warn().Err(err).Str("key", asset.Key).Msg("upload failed")
			continue
		}
		report.Uploaded++
		changed = append(changed, "/"+asset.Key)
		if asset.Key == "index.html" {
			// CloudFront caches the root object under its own path.
			changed = append(changed, "/")
		}
		p.log.Info().Str("key", asset.Key).Str("content_type", asset.ContentType).Msg("uploaded")
	}

	if len(changed) > 0 && dest.DistributionID != "" {
		id, err := p.invalidate(ctx, dest.DistributionID, changed)
		if err != nil {
			return report, err
		}
		report.InvalidationID = id
	}

	if len(report.Failed) > 0 {
		keys := make([]string, len(report.Failed))
		for i, f := range report.Failed {
			keys[i] = f.Asset.Key
		}
		return report, errors.PublishPartial(dest.Bucket, report.Uploaded, keys)
	}
	return report, nil
}

// unchanged reports whether the bucket already holds this exact content. S3
// ETags equal the content MD5 only for single-part uploads, which is all this
// publisher does; a multipart ETag just means re-upload.
func (p *Publisher) unchanged(ctx context.Context, asset Asset, bucket string) bool {
	out, err := p.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(asset.Key),
	})
	if err != nil {
		return false
	}
	return strings.Trim(aws.ToString(out.ETag), `"`) == asset.Hash
}

func (p *Publisher) upload(ctx context.Context, asset Asset, bucket string) error {
	f, err := os.Open(asset.LocalPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", asset.LocalPath, err)
	}
	defer f.Close()

	input := &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(asset.Key),
		Body:        f,
		ContentType: aws.String(asset.ContentType),
	}
	if len(p.metadata) > 0 {
		input.Metadata = p.metadata
	}

	if _, err := p.s3.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", bucket, asset.Key, err)
	}
	return nil
}

// invalidate issues one batched invalidation for the changed paths,
// collapsing to a wildcard when the list gets long.
func (p *Publisher) invalidate(ctx context.Context, distributionID string, paths []string) (string, error) {
	if len(paths) > maxInvalidationPaths {
		paths = []string{"/*"}
	}

	out, err := p.cdn.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(distributionID),
		InvalidationBatch: &cftypes.InvalidationBatch{
			CallerReference: aws.String(uuid.NewString()),
			Paths: &cftypes.Paths{
				Items:    paths,
				Quantity: aws.Int32(int32(len(paths))),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to invalidate distribution %s: %w", distributionID, err)
	}

	var id string
	if out.Invalidation != nil {
		id = aws.ToString(out.Invalidation.Id)
	}
	p.log.Info().
		Str("distribution", distributionID).
		Int("paths", len(paths)).
		Str("invalidation", id).
		Msg("cache invalidation issued")
	return id, nil
}
