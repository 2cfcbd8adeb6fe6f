// Package archive exports reverted campaigns to object storage for audit.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/utafrali/pricing-engine/internal/domain"
)

// Config selects the bucket and, for S3-compatible stores such as MinIO, the
// endpoint. Empty credentials use the default AWS chain.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
	HTTPClient      *http.Client
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Exporter writes one JSON document per archived campaign.
type S3Exporter struct {
	client objectPutter
	bucket string
}

// NewS3Exporter builds an exporter from cfg.
func NewS3Exporter(ctx context.Context, cfg Config) (*S3Exporter, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("archive bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	if cfg.HTTPClient != nil {
		loadOpts = append(loadOpts, awsconfig.WithHTTPClient(cfg.HTTPClient))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		// MinIO and older gateways reject the default flexible checksums.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})
	return &S3Exporter{client: client, bucket: cfg.Bucket}, nil
}

// Key returns the object key of an archived campaign.
func Key(a *domain.ArchivedCampaign) string {
	return fmt.Sprintf("campaigns/%04d/%s.json", a.RevertedAt.UTC().Year(), a.ID)
}

// Export uploads a as campaigns/<year>/<id>.json. Re-exporting overwrites.
func (e *S3Exporter) Export(ctx context.Context, a *domain.ArchivedCampaign) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal archived campaign: %w", err)
	}

	key := Key(a)
	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(e.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/json"),
		Metadata:      map[string]string{"campaign-id": a.ID},
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}
