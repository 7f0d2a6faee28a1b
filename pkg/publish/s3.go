// Package publish uploads the serialized graph to an S3-compatible bucket.
package publish

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"blockgraph/pkg/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// S3Publisher writes graph documents to a single object in a bucket
type S3Publisher struct {
	client   *minio.Client
	bucket   string
	object   string
	region   string
	logger   *zap.Logger
	initOnce sync.Once
	initErr  error
}

// Option customises an S3Publisher
type Option func(*minio.Options)

// WithTransport sets the HTTP transport used for S3 requests
func WithTransport(rt http.RoundTripper) Option {
	return func(o *minio.Options) { o.Transport = rt }
}

// NewS3Publisher creates a publisher from cfg. No request is made until
// the first Publish.
func NewS3Publisher(cfg config.PublishConfig, logger *zap.Logger, opts ...Option) (*S3Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	object := strings.TrimLeft(strings.TrimSpace(cfg.Object), "/")
	if object == "" {
		object = config.DefaultObjectName
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = config.DefaultPublishRegion
	}

	options := &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	}
	for _, opt := range opts {
		opt(options)
	}

	client, err := minio.New(endpoint, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	return &S3Publisher{
		client: client,
		bucket: bucket,
		object: object,
		region: region,
		logger: logger,
	}, nil
}

// Location returns the s3:// URI of the published object
func (p *S3Publisher) Location() string {
	return "s3://" + p.bucket + "/" + p.object
}

func (p *S3Publisher) ensureBucket(ctx context.Context) error {
	p.initOnce.Do(func() {
		exists, err := p.client.BucketExists(ctx, p.bucket)
		if err != nil {
			p.initErr = err
			return
		}
		if exists {
			return
		}
		p.logger.Info("Creating bucket", zap.String("bucket", p.bucket), zap.String("region", p.region))
		p.initErr = p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{Region: p.region})
	})
	return p.initErr
}

// Publish uploads data as the graph object, creating the bucket if needed
func (p *S3Publisher) Publish(ctx context.Context, data []byte) error {
	if err := p.ensureBucket(ctx); err != nil {
		return fmt.Errorf("failed to ensure bucket: %w", err)
	}

	info, err := p.client.PutObject(ctx, p.bucket, p.object, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to upload graph: %w", err)
	}

	p.logger.Info("Published graph",
		zap.String("bucket", p.bucket),
		zap.String("object", p.object),
		zap.Int64("size", info.Size),
		zap.String("etag", info.ETag))
	return nil
}
