package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Client uploads objects to one S3-compatible bucket.
type Client struct {
	mc     *minio.Client
	bucket string
	region string
}

// NewClient creates a storage client and optionally ensures the bucket exists.
func NewClient(opts ...ClientOption) (*Client, error) {
	cfg := &ClientConfig{Region: "us-east-1"}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore client: %w", err)
	}

	c := &Client{mc: mc, bucket: cfg.Bucket, region: cfg.Region}
	if cfg.CreateBucket {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.EnsureBucket(ctx); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Bucket returns the target bucket name.
func (c *Client) Bucket() string { return c.bucket }

// EnsureBucket creates the bucket if it does not exist.
func (c *Client) EnsureBucket(ctx context.Context) error {
	ok, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("bucket exists: %w", err)
	}
	if ok {
		return nil
	}
	if err := c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{Region: c.region}); err != nil {
		return fmt.Errorf("make bucket: %w", err)
	}
	return nil
}

// PutJSON uploads body as an application/json object with user metadata.
func (c *Client) PutJSON(ctx context.Context, key string, body []byte, meta map[string]string) error {
	_, err := c.mc.PutObject(ctx, c.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType:  "application/json",
		UserMetadata: meta,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// Health checks that the bucket is reachable.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.mc.BucketExists(ctx, c.bucket); err != nil {
		return fmt.Errorf("objectstore health: %w", err)
	}
	return nil
}
