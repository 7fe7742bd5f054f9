package fetch

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	neturl "net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/objectfs/imageloader/pkg/errors"
	"github.com/objectfs/imageloader/pkg/utils"
)

// ObjectGetter is the subset of the S3 client used by S3Fetcher.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3ClientConfig describes how to reach the object store.
type S3ClientConfig struct {
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style"`

	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// NewS3Client loads AWS credentials from the environment and builds a client.
func NewS3Client(ctx context.Context, cfg S3ClientConfig) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	}), nil
}

// S3Fetcher downloads s3://bucket/key URLs.
type S3Fetcher struct {
	client  ObjectGetter
	maxSize int64
	logger  *slog.Logger
}

// NewS3Fetcher creates a fetcher on top of client. Objects larger than
// DefaultMaxBodySize are refused until SetMaxSize says otherwise.
func NewS3Fetcher(client ObjectGetter, logger *slog.Logger) *S3Fetcher {
	return &S3Fetcher{client: client, maxSize: DefaultMaxBodySize, logger: utils.OrNop(logger)}
}

// SetMaxSize caps the object size in bytes. Non-positive restores the default.
func (f *S3Fetcher) SetMaxSize(n int64) {
	if n <= 0 {
		n = DefaultMaxBodySize
	}
	f.maxSize = n
}

// Fetch downloads the object named by url within timeout.
func (f *S3Fetcher) Fetch(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	bucket, key, err := ParseS3URL(url)
	if err != nil {
		return nil, errors.Transport(url, err).WithComponent("fetch").WithOperation("s3")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, f.translateError(ctx, url, err)
	}
	defer func() { _ = result.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(result.Body, f.maxSize+1))
	if err != nil {
		return nil, f.translateError(ctx, url, err)
	}
	if int64(len(data)) > f.maxSize {
		return nil, errors.Transport(url, fmt.Errorf("object exceeds %d bytes", f.maxSize)).
			WithComponent("fetch").
			WithOperation("s3").
			WithContext("reason", "too large")
	}

	f.logger.Debug("fetched object", "bucket", bucket, "key", key, "bytes", len(data))
	return data, nil
}

func (f *S3Fetcher) translateError(ctx context.Context, url string, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.Timeout(url, err).WithComponent("fetch").WithOperation("s3")
	}

	le := errors.Transport(url, err).WithComponent("fetch").WithOperation("s3")
	var noKey *s3types.NoSuchKey
	var noBucket *s3types.NoSuchBucket
	switch {
	case stderrors.As(err, &noKey):
		le.WithContext("reason", "no such key")
	case stderrors.As(err, &noBucket):
		le.WithContext("reason", "no such bucket")
	}
	return le
}

// ParseS3URL splits s3://bucket/key into its parts.
func ParseS3URL(raw string) (bucket, key string, err error) {
	u, err := neturl.Parse(raw)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("not an s3 url: %s", raw)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 url needs a bucket and a key: %s", raw)
	}
	return bucket, key, nil
}
