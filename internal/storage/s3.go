package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/local/rangeplanner/internal/config"
)

var ErrBucketNotConfigured = errors.New("s3 bucket not configured")

// S3Client reads source documents from S3 for page counting
type S3Client struct {
	client     *s3.Client
	downloader *manager.Downloader
	bucketName string
}

// NewS3Client creates a new S3 client. Static credentials are used when both
// keys are configured, otherwise the default AWS chain applies.
func NewS3Client(ctx context.Context, cfg config.StorageConfig) (*S3Client, error) {
	var opts []func(*awscfg.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awscfg.WithRegion(cfg.S3Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	cli := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Client{
		client:     cli,
		downloader: manager.NewDownloader(cli),
		bucketName: cfg.S3Bucket,
	}, nil
}

func (s *S3Client) Bucket() string { return s.bucketName }

// Ref turns a bucket-relative key into an s3:// reference in the default bucket.
func (s *S3Client) Ref(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucketName, strings.TrimLeft(key, "/"))
}

// Download streams s3://bucket/key into w using the concurrent range downloader.
func (s *S3Client) Download(ctx context.Context, bucket, key string, w io.WriterAt) (int64, error) {
	n, err := s.downloader.Download(ctx, w, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to download s3://%s/%s: %w", bucket, key, err)
	}
	log.Debug().Str("bucket", bucket).Str("key", key).Int64("bytes", n).Msg("downloaded s3 object")
	return n, nil
}

// CheckBucket verifies the default bucket is reachable with the current credentials.
func (s *S3Client) CheckBucket(ctx context.Context) error {
	if s.bucketName == "" {
		return ErrBucketNotConfigured
	}
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucketName)})
	return err
}

// ParseS3URL splits s3://bucket/key.
func ParseS3URL(u string) (bucket, key string, err error) {
	path := strings.TrimPrefix(u, "s3://")
	if path == u {
		return "", "", fmt.Errorf("invalid s3 url: %s", u)
	}
	slash := strings.Index(path, "/")
	if slash <= 0 || slash == len(path)-1 {
		return "", "", fmt.Errorf("invalid s3 url: %s", u)
	}
	return path[:slash], path[slash+1:], nil
}
