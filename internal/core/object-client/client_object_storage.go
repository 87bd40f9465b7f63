package objectclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/markdave123-py/docindex/internal/config"
	"github.com/markdave123-py/docindex/internal/core"
)

const (
	transferTimeout = 2 * time.Minute
	controlTimeout  = 30 * time.Second
)

// S3Client keeps uploaded source files in one bucket so interrupted
// ingestions can re-read them.
type S3Client struct {
	api      *s3.Client
	uploader *manager.Uploader
	bucket   string
	log      *slog.Logger
}

var _ core.ObjectClient = (*S3Client)(nil)

// NewS3Client builds a client for cfg.BucketName. Static credentials are
// used when both keys are set, otherwise the default AWS chain applies.
func NewS3Client(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*S3Client, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("object storage: bucket name not set")
	}
	if cfg.AwsRegion == "" {
		return nil, errors.New("object storage: AWS_REGION not set")
	}
	if logger == nil {
		logger = slog.Default()
	}

	loaders := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AwsRegion)}
	if cfg.AwsAccessKey != "" && cfg.AwsSecretKey != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AwsAccessKey, cfg.AwsSecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("object storage: load aws config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg)
	logger.Info("object storage configured", "bucket", cfg.BucketName, "region", cfg.AwsRegion)
	return &S3Client{
		api:      api,
		uploader: manager.NewUploader(api),
		bucket:   cfg.BucketName,
		log:      logger,
	}, nil
}

func (c *S3Client) Name() string { return "s3" }

// Ping checks the bucket exists and is reachable with the configured
// credentials.
func (c *S3Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, controlTimeout)
	defer cancel()
	_, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	return err
}

// UploadFile streams data under key and returns its s3:// location.
func (c *S3Client) UploadFile(ctx context.Context, key string, data io.Reader, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, transferTimeout)
	defer cancel()

	in := &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   data,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := c.uploader.Upload(ctx, in); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	c.log.Debug("object stored", "key", key)
	return fmt.Sprintf("s3://%s/%s", c.bucket, key), nil
}

// GetFile reads the whole object. Unknown keys yield ErrObjectNotFound.
func (c *S3Client) GetFile(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, transferTimeout)
	defer cancel()

	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return body, nil
}

// DeleteFile removes key. Deleting a missing key is not an error in S3.
func (c *S3Client) DeleteFile(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, controlTimeout)
	defer cancel()

	if _, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
