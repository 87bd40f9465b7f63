package objectclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/docindex/internal/config"
)

func TestNewS3Client(t *testing.T) {
	ctx := context.Background()

	t.Run("requires bucket", func(t *testing.T) {
		_, err := NewS3Client(ctx, &config.Config{AwsRegion: "us-east-2"}, nil)
		assert.ErrorContains(t, err, "bucket")
	})

	t.Run("requires region", func(t *testing.T) {
		_, err := NewS3Client(ctx, &config.Config{BucketName: "docs"}, nil)
		assert.ErrorContains(t, err, "AWS_REGION")
	})

	t.Run("static credentials", func(t *testing.T) {
		c, err := NewS3Client(ctx, &config.Config{
			BucketName:   "docs",
			AwsRegion:    "us-east-2",
			AwsAccessKey: "key",
			AwsSecretKey: "secret",
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, "s3", c.Name())
		assert.Equal(t, "docs", c.bucket)
	})
}
