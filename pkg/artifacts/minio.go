package artifacts

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/patternlab/checker/pkg/config"
)

// maxReviewSize caps how much review text is read from storage (1MB).
const maxReviewSize = 1 << 20

// MinioStore fetches review artifacts from a MinIO (or S3-compatible) bucket.
// The review worker writes objects named "{correlationID}/review.txt".
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to the object store described by the config.
func NewMinioStore(cfg config.MinioConfig) (*MinioStore, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("artifacts: minio endpoint is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		bucket = "reviews"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}

	return &MinioStore{client: client, bucket: bucket}, nil
}

// FetchReview implements Store.
func (s *MinioStore) FetchReview(ctx context.Context, correlationID string) (string, error) {
	objectName := fmt.Sprintf("%s/review.txt", correlationID)

	obj, err := s.client.GetObject(ctx, s.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return "", err
	}
	defer obj.Close()

	data, err := io.ReadAll(io.LimitReader(obj, maxReviewSize))
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
			return "", ErrNotFound
		}
		return "", err
	}
	return string(data), nil
}
