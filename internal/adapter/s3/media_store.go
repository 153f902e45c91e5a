package s3

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/foker/tgflats-sub000/internal/app/config"
	"github.com/foker/tgflats-sub000/internal/platform/logger"
)

const downloadTimeout = 20 * time.Second

// MediaStore archives a post's attached media into an object bucket. It is a
// best-effort enrichment off the persist path: a failed download or upload is
// logged and skipped, never retried by the pipeline.
type MediaStore struct {
	client *minio.Client
	bucket string
	http   *http.Client
	log    logger.Logger
}

func NewMediaStore(ctx context.Context, cfg config.MinIOConfig, log logger.Logger) (*MediaStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &MediaStore{
		client: client,
		bucket: cfg.Bucket,
		http:   &http.Client{Timeout: downloadTimeout},
		log:    log,
	}, nil
}

// Archive copies each media URL into the bucket under the post's ID.
// Returns the object keys that were stored.
func (s *MediaStore) Archive(ctx context.Context, postID string, mediaURLs []string) []string {
	stored := make([]string, 0, len(mediaURLs))
	for i, url := range mediaURLs {
		key, err := s.archiveOne(ctx, postID, i, url)
		if err != nil {
			s.log.Warnf("media archive skipped for post %s: %v", postID, err)
			continue
		}
		stored = append(stored, key)
	}
	return stored
}

func (s *MediaStore) archiveOne(ctx context.Context, postID string, idx int, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("bad media URL %q: %w", url, err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download %q: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download of %q returned status %d", url, resp.StatusCode)
	}

	ext := path.Ext(url)
	if ext == "" {
		ext = ".bin"
	}
	key := fmt.Sprintf("%s/%d%s", postID, idx, ext)

	contentType := resp.Header.Get("Content-Type")
	_, err = s.client.PutObject(ctx, s.bucket, key, resp.Body, resp.ContentLength,
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("failed to store %q: %w", key, err)
	}
	return key, nil
}
