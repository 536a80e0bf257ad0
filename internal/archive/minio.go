package archive

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/notifyhub/creator-relay/internal/domain"
)

// Config holds MinIO connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioArchive keeps a copy of every retrieved payload.
type MinioArchive struct {
	client *minio.Client
	bucket string
}

func New(cfg Config) (*MinioArchive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioArchive{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the archive bucket when it does not exist yet.
func (a *MinioArchive) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", a.bucket, err)
	}
	return nil
}

// Store uploads each payload as jobs/<job id>/<index><ext>.
func (a *MinioArchive) Store(ctx context.Context, jobID string, res *domain.DownloadResult) error {
	if !res.HasPayload() {
		return nil
	}
	for i, p := range res.Payloads {
		ct, ext := domain.SniffMedia(res.MediaKind, p)
		key := ObjectKey(jobID, i, ext)
		_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(p), int64(len(p)), minio.PutObjectOptions{
			ContentType: ct,
			UserMetadata: map[string]string{
				"source-url": sourceURL(res, i),
			},
		})
		if err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
	}
	return nil
}

// ObjectKey names the archived object for one payload.
func ObjectKey(jobID string, index int, ext string) string {
	return fmt.Sprintf("jobs/%s/%02d%s", jobID, index, ext)
}

func sourceURL(res *domain.DownloadResult, i int) string {
	if i < len(res.SourceURLs) {
		return res.SourceURLs[i]
	}
	if len(res.SourceURLs) > 0 {
		return res.SourceURLs[0]
	}
	return ""
}
