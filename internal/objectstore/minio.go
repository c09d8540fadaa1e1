// Package objectstore fetches import workbooks from a MinIO bucket.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/vanshika/wastelca/internal/config"
)

// ErrImportNotFound is returned when no import file exists for a scope.
var ErrImportNotFound = errors.New("import file not found")

// NewMinIOClient builds a client from config.
func NewMinIOClient(cfg config.ObjectStoreConfig) (*minio.Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("object store endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("object store bucket is required")
	}
	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Transport: newTransport(),
	}
	return minio.New(cfg.Endpoint, opts)
}

// CheckBucket verifies the import bucket exists.
func CheckBucket(ctx context.Context, client *minio.Client, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("import bucket exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("import bucket missing: %s", bucket)
	}
	return nil
}

// objectOpener is the part of the MinIO API the import source needs.
type objectOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

type minioOpener struct {
	client *minio.Client
	bucket string
}

func (m minioOpener) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if _, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{}); err != nil {
		return nil, err
	}
	return m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
}

// ImportSource resolves import workbooks by organization and period.
type ImportSource struct {
	objects objectOpener
}

// NewImportSource reads import files from bucket.
func NewImportSource(client *minio.Client, bucket string) *ImportSource {
	return &ImportSource{objects: minioOpener{client: client, bucket: bucket}}
}

// Open returns the workbook for a scope. The caller closes the reader.
func (s *ImportSource) Open(ctx context.Context, org string, year, month int) (io.ReadCloser, error) {
	key, err := ObjectKey(org, year, month)
	if err != nil {
		return nil, err
	}
	rc, err := s.objects.Open(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrImportNotFound, key)
		}
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	return rc, nil
}

// ObjectKey returns imports/<ORG>/<YYYY>/<MM>.xlsx, or imports/<ORG>/<YYYY>.xlsx
// when month is zero.
func ObjectKey(org string, year, month int) (string, error) {
	if org == "" {
		return "", errors.New("organization code is required")
	}
	if year <= 0 {
		return "", errors.New("year is required")
	}
	if month < 0 || month > 12 {
		return "", fmt.Errorf("month must be between 1 and 12, got %d", month)
	}
	if month == 0 {
		return fmt.Sprintf("imports/%s/%04d.xlsx", org, year), nil
	}
	return fmt.Sprintf("imports/%s/%04d/%02d.xlsx", org, year, month), nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
