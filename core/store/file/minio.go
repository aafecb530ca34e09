package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	mio "github.com/you-humble/snapchef/core/libs/minio"

	"github.com/minio/minio-go/v7"
)

type minioStore struct {
	db       *minio.Client
	bucket   string
	basePath string
}

func NewMinIOStore(ctx context.Context, cfg mio.Config) (*minioStore, error) {
	mioClient, err := mio.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	basePath := strings.Trim(cfg.BasePath, "/")
	if basePath != "" {
		basePath += "/"
	}

	return &minioStore{
		db:       mioClient,
		bucket:   cfg.Bucket,
		basePath: basePath,
	}, nil
}

func (s *minioStore) Save(
	ctx context.Context,
	reader io.Reader,
	filename string,
	size int64,
) (int64, string, error) {
	objectName, err := s.objectName(filename)
	if err != nil {
		return 0, "", err
	}

	putSize := size
	if putSize <= 0 {
		putSize = -1
	}

	hasher := sha256.New()
	info, err := s.db.PutObject(ctx, s.bucket, objectName, io.TeeReader(reader, hasher), putSize,
		minio.PutObjectOptions{ContentType: contentType(filename)})
	if err != nil {
		return 0, "", fmt.Errorf("put object: %w", err)
	}

	return info.Size, hex.EncodeToString(hasher.Sum(nil)), nil
}

func (s *minioStore) Open(ctx context.Context, filename string) (io.ReadCloser, int64, error) {
	objectName, err := s.objectName(filename)
	if err != nil {
		return nil, 0, err
	}

	obj, err := s.db.GetObject(ctx, s.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("get object: %w", err)
	}

	st, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		if minio.ToErrorResponse(err).Code == minio.NoSuchKey {
			return nil, 0, fmt.Errorf("%w: %s", ErrFileNotFound, filename)
		}
		return nil, 0, fmt.Errorf("stat object: %w", err)
	}

	return obj, st.Size, nil
}

func (s *minioStore) Delete(ctx context.Context, filename string) error {
	objectName, err := s.objectName(filename)
	if err != nil {
		return err
	}

	if err := s.db.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == minio.NoSuchKey {
			return nil
		}
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

func (s *minioStore) CleanupOlderThan(ctx context.Context, maxAge time.Duration) error {
	return s.CleanupPrefix(ctx, "", maxAge)
}

func (s *minioStore) CleanupPrefix(ctx context.Context, prefix string, maxAge time.Duration) error {
	border := time.Now().Add(-maxAge)

	objects := s.db.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.basePath + strings.TrimLeft(prefix, "/"),
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			return fmt.Errorf("list objects: %w", obj.Err)
		}
		if !obj.LastModified.Before(border) {
			continue
		}
		if err := s.db.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove object %s: %w", obj.Key, err)
		}
	}
	return nil
}

func (s *minioStore) objectName(filename string) (string, error) {
	if strings.TrimSpace(filename) == "" {
		return "", fmt.Errorf("empty filename")
	}

	clean := path.Clean(filename)
	if strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid filename: %s", filename)
	}

	return s.basePath + strings.TrimLeft(clean, "/"), nil
}

func contentType(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
