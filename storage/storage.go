// Package storage сохраняет загруженные документы во внешнем хранилище объектов.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/google/uuid"
)

// BlobStore хранит бинарные объекты по ключу
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// DocumentKey строит ключ для документа заявки
func DocumentKey(applicationID, filename string) string {
	name := sanitizeFilename(filename)
	return fmt.Sprintf("applications/%s/documents/%s-%s", applicationID, uuid.NewString(), name)
}

func sanitizeFilename(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		case r == ' ':
			return '_'
		default:
			return -1
		}
	}, name)
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}

// OSSConfig содержит параметры подключения к Aliyun OSS
type OSSConfig struct {
	Endpoint        string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
}

// OSSStore реализует BlobStore на Aliyun OSS
type OSSStore struct {
	bucket *oss.Bucket
}

// NewOSSStore подключается к бакету
func NewOSSStore(cfg OSSConfig) (*OSSStore, error) {
	if cfg.Endpoint == "" || cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("не заданы параметры OSS")
	}
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("oss.New: %w", err)
	}
	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("client.Bucket: %w", err)
	}
	return &OSSStore{bucket: bucket}, nil
}

func (s *OSSStore) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	if key == "" {
		return fmt.Errorf("пустой ключ объекта")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return s.bucket.PutObject(key, r, oss.WithContext(ctx), oss.ContentType(contentType))
}

func (s *OSSStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.bucket.GetObject(key, oss.WithContext(ctx))
}

func (s *OSSStore) Delete(ctx context.Context, key string) error {
	return s.bucket.DeleteObject(key, oss.WithContext(ctx))
}

// SignedURL выдает временную ссылку на скачивание
func (s *OSSStore) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	secs := int64(ttl / time.Second)
	if secs <= 0 {
		secs = 900
	}
	return s.bucket.SignURL(key, oss.HTTPGet, secs)
}
