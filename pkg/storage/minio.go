package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// ErrUnsupportedImage is returned for avatar uploads that are not web images
var ErrUnsupportedImage = errors.New("unsupported image type")

var avatarTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// MinIOStorage keeps user avatars in a public-read bucket
type MinIOStorage struct {
	client    *minio.Client
	bucket    string
	endpoint  string
	publicURL string // External URL
	useSSL    bool
}

// Config holds MinIO connection configuration
type Config struct {
	Endpoint  string
	PublicURL string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewMinIO connects and makes sure the bucket exists
func NewMinIO(ctx context.Context, cfg Config, logger *zap.Logger) (*MinIOStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MinIO: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		logger.Info("📦 created MinIO bucket", zap.String("bucket", cfg.Bucket))

		if err := client.SetBucketPolicy(ctx, cfg.Bucket, publicReadPolicy(cfg.Bucket)); err != nil {
			logger.Warn("⚠️  failed to set bucket policy", zap.Error(err))
		}
	}

	return &MinIOStorage{
		client:    client,
		bucket:    cfg.Bucket,
		endpoint:  cfg.Endpoint,
		publicURL: cfg.PublicURL,
		useSSL:    cfg.UseSSL,
	}, nil
}

// UploadAvatar stores a profile picture under avatars/<user>/ and returns its public URL
func (s *MinIOStorage) UploadAvatar(ctx context.Context, userID uuid.UUID, r io.Reader, size int64, filename, contentType string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if contentType == "" {
		contentType = detectContentType(ext)
	}
	if !IsAvatarType(contentType) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedImage, contentType)
	}

	objectName := AvatarObjectName(userID, ext)
	_, err := s.client.PutObject(ctx, s.bucket, objectName, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}
	return s.GetPublicURL(objectName), nil
}

// Delete removes an object from the bucket
func (s *MinIOStorage) Delete(ctx context.Context, objectName string) error {
	return s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{})
}

// DeleteAvatar removes an avatar previously returned by UploadAvatar.
// URLs that do not point into this bucket, like Google profile pictures, are left alone.
func (s *MinIOStorage) DeleteAvatar(ctx context.Context, url string) error {
	objectName, ok := s.ObjectNameFromURL(url)
	if !ok {
		return nil
	}
	return s.Delete(ctx, objectName)
}

// ObjectNameFromURL maps a URL built by GetPublicURL back to its avatar object key
func (s *MinIOStorage) ObjectNameFromURL(url string) (string, bool) {
	name, ok := strings.CutPrefix(url, s.GetPublicURL(""))
	if !ok || !strings.HasPrefix(name, "avatars/") || strings.Contains(name, "..") {
		return "", false
	}
	return name, true
}

// GetPublicURL returns the public URL for an object
func (s *MinIOStorage) GetPublicURL(objectName string) string {
	if s.publicURL != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.publicURL, "/"), s.bucket, objectName)
	}

	scheme := "http"
	if s.useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.endpoint, s.bucket, objectName)
}

// AvatarObjectName gives every upload a fresh key so CDNs never serve a stale picture
func AvatarObjectName(userID uuid.UUID, ext string) string {
	return fmt.Sprintf("avatars/%s/%s%s", userID, uuid.New(), ext)
}

// IsAvatarType reports whether contentType is an accepted avatar image
func IsAvatarType(contentType string) bool {
	return avatarTypes[strings.ToLower(strings.TrimSpace(contentType))]
}

func publicReadPolicy(bucket string) string {
	return `{
		"Version": "2012-10-17",
		"Statement": [{
			"Effect": "Allow",
			"Principal": {"AWS": ["*"]},
			"Action": ["s3:GetObject"],
			"Resource": ["arn:aws:s3:::` + bucket + `/avatars/*"]
		}]
	}`
}

// detectContentType returns MIME type based on file extension
func detectContentType(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
