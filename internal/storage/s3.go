// Package storage keeps scan images and their thumbnails in an
// S3-compatible bucket.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/VinByte365/Project-Pamada-sub000/internal/apperr"
	"github.com/VinByte365/Project-Pamada-sub000/internal/config"
	"github.com/VinByte365/Project-Pamada-sub000/internal/models"
)

// ObjectAPI is the subset of the S3 client used here.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store stores images under scans/<user>/<id><ext> with a JPEG thumbnail
// next to each.
type S3Store struct {
	api           ObjectAPI
	bucket        string
	publicBaseURL string
	thumbnailSize int
	maxPixels     int
	logger        *zap.Logger
}

// NewS3Client builds an S3 client from the storage configuration. Static
// credentials are used when both keys are set; otherwise the default AWS
// credential chain applies.
func NewS3Client(ctx context.Context, cfg config.StorageConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// NewS3Store creates a store over api.
func NewS3Store(api ObjectAPI, cfg config.StorageConfig, logger *zap.Logger) *S3Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		switch {
		case cfg.Endpoint != "":
			base = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
		default:
			base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}
	return &S3Store{
		api:           api,
		bucket:        cfg.Bucket,
		publicBaseURL: base,
		thumbnailSize: cfg.ThumbnailSize,
		maxPixels:     cfg.MaxImagePixels,
		logger:        logger,
	}
}

// Upload stores the original image and a thumbnail and returns a reference
// to both. The original is removed again if the thumbnail cannot be stored.
func (s *S3Store) Upload(ctx context.Context, userID uuid.UUID, data []byte) (*models.ImageRef, error) {
	contentType, ext, err := Sniff(data)
	if err != nil {
		return nil, err
	}
	thumb, width, height, err := Thumbnail(data, s.thumbnailSize, s.maxPixels)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	key := fmt.Sprintf("scans/%s/%s%s", userID, id, ext)
	thumbKey := ThumbnailKey(key)

	if err := s.put(ctx, key, contentType, data); err != nil {
		return nil, err
	}
	if err := s.put(ctx, thumbKey, "image/jpeg", thumb); err != nil {
		s.deleteQuietly(ctx, key)
		return nil, err
	}

	s.logger.Debug("stored scan image",
		zap.String("key", key),
		zap.Int("size", len(data)),
		zap.Int("width", width),
		zap.Int("height", height),
	)

	return &models.ImageRef{
		OriginalURL:  s.URL(key),
		ThumbnailURL: s.URL(thumbKey),
		StorageKey:   key,
		ContentType:  contentType,
		FileSize:     int64(len(data)),
		Width:        width,
		Height:       height,
	}, nil
}

// Fetch returns the bytes of the object stored under key.
func (s *S3Store) Fetch(ctx context.Context, key string) ([]byte, error) {
	const op = "storage.Fetch"
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, apperr.NotFound(op, "image %s not found", key)
		}
		return nil, apperr.Wrap(apperr.KindServiceUnavailable, op, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindServiceUnavailable, op, fmt.Errorf("read %s: %w", key, err))
	}
	return data, nil
}

// Delete removes the image stored under key and its thumbnail.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	var errs []error
	for _, k := range []string{key, ThumbnailKey(key)} {
		if _, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(k),
		}); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}

// URL returns the public URL of key.
func (s *S3Store) URL(key string) string {
	return s.publicBaseURL + "/" + key
}

// ThumbnailKey derives the thumbnail key from an original's key.
func ThumbnailKey(key string) string {
	if i := strings.LastIndex(key, "."); i > strings.LastIndex(key, "/") {
		key = key[:i]
	}
	return key + "_thumb.jpg"
}

func (s *S3Store) put(ctx context.Context, key, contentType string, data []byte) error {
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return apperr.Wrap(apperr.KindServiceUnavailable, "storage.Upload", fmt.Errorf("put %s: %w", key, err))
	}
	return nil
}

func (s *S3Store) deleteQuietly(ctx context.Context, key string) {
	if _, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		s.logger.Warn("failed to remove orphaned image", zap.String("key", key), zap.Error(err))
	}
}
