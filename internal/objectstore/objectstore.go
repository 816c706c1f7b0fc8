// Package objectstore wraps an S3-compatible client implementing the
// content-addressed layout s3://<bucket>/<tenant_id>/<brand_id>/<asset_id>/
// <sha256>.<ext> used for every uploaded knowledge asset.
package objectstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/memoh-platform/convoy/internal/apperr"
	"github.com/memoh-platform/convoy/internal/config"
)

type Store struct {
	client *s3.Client
	bucket string
}

func New(ctx context.Context, cfg config.ObjectStoreConfig) (*Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// Key builds the content-addressed object key for one asset.
func Key(tenantID, brandID, assetID uuid.UUID, sha256Hex, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	return path.Join(tenantID.String(), brandID.String(), assetID.String(), fmt.Sprintf("%s.%s", sha256Hex, ext))
}

// Put hashes content, stores it under its content-addressed key, and
// returns the key and hex digest so the caller can persist both on the
// KnowledgeAsset row.
func (s *Store) Put(ctx context.Context, tenantID, brandID, assetID uuid.UUID, ext string, content []byte) (objectKey, sha256Hex string, err error) {
	sum := sha256.Sum256(content)
	sha256Hex = hex.EncodeToString(sum[:])
	objectKey = Key(tenantID, brandID, assetID, sha256Hex, ext)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
		Body:   bytes.NewReader(content),
	})
	if err != nil {
		return "", "", apperr.Wrap(apperr.KindTransient, true, "object_put_failed", err)
	}
	return objectKey, sha256Hex, nil
}

// Get fetches the full object body for a stored knowledge asset.
func (s *Store) Get(ctx context.Context, objectKey string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, true, "object_get_failed", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", objectKey, err)
	}
	return data, nil
}

func (s *Store) Delete(ctx context.Context, objectKey string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "object_delete_failed", err)
	}
	return nil
}
