// Package storage provides the chunked write sink the recorder streams
// into: an S3 multipart upload that buffers until a full part is available
// and flushes parts in order.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog/log"
)

// MinPartSize is the smallest part S3 accepts for all parts but the last.
const MinPartSize = 5 * 1024 * 1024

// ErrNoParts is returned by Complete when nothing was ever written; an
// empty multipart upload cannot be finalized and must be aborted instead.
var ErrNoParts = errors.New("multipart upload has no parts")

// multipartAPI is the slice of the S3 API the uploader needs. *minio.Core
// satisfies it; tests substitute a fake.
type multipartAPI interface {
	NewMultipartUpload(ctx context.Context, bucket, object string, opts minio.PutObjectOptions) (string, error)
	PutObjectPart(ctx context.Context, bucket, object, uploadID string, partID int, data io.Reader, size int64, opts minio.PutObjectPartOptions) (minio.ObjectPart, error)
	CompleteMultipartUpload(ctx context.Context, bucket, object, uploadID string, parts []minio.CompletePart, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	AbortMultipartUpload(ctx context.Context, bucket, object, uploadID string) error
}

// MultipartUpload streams an object to S3 as ordered parts. Write never
// blocks on the remote beyond the part flushes it triggers; partial data
// stays buffered until Complete.
type MultipartUpload struct {
	api         multipartAPI
	bucket      string
	key         string
	contentType string
	endpoint    string
	partSize    int

	uploadID string
	partNum  int
	parts    []minio.CompletePart
	buf      []byte
}

// NewMultipartUpload builds an uploader for bucket/key. endpoint is only
// used to render the final object URL.
func NewMultipartUpload(core *minio.Core, endpoint, bucket, key, contentType string) *MultipartUpload {
	return newMultipartUpload(core, endpoint, bucket, key, contentType)
}

func newMultipartUpload(api multipartAPI, endpoint, bucket, key, contentType string) *MultipartUpload {
	return &MultipartUpload{
		api:         api,
		bucket:      bucket,
		key:         key,
		contentType: contentType,
		endpoint:    endpoint,
		partSize:    MinPartSize,
		partNum:     1,
	}
}

// Start opens the upload handle.
func (u *MultipartUpload) Start(ctx context.Context) error {
	id, err := u.api.NewMultipartUpload(ctx, u.bucket, u.key, minio.PutObjectOptions{ContentType: u.contentType})
	if err != nil {
		return fmt.Errorf("create multipart upload: %w", err)
	}
	u.uploadID = id
	log.Debug().Str("module", "storage").Str("key", u.key).Str("upload_id", id).Msg("multipart upload started")
	return nil
}

// Write appends to the internal buffer and flushes every complete part.
func (u *MultipartUpload) Write(ctx context.Context, data []byte) error {
	u.buf = append(u.buf, data...)
	for len(u.buf) >= u.partSize {
		if err := u.flushPart(ctx, u.buf[:u.partSize]); err != nil {
			return err
		}
		u.buf = u.buf[u.partSize:]
	}
	return nil
}

func (u *MultipartUpload) flushPart(ctx context.Context, data []byte) error {
	part, err := u.api.PutObjectPart(ctx, u.bucket, u.key, u.uploadID, u.partNum,
		bytes.NewReader(data), int64(len(data)), minio.PutObjectPartOptions{})
	if err != nil {
		return fmt.Errorf("upload part %d: %w", u.partNum, err)
	}
	u.parts = append(u.parts, minio.CompletePart{PartNumber: part.PartNumber, ETag: part.ETag})
	u.partNum++
	return nil
}

// Complete flushes the remaining partial buffer as the final part and
// finalizes the upload, returning the object URL. With zero parts raised it
// returns ErrNoParts; the caller must Abort instead.
func (u *MultipartUpload) Complete(ctx context.Context) (string, error) {
	if len(u.buf) > 0 {
		if err := u.flushPart(ctx, u.buf); err != nil {
			return "", err
		}
		u.buf = nil
	}
	if len(u.parts) == 0 {
		return "", ErrNoParts
	}
	if _, err := u.api.CompleteMultipartUpload(ctx, u.bucket, u.key, u.uploadID, u.parts, minio.PutObjectOptions{}); err != nil {
		return "", fmt.Errorf("complete multipart upload: %w", err)
	}
	url := fmt.Sprintf("https://%s/%s/%s", u.endpoint, u.bucket, u.key)
	log.Info().Str("module", "storage").Str("key", u.key).Int("parts", len(u.parts)).Msg("multipart upload complete")
	return url, nil
}

// Abort releases the upload handle. Safe to call when Start never ran.
func (u *MultipartUpload) Abort(ctx context.Context) error {
	if u.uploadID == "" {
		return nil
	}
	if err := u.api.AbortMultipartUpload(ctx, u.bucket, u.key, u.uploadID); err != nil {
		return fmt.Errorf("abort multipart upload: %w", err)
	}
	return nil
}
