package storage

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	parts     [][]byte
	completed bool
	aborted   bool
	final     []minio.CompletePart
}

func (f *fakeS3) NewMultipartUpload(_ context.Context, _, _ string, _ minio.PutObjectOptions) (string, error) {
	return "upload-1", nil
}

func (f *fakeS3) PutObjectPart(_ context.Context, _, _, _ string, partID int, data io.Reader, size int64, _ minio.PutObjectPartOptions) (minio.ObjectPart, error) {
	b, err := io.ReadAll(data)
	if err != nil {
		return minio.ObjectPart{}, err
	}
	if int64(len(b)) != size {
		return minio.ObjectPart{}, fmt.Errorf("size mismatch: %d != %d", len(b), size)
	}
	f.parts = append(f.parts, b)
	return minio.ObjectPart{PartNumber: partID, ETag: fmt.Sprintf("etag-%d", partID)}, nil
}

func (f *fakeS3) CompleteMultipartUpload(_ context.Context, _, _, _ string, parts []minio.CompletePart, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	f.completed = true
	f.final = parts
	return minio.UploadInfo{}, nil
}

func (f *fakeS3) AbortMultipartUpload(_ context.Context, _, _, _ string) error {
	f.aborted = true
	return nil
}

func newTestUpload(api multipartAPI) *MultipartUpload {
	return newMultipartUpload(api, "s3.local", "recordings", "interviews/r1/r1.webm", "video/webm")
}

func fill(n int, b byte) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func TestPartBuffering(t *testing.T) {
	ctx := context.Background()
	s3 := &fakeS3{}
	u := newTestUpload(s3)
	require.NoError(t, u.Start(ctx))

	// 4MB then 2MB with a 5MB threshold: exactly one full part uploaded,
	// 1MB left buffered.
	require.NoError(t, u.Write(ctx, fill(4*1024*1024, 'a')))
	assert.Empty(t, s3.parts)
	require.NoError(t, u.Write(ctx, fill(2*1024*1024, 'b')))
	require.Len(t, s3.parts, 1)
	assert.Len(t, s3.parts[0], MinPartSize)

	url, err := u.Complete(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://s3.local/recordings/interviews/r1/r1.webm", url)
	require.Len(t, s3.parts, 2)
	assert.Len(t, s3.parts[1], 1024*1024)

	// Concatenation of all uploaded parts equals the 6MB written.
	var all []byte
	for _, p := range s3.parts {
		all = append(all, p...)
	}
	want := append(fill(4*1024*1024, 'a'), fill(2*1024*1024, 'b')...)
	assert.Equal(t, want, all)

	assert.True(t, s3.completed)
	require.Len(t, s3.final, 2)
	assert.Equal(t, 1, s3.final[0].PartNumber)
	assert.Equal(t, 2, s3.final[1].PartNumber)
}

func TestWriteSpanningMultipleParts(t *testing.T) {
	ctx := context.Background()
	s3 := &fakeS3{}
	u := newTestUpload(s3)
	require.NoError(t, u.Start(ctx))

	require.NoError(t, u.Write(ctx, fill(11*1024*1024, 'x')))
	assert.Len(t, s3.parts, 2)

	_, err := u.Complete(ctx)
	require.NoError(t, err)
	assert.Len(t, s3.parts, 3)
}

func TestCompleteWithNoParts(t *testing.T) {
	ctx := context.Background()
	s3 := &fakeS3{}
	u := newTestUpload(s3)
	require.NoError(t, u.Start(ctx))

	_, err := u.Complete(ctx)
	assert.ErrorIs(t, err, ErrNoParts)
	assert.False(t, s3.completed)

	require.NoError(t, u.Abort(ctx))
	assert.True(t, s3.aborted)
}

func TestAbortBeforeStart(t *testing.T) {
	s3 := &fakeS3{}
	u := newTestUpload(s3)
	require.NoError(t, u.Abort(context.Background()))
	assert.False(t, s3.aborted)
}
