package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"example.com/backstage/services/ota/internal/apperrors"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	ref, err := store.Put(ctx, "main-1.0.0.bin", []byte("firmware"))
	require.NoError(t, err)
	require.Equal(t, "main-1.0.0.bin", ref)

	data, err := store.Get(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, []byte("firmware"), data)

	require.NoError(t, store.Delete(ctx, ref))
	require.NoError(t, store.Delete(ctx, ref))

	_, err = store.Get(ctx, ref)
	require.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestFileStoreKeepsKeysInsideRoot(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileStore(root)
	require.NoError(t, err)

	ref, err := store.Put(context.Background(), "../../etc/passwd", []byte("x"))
	require.NoError(t, err)
	require.Equal(t, "passwd", ref)

	_, err = os.Stat(filepath.Join(root, "passwd"))
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "../passwd")
	require.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileStore(root)
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "a.bin", []byte("abc"))
	require.NoError(t, err)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "a.bin", entries[0].Name())
}

type MockS3 struct {
	mock.Mock
}

func (m *MockS3) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(*s3.PutObjectOutput), args.Error(1)
}

func (m *MockS3) GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.GetObjectOutput)
	return out, args.Error(1)
}

func (m *MockS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(*s3.DeleteObjectOutput), args.Error(1)
}

func TestS3StorePutAndGet(t *testing.T) {
	client := new(MockS3)
	store := NewS3StoreWithClient(client, "fw-bucket", "firmware/")

	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return *in.Bucket == "fw-bucket" && *in.Key == "firmware/main.bin"
	})).Return(&s3.PutObjectOutput{}, nil)
	client.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return *in.Bucket == "fw-bucket" && *in.Key == "firmware/main.bin"
	})).Return(&s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader([]byte("blob")))}, nil)

	ref, err := store.Put(context.Background(), "main.bin", []byte("blob"))
	require.NoError(t, err)
	require.Equal(t, "s3://fw-bucket/firmware/main.bin", ref)

	data, err := store.Get(context.Background(), ref)
	require.NoError(t, err)
	require.Equal(t, []byte("blob"), data)

	client.AssertExpectations(t)
}

func TestS3StoreMissingObject(t *testing.T) {
	client := new(MockS3)
	store := NewS3StoreWithClient(client, "fw-bucket", "")

	client.On("GetObject", mock.Anything, mock.Anything).Return(nil, &types.NoSuchKey{})

	_, err := store.Get(context.Background(), "s3://fw-bucket/missing.bin")
	require.True(t, apperrors.IsKind(err, apperrors.KindNotFound))

	_, err = store.Get(context.Background(), "file:///tmp/x")
	require.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}
