package fetch

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/imageloader/pkg/errors"
)

type fakeObjects struct {
	objects map[string][]byte
	block   bool
	lastKey string
}

func (f *fakeObjects) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.lastKey = aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	data, ok := f.objects[f.lastKey]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestParseS3URL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		bucket  string
		key     string
		wantErr bool
	}{
		{"s3://photos/cats/a.png", "photos", "cats/a.png", false},
		{"s3://photos/a.png", "photos", "a.png", false},
		{"s3://photos/", "", "", true},
		{"s3:///a.png", "", "", true},
		{"http://photos/a.png", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			bucket, key, err := ParseS3URL(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.key, key)
		})
	}
}

func TestS3Fetcher_Fetch(t *testing.T) {
	t.Parallel()

	objects := &fakeObjects{objects: map[string][]byte{"photos/a.png": []byte("png")}}
	f := NewS3Fetcher(objects, nil)

	data, err := f.Fetch(context.Background(), "s3://photos/a.png", time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)
	assert.Equal(t, "photos/a.png", objects.lastKey)

	_, err = f.Fetch(context.Background(), "s3://photos/missing.png", time.Second)
	require.Error(t, err)
	assert.True(t, errors.IsTransport(err))

	var le *errors.LoaderError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "no such key", le.Context["reason"])
}

func TestS3Fetcher_RefusesOversizedObjects(t *testing.T) {
	t.Parallel()

	objects := &fakeObjects{objects: map[string][]byte{
		"photos/small.png": bytes.Repeat([]byte("x"), 16),
		"photos/big.png":   bytes.Repeat([]byte("x"), 17),
	}}
	f := NewS3Fetcher(objects, nil)
	f.SetMaxSize(16)

	data, err := f.Fetch(context.Background(), "s3://photos/small.png", time.Second)
	require.NoError(t, err)
	assert.Len(t, data, 16)

	_, err = f.Fetch(context.Background(), "s3://photos/big.png", time.Second)
	require.Error(t, err)
	assert.True(t, errors.IsTransport(err), "got %v", err)
}

func TestS3Fetcher_Timeout(t *testing.T) {
	t.Parallel()

	f := NewS3Fetcher(&fakeObjects{block: true}, nil)
	_, err := f.Fetch(context.Background(), "s3://photos/a.png", 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err))
}

func TestS3Fetcher_BadURL(t *testing.T) {
	t.Parallel()

	f := NewS3Fetcher(&fakeObjects{}, nil)
	_, err := f.Fetch(context.Background(), "s3://only-bucket", time.Second)
	assert.True(t, errors.IsTransport(err))
}

func TestNewS3Client_StaticCredentials(t *testing.T) {
	t.Setenv("AWS_CONFIG_FILE", "/nonexistent")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", "/nonexistent")

	client, err := NewS3Client(context.Background(), S3ClientConfig{
		Region:          "us-east-1",
		Endpoint:        "http://localhost:9000",
		ForcePathStyle:  true,
		AccessKeyID:     "minio",
		SecretAccessKey: "minio123",
	})
	require.NoError(t, err)

	opts := client.Options()
	assert.Equal(t, "us-east-1", opts.Region)
	assert.True(t, opts.UsePathStyle)
	assert.Equal(t, "http://localhost:9000", aws.ToString(opts.BaseEndpoint))

	creds, err := opts.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "minio", creds.AccessKeyID)
}
