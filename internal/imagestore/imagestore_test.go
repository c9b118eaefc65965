package imagestore

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := Local{Dir: dir}
	ref, err := l.Save(context.Background(), "2026/04/p1.png", []byte("png"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "2026", "04", "p1.png"), ref)

	data, err := l.Load(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)
}

func TestLocalKeyCannotEscape(t *testing.T) {
	dir := t.TempDir()
	ref, err := Local{Dir: dir}.Save(context.Background(), "../../etc/p1.png", []byte("x"), "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "etc", "p1.png"), ref)

	_, err = Local{Dir: dir}.Save(context.Background(), "..", []byte("x"), "")
	assert.Error(t, err)
}

type fakeS3 struct {
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, _ := io.ReadAll(in.Body)
	f.objects[*in.Bucket+"/"+*in.Key] = data
	f.types[*in.Key] = *in.ContentType
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(f.objects[*in.Bucket+"/"+*in.Key]))}, nil
}

func TestS3RoundTrip(t *testing.T) {
	f := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	s := S3{Client: f, Bucket: "rx-images", Prefix: "/uploads/"}

	ref, err := s.Save(context.Background(), "p1.jpg", []byte("jpeg"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "s3://rx-images/uploads/p1.jpg", ref)
	assert.Equal(t, "image/jpeg", f.types["uploads/p1.jpg"])

	data, err := s.Load(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), data)

	_, err = s.Load(context.Background(), "/tmp/p1.jpg")
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	ref, err := Nop{}.Save(context.Background(), "p1.png", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "p1.png", ref)
	_, err = Nop{}.Load(context.Background(), ref)
	assert.Error(t, err)
}
