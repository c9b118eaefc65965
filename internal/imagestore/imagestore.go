// Package imagestore keeps uploaded prescription images and hands back the
// reference recorded on the Prescription.
package imagestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Store saves image bytes under a key and reads them back by reference.
type Store interface {
	Save(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Load(ctx context.Context, ref string) ([]byte, error)
}

// Nop keeps nothing; the reference is the key itself.
type Nop struct{}

func (Nop) Save(_ context.Context, key string, _ []byte, _ string) (string, error) { return key, nil }
func (Nop) Load(context.Context, string) ([]byte, error) {
	return nil, errors.New("image store disabled")
}

// Local writes images below a directory.
type Local struct {
	Dir string
}

func cleanKey(key string) (string, error) {
	clean := filepath.ToSlash(filepath.Clean("/" + key))
	clean = strings.TrimPrefix(clean, "/")
	if clean == "" || clean == "." {
		return "", fmt.Errorf("invalid image key %q", key)
	}
	return clean, nil
}

func (l Local) Save(ctx context.Context, key string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	path := filepath.Join(l.Dir, filepath.FromSlash(k))
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("create image directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return path, nil
}

func (l Local) Load(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(ref)
}

// S3API is the part of *s3.Client the S3 store uses.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 stores images as private objects; references have the form
// s3://bucket/key.
type S3 struct {
	Client S3API
	Bucket string
	Prefix string
}

func (s S3) Save(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if s.Prefix != "" {
		k = strings.Trim(s.Prefix, "/") + "/" + k
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err = s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(k),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		ACL:         s3types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return "", fmt.Errorf("upload image %s: %w", k, err)
	}
	return "s3://" + s.Bucket + "/" + k, nil
}

func (s S3) Load(ctx context.Context, ref string) ([]byte, error) {
	bucket, key, ok := strings.Cut(strings.TrimPrefix(ref, "s3://"), "/")
	if !strings.HasPrefix(ref, "s3://") || !ok || key == "" {
		return nil, fmt.Errorf("not an s3 reference: %q", ref)
	}
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("download image %s: %w", ref, err)
	}
	defer func() { _ = out.Body.Close() }()
	return io.ReadAll(out.Body)
}
