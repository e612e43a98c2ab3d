package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

type S3Config struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// S3Bucket stores blobs in any S3-compatible object store.
type S3Bucket struct {
	s3     *s3.Client
	bucket string
}

func NewS3Bucket(cfg S3Config) (*S3Bucket, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("blob bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "auto"
	}

	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("blob access key and secret key are required")
	}
	awsCfg := aws.Config{
		Region: region,
		Credentials: aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			o.UsePathStyle = true
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &S3Bucket{s3: client, bucket: cfg.Bucket}, nil
}

func (b *S3Bucket) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := b.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	return err
}

func (b *S3Bucket) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := b.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrObjectNotFound
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (b *S3Bucket) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes key, reporting ErrObjectNotFound when it was absent. S3
// deletes are idempotent, so existence is checked first.
func (b *S3Bucket) Delete(ctx context.Context, key string) error {
	exists, err := b.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return ErrObjectNotFound
	}
	_, err = b.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	return err
}

// Ping checks that the bucket is reachable.
func (b *S3Bucket) Ping(ctx context.Context) error {
	_, err := b.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	return err
}

func isNotFound(err error) bool {
	var noSuchKey *s3types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *s3types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := strings.TrimSpace(apiErr.ErrorCode())
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}
