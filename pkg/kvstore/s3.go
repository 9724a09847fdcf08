package kvstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3API is the subset of the S3 client the store needs.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Config describes the bucket backing an S3 store.
type S3Config struct {
	Bucket         string `env:"KV_S3_BUCKET"`
	Prefix         string `env:"KV_S3_PREFIX" envDefault:"entitlements/"`
	Region         string `env:"KV_S3_REGION" envDefault:"us-east-1"`
	AccessKeyID    string `env:"KV_S3_ACCESS_KEY_ID"`
	SecretKey      string `env:"KV_S3_SECRET_KEY"`
	Endpoint       string `env:"KV_S3_ENDPOINT"`                        // S3-compatible services
	ForcePathStyle bool   `env:"KV_S3_FORCE_PATH_STYLE" envDefault:"false"` // MinIO and friends
}

// S3 stores each key as an object under a common prefix.
type S3 struct {
	client     S3API
	bucket     string
	prefix     string
	maxRetries int
}

// NewS3Client builds an S3 client from cfg using the default AWS credential
// chain unless static keys are provided.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, fmt.Errorf("%w: bucket and region are required", ErrStorage)
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Join(ErrStorage, err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	}), nil
}

func NewS3(client S3API, bucket, prefix string) *S3 {
	if client == nil {
		panic("kvstore: s3 client is required")
	}
	return &S3{client: client, bucket: bucket, prefix: prefix, maxRetries: defaultMaxRetries}
}

func (s *S3) get(ctx context.Context, key string) (body []byte, etag *string, err error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + key),
	})
	if isS3NotFound(err) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, errors.Join(ErrStorage, err)
	}
	defer out.Body.Close()

	body, err = io.ReadAll(out.Body)
	if err != nil {
		return nil, nil, errors.Join(ErrStorage, err)
	}
	return body, out.ETag, nil
}

func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	body, _, err := s.get(ctx, key)
	return body, err
}

func (s *S3) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.prefix + key),
		Body:        bytes.NewReader(value),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return errors.Join(ErrStorage, err)
	}
	return nil
}

func (s *S3) Remove(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + key),
	})
	if err != nil && !isS3NotFound(err) {
		return errors.Join(ErrStorage, err)
	}
	return nil
}

// Update writes with If-Match on the ETag that was read, or If-None-Match: *
// when the object did not exist. A failed precondition restarts the cycle.
func (s *S3) Update(ctx context.Context, key string, fn MutateFunc) ([]byte, error) {
	for range s.maxRetries {
		cur, etag, err := s.get(ctx, key)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}

		next, err := fn(clone(cur))
		if err != nil {
			return nil, err
		}
		if skipWrite(cur, next) {
			return cur, nil
		}

		in := &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(s.prefix + key),
			Body:        bytes.NewReader(next),
			ContentType: aws.String("application/json"),
		}
		if etag != nil {
			in.IfMatch = etag
		} else {
			in.IfNoneMatch = aws.String("*")
		}

		_, err = s.client.PutObject(ctx, in)
		if isS3PreconditionFailed(err) {
			continue
		}
		if err != nil {
			return nil, errors.Join(ErrStorage, err)
		}
		return next, nil
	}
	return nil, ErrConflict
}

func (s *S3) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix + prefix),
	}
	for {
		out, err := s.client.ListObjectsV2(ctx, in)
		if err != nil {
			return nil, errors.Join(ErrStorage, err)
		}
		for _, obj := range out.Contents {
			keys = append(keys, strings.TrimPrefix(aws.ToString(obj.Key), s.prefix))
		}
		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			return keys, nil
		}
		in.ContinuationToken = out.NextContinuationToken
	}
}

func isS3NotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound")
}

func isS3PreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	return false
}
