package service

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// S3Options locates one bucket. Endpoint is set for S3-compatible stores
// such as MinIO and switches to path-style addressing.
type S3Options struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
}

// S3Service stores objects in a single bucket. Covers and backups each get
// their own instance.
type S3Service struct {
	client *s3.Client
	opts   S3Options
}

func NewS3Service(ctx context.Context, o S3Options) (*S3Service, error) {
	if o.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	loaders := []func(*config.LoadOptions) error{config.WithRegion(o.Region)}
	if o.AccessKeyID != "" && o.SecretAccessKey != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.AccessKeyID, o.SecretAccessKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(cfg, func(so *s3.Options) {
		if o.Endpoint != "" {
			so.BaseEndpoint = aws.String(o.Endpoint)
			so.UsePathStyle = true
		}
	})
	return &S3Service{client: client, opts: o}, nil
}

// Upload stores body under prefix with a fresh uuid name that keeps the
// original extension, and returns the object key.
func (s *S3Service) Upload(ctx context.Context, prefix, originalFilename string, body io.Reader, contentType string) (string, error) {
	key := prefix + uuid.NewString() + strings.ToLower(filepath.Ext(originalFilename))
	if err := s.Put(ctx, key, body, contentType); err != nil {
		return "", err
	}
	return key, nil
}

// Put writes body to key, replacing any existing object.
func (s *S3Service) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.opts.Bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	return err
}

func (s *S3Service) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	})
	return err
}

// Get returns the object body. Caller must close it.
func (s *S3Service) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

// URL is the public address of key, virtual-hosted on AWS and path-style on
// a custom endpoint.
func (s *S3Service) URL(key string) string {
	return ObjectURL(s.opts, key)
}

func ObjectURL(o S3Options, key string) string {
	if o.Endpoint != "" {
		return strings.TrimRight(o.Endpoint, "/") + "/" + o.Bucket + "/" + key
	}
	return "https://" + o.Bucket + ".s3." + o.Region + ".amazonaws.com/" + key
}
