package storage

import (
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-logr/logr"
	"kubegems.io/airlock/pkg/errors"
)

type S3Options struct {
	URL       string `json:"url" mapstructure:"url"`
	Region    string `json:"region" mapstructure:"region"`
	AccessKey string `json:"accessKey" mapstructure:"accessKey"`
	SecretKey string `json:"secretKey" mapstructure:"secretKey"`
	PathStyle bool   `json:"pathStyle" mapstructure:"pathStyle"`
	// Prefix is prepended to every object key.
	Prefix   string `json:"prefix" mapstructure:"prefix"`
	PartSize int64  `json:"partSize" mapstructure:"partSize"`
}

func NewDefaultS3Options() *S3Options {
	return &S3Options{
		URL:       "",
		Region:    "us-east-1",
		AccessKey: "",
		SecretKey: "",
		PathStyle: true,
		Prefix:    "",
		PartSize:  manager.DefaultUploadPartSize,
	}
}

// NewS3Client uses static credentials when both keys are set and the default
// credential chain otherwise.
func NewS3Client(ctx context.Context, options *S3Options) (*s3.Client, error) {
	loadOptions := []func(*config.LoadOptions) error{
		config.WithRegion(options.Region),
	}
	if options.AccessKey != "" && options.SecretKey != "" {
		loadOptions = append(loadOptions, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(options.AccessKey, options.SecretKey, ""),
		))
	}
	if options.URL != "" {
		loadOptions = append(loadOptions, config.WithEndpointResolverWithOptions(
			aws.EndpointResolverWithOptionsFunc(
				func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{URL: options.URL, HostnameImmutable: options.PathStyle}, nil
				},
			),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = options.PathStyle
	}), nil
}

var _ Sink = &S3Sink{}

type S3Sink struct {
	Client   manager.UploadAPIClient
	Prefix   string
	PartSize int64
}

func NewS3Sink(client manager.UploadAPIClient, options *S3Options) *S3Sink {
	return &S3Sink{Client: client, Prefix: options.Prefix, PartSize: options.PartSize}
}

func (s *S3Sink) Put(ctx context.Context, obj Object) error {
	log := logr.FromContextOrDiscard(ctx).WithValues("bucket", obj.Bucket, "key", obj.Key)

	body, err := obj.Open()
	if err != nil {
		return errors.NewPermanentStorageError("open", obj.Bucket, obj.Key, err)
	}
	defer body.Close()

	uploadobj := &s3.PutObjectInput{
		Bucket:   aws.String(obj.Bucket),
		Key:      s.prefixedKey(obj.Key),
		Body:     body,
		Metadata: obj.Metadata,
	}
	if obj.ContentType != "" {
		uploadobj.ContentType = aws.String(obj.ContentType)
	}
	if obj.Size > 0 {
		uploadobj.ContentLength = obj.Size
	}
	uploader := manager.NewUploader(s.Client, func(u *manager.Uploader) {
		if s.PartSize >= manager.MinUploadPartSize {
			u.PartSize = s.PartSize
		}
	})
	out, err := uploader.Upload(ctx, uploadobj)
	if err != nil {
		return Classify("put", obj.Bucket, obj.Key, err)
	}
	log.V(1).Info("uploaded object", "location", out.Location, "size", obj.Size)
	return nil
}

func (s *S3Sink) prefixedKey(key string) *string {
	return aws.String(path.Join(s.Prefix, key))
}
