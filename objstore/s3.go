package objstore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of the S3 client used by the S3 store.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type S3Options struct {
	Region      string
	Endpoint    string
	PathStyle   bool
	MaxAttempts int
	PageSize    int
}

// S3 is a Store backed by Amazon S3 or any S3-compatible endpoint.
type S3 struct {
	client   S3API
	pageSize int32
}

// NewS3 builds a client from the SDK default credential chain.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if opts.Region != "" {
		cfg.Region = opts.Region
	} else if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if opts.MaxAttempts > 0 {
		cfg.RetryMaxAttempts = opts.MaxAttempts
	}

	var s3Opts []func(*s3.Options)
	if opts.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		})
	}
	if opts.PathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	store := NewS3WithClient(s3.NewFromConfig(cfg, s3Opts...))
	if opts.PageSize > 0 {
		store.pageSize = int32(opts.PageSize)
	}
	return store, nil
}

// NewS3WithClient wraps an existing client, mainly for tests.
func NewS3WithClient(client S3API) *S3 {
	return &S3{client: client, pageSize: DefaultPageSize}
}

func (s *S3) List(ctx context.Context, bucket, prefix string, fn func(page []Object) error) error {
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		MaxKeys: aws.Int32(s.pageSize),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		out, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list s3://%s/%s: %w", bucket, prefix, err)
		}
		if len(out.Contents) == 0 {
			continue
		}
		page := make([]Object, 0, len(out.Contents))
		for _, obj := range out.Contents {
			page = append(page, Object{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				ETag:         strings.Trim(aws.ToString(obj.ETag), `"`),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
		if err := fn(page); err != nil {
			return err
		}
	}
	return nil
}

func (s *S3) Read(ctx context.Context, bucket, key string, rng *ByteRange) ([]byte, error) {
	rc, err := s.Open(ctx, bucket, key, rng)
	if err != nil {
		return nil, err
	}
	data, err := readBody(rc)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}
	return data, nil
}

func (s *S3) Open(ctx context.Context, bucket, key string, rng *ByteRange) (io.ReadCloser, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if rng != nil {
		if err := rng.validate(); err != nil {
			return nil, err
		}
		input.Range = aws.String(rng.header())
	}
	out, err := s.client.GetObject(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}
