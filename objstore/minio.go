package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioOptions struct {
	AccessKey string
	SecretKey string
	Secure    bool
	Region    string
	PageSize  int
}

// minioAPI narrows *minio.Client so tests can substitute a fake.
type minioAPI interface {
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	GetObject(ctx context.Context, bucket, key string, opts minio.GetObjectOptions) (io.ReadCloser, error)
}

type minioClient struct {
	*minio.Client
}

func (c minioClient) GetObject(ctx context.Context, bucket, key string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	return c.Client.GetObject(ctx, bucket, key, opts)
}

// Minio is a Store backed by a MinIO server.
type Minio struct {
	client   minioAPI
	pageSize int
}

// NewMinio connects to endpoint with static credentials. Empty keys fall back
// to MINIO_ACCESS_KEY and MINIO_SECRET_KEY.
func NewMinio(endpoint string, opts MinioOptions) (*Minio, error) {
	if endpoint == "" {
		return nil, errors.New("minio endpoint is required")
	}
	accessKey := opts.AccessKey
	if accessKey == "" {
		accessKey = os.Getenv("MINIO_ACCESS_KEY")
	}
	secretKey := opts.SecretKey
	if secretKey == "" {
		secretKey = os.Getenv("MINIO_SECRET_KEY")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: opts.Secure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	m := newMinioWithAPI(minioClient{client})
	if opts.PageSize > 0 {
		m.pageSize = opts.PageSize
	}
	return m, nil
}

func newMinioWithAPI(client minioAPI) *Minio {
	return &Minio{client: client, pageSize: DefaultPageSize}
}

func (m *Minio) List(ctx context.Context, bucket, prefix string, fn func(page []Object) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	page := make([]Object, 0, m.pageSize)
	for info := range m.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return fmt.Errorf("list minio://%s/%s: %w", bucket, prefix, info.Err)
		}
		page = append(page, Object{
			Key:          info.Key,
			Size:         info.Size,
			ETag:         info.ETag,
			LastModified: info.LastModified,
		})
		if len(page) == m.pageSize {
			if err := fn(page); err != nil {
				return err
			}
			page = make([]Object, 0, m.pageSize)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(page) > 0 {
		return fn(page)
	}
	return nil
}

func (m *Minio) Read(ctx context.Context, bucket, key string, rng *ByteRange) ([]byte, error) {
	rc, err := m.Open(ctx, bucket, key, rng)
	if err != nil {
		return nil, err
	}
	data, err := readBody(rc)
	if err != nil {
		return nil, fmt.Errorf("read minio://%s/%s: %w", bucket, key, err)
	}
	return data, nil
}

func (m *Minio) Open(ctx context.Context, bucket, key string, rng *ByteRange) (io.ReadCloser, error) {
	opts := minio.GetObjectOptions{}
	if rng != nil {
		if err := rng.validate(); err != nil {
			return nil, err
		}
		if err := opts.SetRange(rng.Start, rng.End); err != nil {
			return nil, err
		}
	}
	rc, err := m.client.GetObject(ctx, bucket, key, opts)
	if err != nil {
		return nil, fmt.Errorf("get minio://%s/%s: %w", bucket, key, err)
	}
	return rc, nil
}
