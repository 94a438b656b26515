package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"labReport/internal/config"
)

// errStopWalk 由 walk 的回调返回以提前结束遍历。
var errStopWalk = errors.New("stop walk")

// Client 是 MinIO/S3 上的 Store。读写走内部地址，预签名链接用对外地址签发，
// 这样桌面端拿到的链接在容器网络之外也能打开。
type Client struct {
	api    *minio.Client
	signer *minio.Client
	bucket string
}

func bucketLookup(v string) (minio.BucketLookupType, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "auto":
		return minio.BucketLookupAuto, nil
	case "dns":
		return minio.BucketLookupDNS, nil
	case "path":
		return minio.BucketLookupPath, nil
	}
	return minio.BucketLookupAuto, fmt.Errorf("invalid minio bucket lookup %q", v)
}

func dial(cfg config.MinIOConfig, endpoint string, secure bool, lookup minio.BucketLookupType) (*minio.Client, error) {
	return minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:       secure,
		Region:       cfg.Region,
		BucketLookup: lookup,
	})
}

// NewClient 连接 MinIO 并确保 Bucket 存在（AutoCreateBucket 关闭时只检查）。
func NewClient(cfg config.MinIOConfig) (*Client, error) {
	lookup, err := bucketLookup(cfg.BucketLookup)
	if err != nil {
		return nil, err
	}
	api, err := dial(cfg, cfg.Endpoint, cfg.UseSSL, lookup)
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	signer := api
	if public := strings.TrimSpace(cfg.PublicEndpoint); public != "" {
		u, err := url.Parse(public)
		if err != nil {
			return nil, fmt.Errorf("parse minio public endpoint: %w", err)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("minio public endpoint %q has no host", public)
		}
		if signer, err = dial(cfg, u.Host, u.Scheme == "https", lookup); err != nil {
			return nil, fmt.Errorf("init public minio client: %w", err)
		}
	}

	c := &Client{api: api, signer: signer, bucket: cfg.Bucket}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.ensureBucket(ctx, cfg.Region, cfg.AutoCreateBucket); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) ensureBucket(ctx context.Context, region string, create bool) error {
	exists, err := c.api.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", c.bucket, err)
	}
	if exists {
		return nil
	}
	if !create {
		return fmt.Errorf("bucket %q does not exist (auto create disabled)", c.bucket)
	}
	if err := c.api.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("make bucket %q: %w", c.bucket, err)
	}
	return nil
}

// Put 上传对象。
func (c *Client) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (ObjectMeta, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	info, err := c.api.PutObject(ctx, c.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return ObjectMeta{}, objectError("put", key, err)
	}
	return ObjectMeta{Key: info.Key, Size: info.Size, ContentType: contentType, LastModified: info.LastModified}, nil
}

// Get 打开对象。GetObject 是惰性的，先 Stat 才能区分对象不存在。
func (c *Client) Get(ctx context.Context, key string) (io.ReadCloser, ObjectMeta, error) {
	obj, err := c.api.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, ObjectMeta{}, objectError("get", key, err)
	}
	stat, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, ObjectMeta{}, objectError("stat", key, err)
	}
	return obj, toMeta(stat), nil
}

// URL 签发限时下载链接。
func (c *Client) URL(ctx context.Context, key string, ttl time.Duration, downloadName string) (string, error) {
	var params url.Values
	if downloadName != "" {
		params = url.Values{"response-content-disposition": {fmt.Sprintf("attachment; filename=%q", downloadName)}}
	}
	u, err := c.signer.PresignedGetObject(ctx, c.bucket, key, ttl, params)
	if err != nil {
		return "", objectError("presign", key, err)
	}
	return u.String(), nil
}

// walk 依次把前缀下的对象交给 fn。Bucket 不存在时视为空。
func (c *Client) walk(ctx context.Context, prefix string, fn func(minio.ObjectInfo) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for object := range c.api.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			if IsNoSuchBucket(object.Err) {
				return nil
			}
			return fmt.Errorf("list objects under %q: %w", prefix, object.Err)
		}
		if err := fn(object); err != nil {
			if errors.Is(err, errStopWalk) {
				return nil
			}
			return err
		}
	}
	return nil
}

// List 列出前缀下的对象，按修改时间倒序。
func (c *Client) List(ctx context.Context, prefix string, limit int) ([]ObjectMeta, error) {
	if limit <= 0 {
		limit = 50
	}
	out := make([]ObjectMeta, 0, limit)
	err := c.walk(ctx, prefix, func(o minio.ObjectInfo) error {
		out = append(out, toMeta(o))
		if len(out) >= limit {
			return errStopWalk
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastModified.After(out[j].LastModified) })
	return out, nil
}

// Delete 删除对象，对象不存在视为成功。
func (c *Client) Delete(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	err := c.api.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && !IsNoSuchKey(err) {
		return objectError("remove", key, err)
	}
	return nil
}

// DeletePrefix 删除前缀下的全部对象，失败的对象汇总后返回。
func (c *Client) DeletePrefix(ctx context.Context, prefix string) error {
	if strings.TrimSpace(prefix) == "" {
		return nil
	}
	var keys []string
	if err := c.walk(ctx, prefix, func(o minio.ObjectInfo) error {
		keys = append(keys, o.Key)
		return nil
	}); err != nil {
		return err
	}

	var errs []error
	for _, key := range keys {
		if err := c.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 1 {
		slog.Default().Error("delete objects under prefix failed",
			slog.String("prefix", prefix),
			slog.Int("failed_count", len(errs)),
		)
	}
	return errors.Join(errs...)
}

func toMeta(o minio.ObjectInfo) ObjectMeta {
	return ObjectMeta{Key: o.Key, Size: o.Size, ContentType: o.ContentType, LastModified: o.LastModified}
}
