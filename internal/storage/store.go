// Package storage 是资产协作者：图片、签名、生成的 PDF 与模板缩略图都以对象键存取。
// 默认使用本地目录，也可以切换到 MinIO/S3。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"labReport/internal/config"
)

// 对象键前缀。
const (
	AssetPrefix   = "assets/"
	ReportPrefix  = "reports/"
	PreviewPrefix = "previews/"
)

// ErrNotFound 表示对象不存在。
var ErrNotFound = errors.New("object not found")

// ErrInvalidKey 表示对象键不合法（路径穿越、绝对路径等）。
var ErrInvalidKey = errors.New("invalid object key")

// ObjectMeta 描述存储中对象的关键信息。
type ObjectMeta struct {
	Key          string    `json:"objectKey"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"contentType,omitempty"`
	LastModified time.Time `json:"lastModified"`
}

// Store 是资产存储接口。
type Store interface {
	// Put 写入对象，已存在时覆盖。
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (ObjectMeta, error)
	// Get 打开对象，调用方负责关闭。对象不存在时返回 ErrNotFound。
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectMeta, error)
	// List 列出前缀下的对象，最多 limit 个。
	List(ctx context.Context, prefix string, limit int) ([]ObjectMeta, error)
	// Delete 删除对象；对象不存在视为成功。
	Delete(ctx context.Context, key string) error
	// DeletePrefix 删除前缀下的全部对象。
	DeletePrefix(ctx context.Context, prefix string) error
	// URL 返回对象的访问地址；downloadName 非空时要求以附件形式下载。
	URL(ctx context.Context, key string, ttl time.Duration, downloadName string) (string, error)
}

var (
	_ Store = (*Client)(nil)
	_ Store = (*Filesystem)(nil)
)

// New 按配置创建资产存储。
func New(storageCfg config.StorageConfig, minioCfg config.MinIOConfig) (Store, error) {
	switch storageCfg.Driver {
	case config.StorageMinIO:
		c, err := NewClient(minioCfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.StorageFS, "":
		fs, err := NewFilesystem(storageCfg.Root)
		if err != nil {
			return nil, err
		}
		return fs, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", storageCfg.Driver)
	}
}

// ReadAll 读出整个对象。
func ReadAll(ctx context.Context, s Store, key string) ([]byte, ObjectMeta, error) {
	rc, meta, err := s.Get(ctx, key)
	if err != nil {
		return nil, ObjectMeta{}, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, ObjectMeta{}, fmt.Errorf("read object %q: %w", key, err)
	}
	return data, meta, nil
}

// IsAssetKey 检查 key 是否是合法的用户资产对象键。
func IsAssetKey(key string) bool {
	if key == "" || !utf8.ValidString(key) {
		return false
	}
	if !strings.HasPrefix(key, AssetPrefix) {
		return false
	}
	if strings.Contains(key, "..") || strings.Contains(key, "\\") || strings.Contains(key, "//") {
		return false
	}
	if len(key) > 200 {
		return false
	}
	lower := strings.ToLower(strings.TrimSpace(key))
	return strings.HasSuffix(lower, ".png") ||
		strings.HasSuffix(lower, ".jpg") ||
		strings.HasSuffix(lower, ".jpeg")
}

// AssetExtension 按内容类型返回资产扩展名；不支持的类型返回空字符串。
func AssetExtension(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	default:
		return ""
	}
}
