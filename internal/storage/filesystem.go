package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// RawURLPrefix 是本地存储对象经 API 读取的地址前缀。
const RawURLPrefix = "/v1/assets/raw?key="

// Filesystem 把对象键映射为根目录下的相对文件路径，内容类型写在同名 .meta 旁路文件中。
type Filesystem struct {
	root string
}

type metaFile struct {
	ContentType string    `json:"content_type,omitempty"`
	Size        int64     `json:"size"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewFilesystem 返回以 root 为根目录的存储，目录不存在时创建。
func NewFilesystem(root string) (*Filesystem, error) {
	if root == "" {
		root = "assets"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Filesystem{root: root}, nil
}

func sanitizeKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" ||
		strings.Contains(key, "..") ||
		strings.HasPrefix(key, "/") ||
		strings.Contains(key, "\\") ||
		strings.HasSuffix(key, ".meta") {
		return "", ErrInvalidKey
	}
	return filepath.ToSlash(filepath.Clean(key)), nil
}

func (s *Filesystem) pathFor(key string) (string, string, error) {
	k, err := sanitizeKey(key)
	if err != nil {
		return "", "", err
	}
	dataPath := filepath.Join(s.root, filepath.FromSlash(k))
	return dataPath, dataPath + ".meta", nil
}

// Put 先写临时文件再原子替换。
func (s *Filesystem) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) (ObjectMeta, error) {
	dataPath, metaPath, err := s.pathFor(key)
	if err != nil {
		return ObjectMeta{}, err
	}
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return ObjectMeta{}, fmt.Errorf("create object dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dataPath), ".tmp-*")
	if err != nil {
		return ObjectMeta{}, fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	size, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		return ObjectMeta{}, fmt.Errorf("write object %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return ObjectMeta{}, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dataPath); err != nil {
		return ObjectMeta{}, fmt.Errorf("move object %q: %w", key, err)
	}

	now := time.Now().UTC()
	mf := metaFile{ContentType: contentType, Size: size, UpdatedAt: now}
	data, err := json.Marshal(mf)
	if err != nil {
		return ObjectMeta{}, fmt.Errorf("encode meta: %w", err)
	}
	if err := os.WriteFile(metaPath, data, 0o644); err != nil {
		return ObjectMeta{}, fmt.Errorf("write meta: %w", err)
	}
	return ObjectMeta{Key: key, Size: size, ContentType: contentType, LastModified: now}, nil
}

// Get 打开对象文件。缺少 .meta 时按文件信息补齐元数据。
func (s *Filesystem) Get(_ context.Context, key string) (io.ReadCloser, ObjectMeta, error) {
	dataPath, metaPath, err := s.pathFor(key)
	if err != nil {
		return nil, ObjectMeta{}, err
	}
	file, err := os.Open(dataPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ObjectMeta{}, ErrNotFound
	}
	if err != nil {
		return nil, ObjectMeta{}, fmt.Errorf("open object %q: %w", key, err)
	}
	meta, err := s.meta(key, dataPath, metaPath)
	if err != nil {
		_ = file.Close()
		return nil, ObjectMeta{}, err
	}
	return file, meta, nil
}

func (s *Filesystem) meta(key, dataPath, metaPath string) (ObjectMeta, error) {
	if data, err := os.ReadFile(metaPath); err == nil {
		var mf metaFile
		if err := json.Unmarshal(data, &mf); err == nil {
			return ObjectMeta{Key: key, Size: mf.Size, ContentType: mf.ContentType, LastModified: mf.UpdatedAt}, nil
		}
	}
	st, err := os.Stat(dataPath)
	if err != nil {
		return ObjectMeta{}, fmt.Errorf("stat object %q: %w", key, err)
	}
	return ObjectMeta{Key: key, Size: st.Size(), LastModified: st.ModTime().UTC()}, nil
}

// List 按最近修改排序返回前缀下的对象。
func (s *Filesystem) List(_ context.Context, prefix string, limit int) ([]ObjectMeta, error) {
	if limit <= 0 {
		limit = 50
	}
	var items []ObjectMeta
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() || strings.HasSuffix(name, ".meta") || strings.HasPrefix(name, ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		meta, err := s.meta(key, path, path+".meta")
		if err != nil {
			return err
		}
		items = append(items, meta)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list objects under %q: %w", prefix, err)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].LastModified.Equal(items[j].LastModified) {
			return items[i].LastModified.After(items[j].LastModified)
		}
		return items[i].Key < items[j].Key
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// Delete 删除对象及其 .meta 文件。
func (s *Filesystem) Delete(_ context.Context, key string) error {
	dataPath, metaPath, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(dataPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove object %q: %w", key, err)
	}
	_ = os.Remove(metaPath)
	return nil
}

// DeletePrefix 删除前缀下的全部对象。
func (s *Filesystem) DeletePrefix(ctx context.Context, prefix string) error {
	if strings.TrimSpace(prefix) == "" {
		return nil
	}
	items, err := s.List(ctx, prefix, int(^uint(0)>>1))
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := s.Delete(ctx, item.Key); err != nil {
			return err
		}
	}
	return nil
}

// URL 返回经 API 读取本地对象的相对地址。
func (s *Filesystem) URL(_ context.Context, key string, _ time.Duration, downloadName string) (string, error) {
	if _, err := sanitizeKey(key); err != nil {
		return "", err
	}
	u := RawURLPrefix + url.QueryEscape(key)
	if downloadName != "" {
		u += "&download=" + url.QueryEscape(downloadName)
	}
	return u, nil
}
