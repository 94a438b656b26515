package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
)

// S3 错误码，统一小写比较。
const (
	codeNoSuchKey    = "nosuchkey"
	codeNotFound     = "notfound"
	codeNoSuchBucket = "nosuchbucket"
)

// errorCode 提取 S3 错误码。网关把错误改写成纯文本时按消息归类。
func errorCode(err error) string {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) && resp.Code != "" {
		return strings.ToLower(strings.TrimSpace(resp.Code))
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, codeNoSuchBucket), strings.Contains(msg, "specified bucket does not exist"):
		return codeNoSuchBucket
	case strings.Contains(msg, codeNoSuchKey), strings.Contains(msg, "specified key does not exist"):
		return codeNoSuchKey
	}
	return ""
}

// IsNoSuchKey 判断 err 是否表示对象不存在。
func IsNoSuchKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return true
	}
	switch errorCode(err) {
	case codeNoSuchKey, codeNotFound:
		return true
	}
	return false
}

// IsNoSuchBucket 判断 err 是否表示 Bucket 不存在。
func IsNoSuchBucket(err error) bool {
	return err != nil && errorCode(err) == codeNoSuchBucket
}

// objectError 把对象级错误转换为 ErrNotFound 或带操作名的包装错误。
func objectError(op, key string, err error) error {
	if IsNoSuchKey(err) {
		return ErrNotFound
	}
	return fmt.Errorf("%s object %q: %w", op, key, err)
}
