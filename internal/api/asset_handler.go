package api

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dutchcoders/go-clamd"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"labReport/internal/api/middleware"
	"labReport/internal/storage"
)

const defaultMaxAssetBytes = 5 * 1024 * 1024

type virusScanner interface {
	ScanStream(r io.Reader, abort chan bool) (chan *clamd.ScanResult, error)
}

// AssetHandler 负责处理资产上传与访问。
type AssetHandler struct {
	Storage  storage.Store
	Logger   *slog.Logger
	Scanner  virusScanner
	MaxBytes int64
}

// NewAssetHandler 返回 AssetHandler 实例。clamdAddr 为空时不做病毒扫描。
func NewAssetHandler(store storage.Store, logger *slog.Logger, clamdAddr string, maxBytes int64) *AssetHandler {
	if maxBytes <= 0 {
		maxBytes = defaultMaxAssetBytes
	}
	h := &AssetHandler{
		Storage:  store,
		Logger:   logger,
		MaxBytes: maxBytes,
	}
	if clamdAddr != "" {
		h.Scanner = clamd.NewClamd(clamdAddr)
	}
	return h
}

// UploadAsset 处理图片上传：限制大小，按内容识别类型（仅 PNG/JPEG），配置了 clamd 时先扫描。
func (h *AssetHandler) UploadAsset(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "missing file")
		return
	}
	if file.Size > h.MaxBytes {
		TooLarge(c, "file too large")
		return
	}

	fileReader, err := file.Open()
	if err != nil {
		Internal(c, "failed to open file")
		return
	}
	data, err := io.ReadAll(io.LimitReader(fileReader, h.MaxBytes+1))
	fileReader.Close()
	if err != nil {
		Internal(c, "failed to read file")
		return
	}
	if int64(len(data)) > h.MaxBytes {
		TooLarge(c, "file too large")
		return
	}

	contentType := http.DetectContentType(data)
	ext := storage.AssetExtension(contentType)
	if ext == "" {
		Error(c, http.StatusUnsupportedMediaType, "only png and jpeg images are supported")
		return
	}

	if h.Scanner != nil {
		clean, err := h.scan(data)
		if err != nil {
			h.Logger.Error("scan file", slog.Any("error", err))
			Internal(c, "failed to scan file")
			return
		}
		if !clean {
			BadRequest(c, "malicious file detected")
			return
		}
	}

	objectKey := storage.AssetPrefix + uuid.NewString() + ext
	meta, err := h.Storage.Put(c.Request.Context(), objectKey, bytes.NewReader(data), int64(len(data)), contentType)
	if err != nil {
		h.Logger.Error("upload file", slog.String("object_key", objectKey), slog.Any("error", err))
		Internal(c, "failed to upload file")
		return
	}

	url, _ := h.Storage.URL(c.Request.Context(), objectKey, 10*time.Minute, "")
	c.JSON(http.StatusCreated, gin.H{
		"objectKey":  objectKey,
		"previewUrl": url,
		"size":       meta.Size,
	})
}

func (h *AssetHandler) scan(data []byte) (bool, error) {
	abortChan := make(chan bool)
	defer close(abortChan)
	scanChan, err := h.Scanner.ScanStream(bytes.NewReader(data), abortChan)
	if err != nil {
		return false, err
	}
	clean := true
	for result := range scanChan {
		if result.Status != clamd.RES_OK {
			clean = false
		}
	}
	return clean, nil
}

// ListAssets 列出已上传的图片资产，最新的在前。
func (h *AssetHandler) ListAssets(c *gin.Context) {
	limitStr := c.DefaultQuery("limit", "60")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		limit = 60
	}
	if limit > 200 {
		limit = 200
	}

	objects, err := h.Storage.List(c.Request.Context(), storage.AssetPrefix, limit)
	if err != nil {
		h.Logger.Error("list assets", slog.Any("error", err))
		Internal(c, "failed to list assets")
		return
	}

	items := make([]gin.H, 0, len(objects))
	for _, obj := range objects {
		url, err := h.Storage.URL(c.Request.Context(), obj.Key, 10*time.Minute, "")
		if err != nil {
			h.Logger.Error("generate asset url", slog.String("object_key", obj.Key), slog.Any("error", err))
			continue
		}
		items = append(items, gin.H{
			"objectKey":    obj.Key,
			"previewUrl":   url,
			"size":         obj.Size,
			"lastModified": obj.LastModified,
		})
	}

	c.JSON(http.StatusOK, gin.H{"items": items})
}

// GetAssetBase64 以 data URI 返回资产内容，供画布离线嵌入。
func (h *AssetHandler) GetAssetBase64(c *gin.Context) {
	objectKey := c.Query("key")
	if !storage.IsAssetKey(objectKey) {
		BadRequest(c, "invalid key")
		return
	}
	data, meta, err := storage.ReadAll(c.Request.Context(), h.Storage, objectKey)
	if err != nil {
		h.storageError(c, objectKey, err)
		return
	}
	contentType := meta.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	c.JSON(http.StatusOK, gin.H{
		"objectKey": objectKey,
		"dataUri":   "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data),
	})
}

// GetRaw 直接输出对象内容。文件系统存储的对象地址指向这里。
func (h *AssetHandler) GetRaw(c *gin.Context) {
	objectKey := c.Query("key")
	if !rawKeyAllowed(objectKey) {
		BadRequest(c, "invalid key")
		return
	}
	rc, meta, err := h.Storage.Get(c.Request.Context(), objectKey)
	if err != nil {
		h.storageError(c, objectKey, err)
		return
	}
	defer rc.Close()

	contentType := meta.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	headers := map[string]string{"Cache-Control": "private, max-age=300"}
	if name := c.Query("download"); name != "" {
		headers["Content-Disposition"] = mime.FormatMediaType("attachment", map[string]string{"filename": name})
	}
	c.DataFromReader(http.StatusOK, meta.Size, contentType, rc, headers)
}

// DeleteAsset 删除图片资产。
func (h *AssetHandler) DeleteAsset(c *gin.Context) {
	objectKey := c.Query("key")
	if !storage.IsAssetKey(objectKey) {
		BadRequest(c, "invalid key")
		return
	}
	if err := h.Storage.Delete(c.Request.Context(), objectKey); err != nil {
		h.storageError(c, objectKey, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AssetHandler) storageError(c *gin.Context, key string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		NotFound(c, "asset not found")
	case errors.Is(err, storage.ErrInvalidKey):
		BadRequest(c, "invalid key")
	default:
		middleware.LoggerFromContext(c).Error("asset storage failed", slog.String("object_key", key), slog.Any("error", err))
		Internal(c, "failed to access asset")
	}
}

func rawKeyAllowed(key string) bool {
	if storage.IsAssetKey(key) {
		return true
	}
	if strings.Contains(key, "..") || strings.Contains(key, "\\") {
		return false
	}
	return strings.HasPrefix(key, storage.ReportPrefix) || strings.HasPrefix(key, storage.PreviewPrefix)
}
