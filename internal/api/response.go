package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func Error(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

// ErrorWithCode 输出带业务错误码（internal/errcode）的错误响应。
func ErrorWithCode(c *gin.Context, status, code int, msg string) {
	c.JSON(status, gin.H{"error": msg, "code": code})
}

func AbortTooManyRequests(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
}

func BadRequest(c *gin.Context, msg string)         { Error(c, http.StatusBadRequest, msg) }
func NotFound(c *gin.Context, msg string)           { Error(c, http.StatusNotFound, msg) }
func Conflict(c *gin.Context, msg string)           { Error(c, http.StatusConflict, msg) }
func Internal(c *gin.Context, msg string)           { Error(c, http.StatusInternalServerError, msg) }
func TooLarge(c *gin.Context, msg string)           { Error(c, http.StatusRequestEntityTooLarge, msg) }
func ServiceUnavailable(c *gin.Context, msg string) { Error(c, http.StatusServiceUnavailable, msg) }
