package server

import (
	"encoding/json"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"
)

// sanitizeBase normalises a mount prefix to "" or "/x/y" without a trailing slash.
func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	bp = strings.TrimRightFunc(bp, func(r rune) bool { return r == '/' || unicode.IsSpace(r) })
	if bp == "" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return bp
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}
