package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"draftfiles/backend/internal/domain"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestUploadPolicy_Check(t *testing.T) {
	policy := NewUploadPolicy(1024, []string{"image/", "application/pdf", "text/plain"})

	t.Run("允许图片", func(t *testing.T) {
		mediaType, err := policy.Check("photo.png", "image/png", pngHeader)
		require.NoError(t, err)
		assert.Equal(t, "image/png", mediaType)
	})

	t.Run("缺少类型时嗅探内容", func(t *testing.T) {
		mediaType, err := policy.Check("photo", "", pngHeader)
		require.NoError(t, err)
		assert.Equal(t, "image/png", mediaType)

		mediaType, err = policy.Check("photo", "application/octet-stream", pngHeader)
		require.NoError(t, err)
		assert.Equal(t, "image/png", mediaType)
	})

	t.Run("带参数的类型", func(t *testing.T) {
		mediaType, err := policy.Check("a.txt", "text/plain; charset=utf-8", []byte("hello"))
		require.NoError(t, err)
		assert.Equal(t, "text/plain", mediaType)
	})

	rejected := []struct {
		name        string
		filename    string
		contentType string
		content     []byte
	}{
		{"空文件", "a.png", "image/png", nil},
		{"超过大小", "a.png", "image/png", []byte(strings.Repeat("a", 1025))},
		{"危险扩展名", "run.exe", "image/png", pngHeader},
		{"不允许的类型", "a.zip", "application/zip", []byte("PK\x03\x04")},
		{"非法类型", "a.png", "image/", pngHeader},
		{"可执行文件伪装成图片", "a.png", "image/png", []byte("MZ\x90\x00")},
		{"SVG中的脚本", "a.svg", "image/svg+xml", []byte(`<svg><script>alert(1)</script></svg>`)},
		{"SVG中的事件属性", "a.svg", "image/svg+xml", []byte(`<svg onload="x()"></svg>`)},
		{"文本中的javascript链接", "a.txt", "text/plain", []byte("javascript:alert(1)")},
	}

	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			_, err := policy.Check(tt.filename, tt.contentType, tt.content)
			assert.ErrorIs(t, err, domain.ErrUploadRejected)
		})
	}
}

func TestUploadPolicy_Defaults(t *testing.T) {
	policy := NewUploadPolicy(0, nil)
	assert.Equal(t, int64(10*1024*1024), policy.MaxFileSize())

	mediaType, err := policy.Check("a.bin", "application/x-custom", []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, "application/x-custom", mediaType)
}

func TestContentFilter(t *testing.T) {
	cf := NewContentFilter()

	assert.True(t, cf.Applies("image/svg+xml", ".svg"))
	assert.True(t, cf.Applies("text/html", ""))
	assert.False(t, cf.Applies("image/png", ".png"))

	malicious, _ := cf.Check([]byte(`<svg><rect width="1"/></svg>`))
	assert.False(t, malicious)
	malicious, reason := cf.Check([]byte(`<iframe src="x">`))
	assert.True(t, malicious)
	assert.Contains(t, reason, "iframe")
}
