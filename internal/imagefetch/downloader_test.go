package imagefetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateURL(t *testing.T) {
	assert.True(t, validateURL("https://example.com/a.jpg"))
	assert.True(t, validateURL("http://example.com/a.jpg"))
	assert.False(t, validateURL("ftp://example.com/a.jpg"))
	assert.False(t, validateURL(""))
}

func TestAlternativeURLsNonAliCDN(t *testing.T) {
	urls := alternativeURLs("https://example.com/a.jpg")
	assert.Equal(t, []string{"https://example.com/a.jpg"}, urls)
}

func TestAlternativeURLsAliCDN(t *testing.T) {
	urls := alternativeURLs("https://gd1.alicdn.com/imgextra/a.jpg")
	assert.True(t, len(urls) > 1)
	assert.Contains(t, urls, "https://gd1.alicdn.com/imgextra/a.jpg")
}

func TestDetectFormatFromContentType(t *testing.T) {
	assert.Equal(t, "png", detectFormat(nil, "image/png; charset=binary", "https://x.com/a"))
}

func TestDetectFormatFromMagicBytes(t *testing.T) {
	jpegHeader := []byte{0xff, 0xd8, 0xff, 0x00}
	assert.Equal(t, "jpg", detectFormat(jpegHeader, "", "https://x.com/a"))
}

func TestDetectFormatFromURL(t *testing.T) {
	assert.Equal(t, "webp", detectFormat(nil, "", "https://x.com/a.webp?size=800"))
}

func TestDetectFormatDefaultsToJPG(t *testing.T) {
	assert.Equal(t, "jpg", detectFormat(nil, "", "https://x.com/a"))
}
