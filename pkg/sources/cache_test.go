package sources

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDocCache_SetAndGet(t *testing.T) {
	cache := newDocCache(1 * time.Minute)

	cache.put("https://example.com/doc.md", "# Source Content")

	content, ok := cache.get("https://example.com/doc.md")
	assert.True(t, ok)
	assert.Equal(t, "# Source Content", content)
}

func TestDocCache_Miss(t *testing.T) {
	cache := newDocCache(1 * time.Minute)

	content, ok := cache.get("https://example.com/nonexistent.md")
	assert.False(t, ok)
	assert.Equal(t, "", content)
}

func TestDocCache_TTLExpiry(t *testing.T) {
	cache := newDocCache(50 * time.Millisecond)

	cache.put("https://example.com/doc.md", "content")

	// Present immediately
	content, ok := cache.get("https://example.com/doc.md")
	assert.True(t, ok)
	assert.Equal(t, "content", content)

	time.Sleep(60 * time.Millisecond)

	// Expired
	content, ok = cache.get("https://example.com/doc.md")
	assert.False(t, ok)
	assert.Equal(t, "", content)
}

func TestDocCache_Overwrite(t *testing.T) {
	cache := newDocCache(1 * time.Minute)

	cache.put("https://example.com/doc.md", "old content")
	cache.put("https://example.com/doc.md", "new content")

	content, ok := cache.get("https://example.com/doc.md")
	assert.True(t, ok)
	assert.Equal(t, "new content", content)
}

func TestDocCache_RefreshRestartsTTL(t *testing.T) {
	cache := newDocCache(80 * time.Millisecond)

	cache.put("https://example.com/doc.md", "v1")
	time.Sleep(50 * time.Millisecond)

	// Refresh before expiry restarts the clock.
	cache.put("https://example.com/doc.md", "v2")
	time.Sleep(50 * time.Millisecond)

	content, ok := cache.get("https://example.com/doc.md")
	assert.True(t, ok)
	assert.Equal(t, "v2", content)
}
