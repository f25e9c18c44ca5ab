package sources

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertToRawURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "blob URL converts to raw",
			input:    "https://github.com/org/repo/blob/main/docs/survey.md",
			expected: "https://raw.githubusercontent.com/org/repo/refs/heads/main/docs/survey.md",
		},
		{
			name:     "tree URL converts to raw",
			input:    "https://github.com/org/repo/tree/main/docs/survey.md",
			expected: "https://raw.githubusercontent.com/org/repo/refs/heads/main/docs/survey.md",
		},
		{
			name:     "nested path converts correctly",
			input:    "https://github.com/myorg/docs/blob/develop/research/markets/overview.md",
			expected: "https://raw.githubusercontent.com/myorg/docs/refs/heads/develop/research/markets/overview.md",
		},
		{
			name:     "already raw URL passes through",
			input:    "https://raw.githubusercontent.com/org/repo/refs/heads/main/docs/survey.md",
			expected: "https://raw.githubusercontent.com/org/repo/refs/heads/main/docs/survey.md",
		},
		{
			name:     "non-GitHub URL passes through",
			input:    "https://example.com/some/report.html",
			expected: "https://example.com/some/report.html",
		},
		{
			name:     "github.com without blob or tree passes through",
			input:    "https://github.com/org/repo",
			expected: "https://github.com/org/repo",
		},
		{
			name:     "www.github.com blob URL converts",
			input:    "https://www.github.com/org/repo/blob/main/notes.md",
			expected: "https://raw.githubusercontent.com/org/repo/refs/heads/main/notes.md",
		},
		{
			name:     "invalid URL passes through",
			input:    "://not-a-url",
			expected: "://not-a-url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ConvertToRawURL(tt.input))
		})
	}
}

func TestValidateSourceURL(t *testing.T) {
	t.Run("https URL with empty allowlist is accepted", func(t *testing.T) {
		require.NoError(t, ValidateSourceURL("https://anywhere.example/doc", nil))
	})

	t.Run("http URL is accepted", func(t *testing.T) {
		require.NoError(t, ValidateSourceURL("http://example.com/doc", nil))
	})

	t.Run("non-http scheme is rejected", func(t *testing.T) {
		err := ValidateSourceURL("ftp://example.com/doc", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid scheme")
	})

	t.Run("file scheme is rejected", func(t *testing.T) {
		err := ValidateSourceURL("file:///etc/passwd", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid scheme")
	})

	t.Run("domain on allowlist is accepted", func(t *testing.T) {
		require.NoError(t, ValidateSourceURL("https://github.com/org/repo/blob/main/a.md", []string{"github.com"}))
	})

	t.Run("www prefix matches bare domain", func(t *testing.T) {
		require.NoError(t, ValidateSourceURL("https://www.github.com/org/repo", []string{"github.com"}))
	})

	t.Run("host comparison is case-insensitive", func(t *testing.T) {
		require.NoError(t, ValidateSourceURL("https://GitHub.com/org/repo", []string{"github.com"}))
	})

	t.Run("domain off allowlist is rejected", func(t *testing.T) {
		err := ValidateSourceURL("https://evil.example/doc", []string{"github.com", "raw.githubusercontent.com"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not in allowed list")
	})
}
