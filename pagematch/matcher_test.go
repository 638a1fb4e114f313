package pagematch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSupportedPage(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want bool
	}{
		{"amazon.com dp", "https://www.amazon.com/dp/B08N5WRWNW", true},
		{"amazon.co.uk gp product with query", "https://www.amazon.co.uk/gp/product/B08N5WRWNW?q=1", true},
		{"amazon.de with ref segments", "https://www.amazon.de/Some-Product-Name/dp/B08N5WRWNW/ref=sr_1_1", true},
		{"extra segments before dp", "https://amazon.fr/a/b/c/dp/B0", true},
		{"uppercase path", "https://www.amazon.jp/DP/B0", true},
		{"plain http", "http://amazon.it/dp/B0", true},
		{"search page", "https://www.amazon.com/s?k=laptop", false},
		{"product fragment only in query", "https://www.amazon.com/s?k=/dp/B0", false},
		{"home page", "https://www.amazon.ca/", false},
		{"domain without path", "https://www.amazon.ca", false},
		{"non product path", "https://www.amazon.com/gp/css/homepage.html", false},
		{"other site", "https://www.google.com/dp/B0", false},
		{"path only match", "https://example.com/deals/amazon-day", false},
		{"look alike host", "https://amazon.com.evil.io/dp/B0", false},
		{"userinfo trick", "https://amazon.com@evil.io/dp/B0", false},
		{"explicit port", "https://amazon.com:8443/dp/B0", false},
		{"unsupported tld", "https://www.amazon.in/dp/B0", false},
		{"ftp scheme", "ftp://amazon.com/dp/B0", false},
		{"malformed", "http://[::1", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSupportedPage(tt.url))
		})
	}
}

func TestMatcherOptions(t *testing.T) {
	m := NewMatcher(
		WithDomains("shop.example", "www.store.test"),
		WithProductPaths("/item/"),
	)

	assert.True(t, m.IsSupportedPage("https://shop.example/item/42"))
	assert.True(t, m.IsSupportedPage("https://www.store.test/x/item/42"))
	assert.False(t, m.IsSupportedPage("https://www.amazon.com/dp/B0"))
	assert.False(t, m.IsSupportedPage("https://shop.example/dp/42"))

	blank := NewMatcher(WithDomains("amazon.com"), WithProductPaths("  ", ""))
	assert.False(t, blank.IsSupportedPage("https://amazon.com/foo"))
	assert.True(t, blank.IsSupportedPage("https://amazon.com/dp/B0"))

	var nilMatcher *Matcher
	assert.False(t, nilMatcher.IsSupportedPage("https://shop.example/item/42"))
}

func TestExtractPageInfo(t *testing.T) {
	t.Run("prefers og title", func(t *testing.T) {
		doc := `<html><head><title>Doc Title</title><meta property="og:title" content="  OG Title  "></head></html>`
		info, err := ExtractPageInfo(strings.NewReader(doc), "https://www.amazon.com/dp/B0")
		require.NoError(t, err)
		require.True(t, info.HasTitle())
		assert.Equal(t, "OG Title", *info.Title)
		assert.Equal(t, "https://www.amazon.com/dp/B0", info.URL)
	})

	t.Run("falls back to document title", func(t *testing.T) {
		doc := `<html><head><title>
			Kettle 1.7L
		</title></head><body></body></html>`
		info, err := ExtractPageInfo(strings.NewReader(doc), "u")
		require.NoError(t, err)
		require.NotNil(t, info.Title)
		assert.Equal(t, "Kettle 1.7L", *info.Title)
	})

	t.Run("no title", func(t *testing.T) {
		info, err := ExtractPageInfo(strings.NewReader(`<html><body>hi</body></html>`), "u")
		require.NoError(t, err)
		assert.Nil(t, info.Title)
		assert.False(t, info.HasTitle())
	})
}
