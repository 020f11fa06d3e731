package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageTypeFromURL(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://cellavenuestore.com/product/galaxy-s24-ultra/", "product"},
		{"https://cellavenuestore.com/ar/product/galaxy-s24-ultra/", "product"},
		{"https://cellavenuestore.com/shipping-policy/", "policy_support"},
		{"https://cellavenuestore.com/returns-replacements/", "policy_support"},
		{"https://cellavenuestore.com/product-category/smartphones/", "category"},
		{"https://cellavenuestore.com/honor", "brand_campaign"},
		{"https://cellavenuestore.com/blackfriday-2025", "brand_campaign"},
		{"https://cellavenuestore.com/some-landing-page/", "other"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, PageTypeFromURL(tc.url), tc.url)
	}
}

func TestPageTypeProductWinsOverCampaign(t *testing.T) {
	// A product listed under a campaign path is still a product page.
	url := "https://cellavenuestore.com/honor/product/honor-400-pro/"
	assert.Equal(t, "product", PageTypeFromURL(url))
}

func TestLanguageFromURL(t *testing.T) {
	assert.Equal(t, "ar", LanguageFromURL("https://cellavenuestore.com/ar/product/x/", ""))
	assert.Equal(t, "ar", LanguageFromURL("https://cellavenuestore.com/product/x/", "ar-KW"))
	assert.Equal(t, "en", LanguageFromURL("https://cellavenuestore.com/product/x/", "en-US"))
	assert.Equal(t, "en", LanguageFromURL("https://cellavenuestore.com/product/x/", ""))
}

func TestDefaultScopesCoverBothLanguages(t *testing.T) {
	scopes := DefaultScopes()
	names := make([]string, len(scopes))
	for i, s := range scopes {
		names[i] = s.Name
		assert.Positive(t, s.Limit)
		assert.NotEmpty(t, s.IncludePaths)
	}
	assert.ElementsMatch(t, []string{"products_en", "products_ar", "pages_en", "pages_ar"}, names)
}
