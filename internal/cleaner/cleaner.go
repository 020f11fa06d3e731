package cleaner

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	// CleaningVersion tags every cleaned record so downstream stages can
	// tell which heuristics produced it.
	CleaningVersion = "v1.1"

	// MinCleanChars is the floor below which a cleaned record is dropped.
	MinCleanChars = 40
)

// The line filters below are corpus-specific heuristics tuned to one
// storefront's markup (bilingual banners, WordPress shortcode leftovers,
// theme UI noise). Porting to a new corpus means re-deriving these lists.

var bannerLinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*dear customers,?\s*$`),
	regexp.MustCompile(`(?i)^\s*dear customer kindly note that all placed orders`),
	regexp.MustCompile(`(?i)^\s*thank you for shopping at cell avenue store\.?\s*$`),
	regexp.MustCompile(`^\s*العملاء الأعزاء`),
	regexp.MustCompile(`^\s*كل عام و انتم بخير`),
	regexp.MustCompile(`^\s*يرجى ملاحظة أن جميع الطلبات`),
	regexp.MustCompile(`^\s*شكرًا لكم للتسوق في متجر سيل أفينيو`),
}

var noiseSubstrings = []string{
	"shopping cart",
	"scroll up",
	"start typing to see products you are looking for",
	"ابدا بالكتابة لترى المنتجات التي تبحث عنها",
	"protected by **recaptcha**",
	"recaptcha requires verification",
	"google.com/intl/en/policies/privacy",
	"google.com/intl/en/policies/terms",
	"do not follow this link or you will be banned from the site",
	"blackhole=",
	"facebook social link",
	"linkedin social link",
	"add to wishlist",
	"quick view",
	"read more description",
	"load more products",
	"show sidebar",
}

var exactStoplist = map[string]struct{}{
	"close":      {},
	"search":     {},
	"menu":       {},
	"loading...": {},
	"previous":   {},
	"next":       {},
}

var (
	linkOnlyRE             = regexp.MustCompile(`^\s*\[.*?\]\(https?://.*?\)\s*$`)
	imageLineRE            = regexp.MustCompile(`^\s*!\[.*?\]\(.*?\)\s*$`)
	linkedImageLineRE      = regexp.MustCompile(`^\s*\[!\[.*?\]\(.*?\)\]\(.*?\)\s*$`)
	multiImageOnlyRE       = regexp.MustCompile(`^\s*(?:!\[.*?\]\(.*?\)\s*)+$`)
	multiLinkedImageOnlyRE = regexp.MustCompile(`^\s*(?:\[!\[.*?\]\(.*?\)\]\(.*?\)\s*)+$`)
	listingLinkRE          = regexp.MustCompile(`^\s*-\s*\[.*?\]\(https?://.*?\)\s*$`)
	shortcodeRE            = regexp.MustCompile(`(?i)^\\?\[(vc_|la_|contact-form-7|wpum_|ultimatemember|/vc_|/la_)`)
	tableSeparatorRE       = regexp.MustCompile(`^\s*\|?(?:\s*:?-{2,}:?\s*\|)+\s*$`)

	spaceRunRE  = regexp.MustCompile(`[ \t]+`)
	blankRunRE  = regexp.MustCompile(`\n{3,}`)
	htmlBlockRE = regexp.MustCompile(`(?i)^\s*<(div|span|p|table|tr|td|ul|ol|li|a|iframe|h[1-6])[\s>]`)
)

var relatedProductsMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\n###\s*Related products\s*\n`),
	regexp.MustCompile(`\n###\s*منتجات ذات صلة\s*\n`),
}

// Clean strips navigational and marketing boilerplate from one page's
// markdown. Pure function of its inputs: no external calls, no side effects.
func Clean(raw, pageType string) string {
	text := normalizeWhitespace(raw)
	text = stripRelatedProductsBlock(text, pageType)

	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if shouldDropLine(line) {
			continue
		}
		if htmlBlockRE.MatchString(line) {
			line = extractHTMLText(line)
			if strings.TrimSpace(line) == "" {
				continue
			}
		}
		kept = append(kept, line)
	}

	kept = dedupeConsecutive(kept)
	return normalizeWhitespace(strings.Join(kept, "\n"))
}

func normalizeWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = spaceRunRE.ReplaceAllString(text, " ")
	text = blankRunRE.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// stripRelatedProductsBlock truncates a product page at the earliest
// related-products heading in either language. Other page types pass through.
func stripRelatedProductsBlock(text, pageType string) string {
	if pageType != "product" {
		return text
	}

	cut := -1
	for _, pat := range relatedProductsMarkers {
		if loc := pat.FindStringIndex(text); loc != nil {
			if cut == -1 || loc[0] < cut {
				cut = loc[0]
			}
		}
	}
	if cut >= 0 {
		return strings.TrimRight(text[:cut], " \t\n")
	}
	return text
}

func shouldDropLine(line string) bool {
	s := strings.TrimSpace(line)
	if s == "" {
		return false
	}
	sLower := strings.ToLower(s)

	if s == "✕" || s == "✖" || s == "x" {
		return true
	}

	for _, pat := range bannerLinePatterns {
		if pat.MatchString(s) {
			return true
		}
	}

	if shortcodeRE.MatchString(s) {
		return true
	}

	if strings.Contains(sLower, "<base64-image-removed>") {
		return true
	}

	if imageLineRE.MatchString(s) ||
		linkedImageLineRE.MatchString(s) ||
		multiImageOnlyRE.MatchString(s) ||
		multiLinkedImageOnlyRE.MatchString(s) {
		return true
	}

	if tableSeparatorRE.MatchString(s) {
		return true
	}

	// Navigation/listing links are usually boilerplate noise.
	if listingLinkRE.MatchString(s) {
		return true
	}

	for _, sub := range noiseSubstrings {
		if strings.Contains(sLower, sub) {
			return true
		}
	}

	if linkOnlyRE.MatchString(s) {
		for _, k := range []string{"privacy", "terms", "close"} {
			if strings.Contains(sLower, k) {
				return true
			}
		}
	}

	if _, ok := exactStoplist[sLower]; ok {
		return true
	}

	return false
}

// extractHTMLText pulls the visible text out of a residual raw-HTML block
// that survived markdown extraction.
func extractHTMLText(line string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(line))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Text())
}

func dedupeConsecutive(lines []string) []string {
	out := make([]string, 0, len(lines))
	prev := ""
	first := true
	for _, line := range lines {
		if !first && line == prev && strings.TrimSpace(line) != "" {
			continue
		}
		out = append(out, line)
		prev = line
		first = false
	}
	return out
}
