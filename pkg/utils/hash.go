package utils

import (
	"crypto/sha256"
	"fmt"
)

// DocID builds a stable document id from the page type and a short hash of
// the URL, e.g. "product_1a2b3c4d". The same page always maps to the same id
// across pipeline runs.
func DocID(pageType, url string) string {
	sum := sha256.Sum256([]byte(url))
	return fmt.Sprintf("%s_%x", pageType, sum[:4])
}

// HashString returns the full sha256 hex digest, used as a cache key for
// embedding lookups.
func HashString(input string) string {
	sum := sha256.Sum256([]byte(input))
	return fmt.Sprintf("%x", sum)
}
