package geo

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/ternarybob/dinewise/internal/models"
)

// IdentityKey derives the cross-provider dedup key for a restaurant: the
// case-folded, punctuation-free name plus the coordinate rounded to 4 decimal
// places (roughly 11 m at the equator).
func IdentityKey(name string, p models.GeoPoint) string {
	return fmt.Sprintf("%s@%.4f,%.4f", normalizeName(name), p.Latitude, p.Longitude)
}

// IdentityKeyNameOnly is used for records without coordinates
func IdentityKeyNameOnly(name, provider string) string {
	return fmt.Sprintf("%s@%s", normalizeName(name), provider)
}

func normalizeName(name string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		case unicode.IsSpace(r) || r == '-' || r == '_':
			if !space && b.Len() > 0 {
				b.WriteRune(' ')
				space = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
