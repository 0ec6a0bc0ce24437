// File: internal/terms/locale.go
package terms

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/language"
)

// Locale selects the language and region of the trending feed.
type Locale struct {
	Language string // ISO 639-1, lower case
	Geo      string // ISO 3166-1 alpha-2, upper case
}

func (l Locale) String() string { return l.Language + "-" + l.Geo }

// DefaultLocale is used when neither the configuration nor the environment
// names a usable locale.
var DefaultLocale = Locale{Language: "en", Geo: "US"}

// ResolveLocale validates explicit language and region codes. Missing parts
// are taken from $LC_ALL or $LANG (e.g. "fr_FR.UTF-8") and then DefaultLocale.
func ResolveLocale(lang, geo string) (Locale, error) {
	env := localeFromEnv()
	loc := Locale{Language: strings.TrimSpace(lang), Geo: strings.TrimSpace(geo)}
	if loc.Language == "" {
		loc.Language = env.Language
	}
	if loc.Geo == "" {
		loc.Geo = env.Geo
	}

	base, err := language.ParseBase(loc.Language)
	if err != nil {
		return Locale{}, fmt.Errorf("invalid language %q: %w", loc.Language, err)
	}
	region, err := language.ParseRegion(loc.Geo)
	if err != nil {
		return Locale{}, fmt.Errorf("invalid region %q: %w", loc.Geo, err)
	}
	return Locale{Language: base.String(), Geo: region.String()}, nil
}

func localeFromEnv() Locale {
	raw := os.Getenv("LC_ALL")
	if raw == "" {
		raw = os.Getenv("LANG")
	}
	if i := strings.IndexAny(raw, ".@"); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" || raw == "C" || raw == "POSIX" {
		return DefaultLocale
	}

	tag, err := language.Parse(strings.ReplaceAll(raw, "_", "-"))
	if err != nil {
		return DefaultLocale
	}
	base, _ := tag.Base()
	region, conf := tag.Region()
	loc := Locale{Language: base.String(), Geo: region.String()}
	if conf == language.No {
		loc.Geo = DefaultLocale.Geo
	}
	return loc
}

// Normalize lower-cases and trims a phrase; two terms are the same term iff
// their normalized forms are equal.
func Normalize(term string) string {
	return strings.ToLower(strings.TrimSpace(term))
}
