package content

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxImageBaseLen = 30

var (
	reDatePrefix  = regexp.MustCompile(`^\d{6}-`)
	reNotFilename = regexp.MustCompile(`[^a-zA-Z0-9-]+`)
)

// RemoveDiacritics decomposes s and drops its combining marks, so "Été"
// becomes "Ete". Case is preserved.
func RemoveDiacritics(s string) string {
	// transform.Chain keeps state, so one is built per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Slugify converts a title to a URL-safe slug: lowercase ASCII letters and
// digits separated by single hyphens.
func Slugify(s string) string {
	s = strings.ToLower(RemoveDiacritics(strings.TrimSpace(s)))
	var b strings.Builder
	prev := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prev = false
		default:
			if !prev && b.Len() > 0 {
				b.WriteByte('-')
				prev = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// PostSlug builds the immutable identifier of a new post from its publish
// date and title.
func PostSlug(title string, pubDate time.Time) string {
	date := pubDate.UTC().Format(DateLayout)
	if s := Slugify(title); s != "" {
		return date + "-" + s
	}
	return date
}

// ImageFilename derives the stored name of an uploaded image:
// <YYMMDD>-<clean base>.<ext>. A date prefix already present on the original
// name is replaced, and the extension keeps its case.
func ImageFilename(pubDate time.Time, original string) string {
	name := original
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}

	base, ext := name, ""
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		base, ext = name[:i], name[i+1:]
	}
	ext = strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return r
		}
		return -1
	}, ext)
	if ext == "" {
		ext = "jpg"
	}

	base = reDatePrefix.ReplaceAllString(base, "")
	base = reNotFilename.ReplaceAllString(RemoveDiacritics(base), "-")
	base = strings.Trim(base, "-")
	if len(base) > maxImageBaseLen {
		base = strings.TrimRight(base[:maxImageBaseLen], "-")
	}
	if base == "" {
		base = "image"
	}

	return pubDate.UTC().Format("060102") + "-" + base + "." + ext
}

// IsSafeName reports whether s can be used as a single path segment: a
// slug, a gallery folder or a filename.
func IsSafeName(s string) bool {
	if s == "" || s == "." || s == ".." || strings.HasPrefix(s, ".") {
		return false
	}
	return !strings.ContainsAny(s, "/\\\x00")
}
