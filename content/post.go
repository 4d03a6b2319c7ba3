// Package content defines the blog post model, its fixed tag set, slug and
// filename rules, and the header+body document format posts are stored in.
package content

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the layout of pubDate in stored documents.
const DateLayout = "2006-01-02"

// TagKeys is the fixed set of known tags, in emission order.
var TagKeys = []string{
	"associatif",
	"culture",
	"divers",
	"drone",
	"événementiel",
	"gastronomie",
	"immobilier",
	"industriel",
	"musique",
	"paysage",
	"sports",
	"studio",
	"tourisme",
	"video",
	"voyage",
}

// Tags maps known tag names to whether the post carries them.
type Tags map[string]bool

// NormalizeTags returns a map holding every known key exactly once,
// dropping unknown keys.
func NormalizeTags(in Tags) Tags {
	out := make(Tags, len(TagKeys))
	for _, k := range TagKeys {
		out[k] = in[k]
	}
	return out
}

// Post is a blog post as edited from the admin panel.
type Post struct {
	Slug       string    `json:"slug"`
	Title      string    `json:"title"`
	PubDate    time.Time `json:"pubDate"`
	Location   string    `json:"location"`
	MainImage  string    `json:"main_image"`
	GalleryURL string    `json:"gallery_url"`
	VideoURL   string    `json:"video_url"`
	Tags       Tags      `json:"tags"`
	Body       string    `json:"body"`
}

// Normalize trims the single-line fields, converts body line endings to
// "\n", truncates the date to a UTC day and fills the tag set.
func (p Post) Normalize() Post {
	p.Slug = strings.TrimSpace(p.Slug)
	p.Title = strings.TrimSpace(p.Title)
	p.Location = strings.TrimSpace(p.Location)
	p.MainImage = strings.TrimSpace(p.MainImage)
	p.GalleryURL = strings.TrimSpace(p.GalleryURL)
	p.VideoURL = strings.TrimSpace(p.VideoURL)
	p.Body = strings.ReplaceAll(p.Body, "\r\n", "\n")
	if !p.PubDate.IsZero() {
		y, m, d := p.PubDate.Date()
		p.PubDate = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	p.Tags = NormalizeTags(p.Tags)
	return p
}

// Validate returns the French message of the first missing required field,
// or "" when the post can be saved.
func (p Post) Validate() string {
	switch {
	case strings.TrimSpace(p.Title) == "":
		return "Le titre est obligatoire"
	case p.PubDate.IsZero():
		return "La date est obligatoire"
	case strings.TrimSpace(p.Location) == "":
		return "Le lieu est obligatoire"
	case strings.TrimSpace(p.MainImage) == "":
		return "L'image principale est obligatoire"
	}
	return ""
}

var dateLayouts = []string{
	DateLayout,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseDate accepts a bare date or a timestamp and returns the UTC day it
// falls on. Timestamps carrying an offset are converted to UTC first.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		y, m, d := t.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, fmt.Errorf("content: invalid date %q", s)
}
