package content

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrMalformed is returned when a document has no readable header block.
var ErrMalformed = errors.New("content: malformed document")

const fence = "---"

// header mirrors the key: value block at the top of a post document.
type header struct {
	Title      string         `yaml:"title"`
	PubDate    string         `yaml:"pubDate"`
	Location   string         `yaml:"location"`
	MainImage  string         `yaml:"main_image"`
	GalleryURL string         `yaml:"gallery_url"`
	VideoURL   string         `yaml:"video_url"`
	Tags       map[string]any `yaml:"tags"`
}

// Marshal renders p as a stored document: the header block followed by the
// raw markdown body. Every known tag is written, in TagKeys order.
func Marshal(p Post) []byte {
	var b bytes.Buffer
	b.WriteString(fence + "\n")
	writeQuoted(&b, "title", p.Title)
	b.WriteString("pubDate: " + p.PubDate.UTC().Format(DateLayout) + "\n")
	if p.Location != "" {
		writeQuoted(&b, "location", p.Location)
	}
	if p.MainImage != "" {
		writeQuoted(&b, "main_image", p.MainImage)
	}
	if p.GalleryURL != "" {
		writeQuoted(&b, "gallery_url", p.GalleryURL)
	}
	writeQuoted(&b, "video_url", p.VideoURL)
	b.WriteString("tags:\n")
	for _, k := range TagKeys {
		fmt.Fprintf(&b, "  %s: %t\n", k, p.Tags[k])
	}
	b.WriteString(fence + "\n\n")
	b.WriteString(p.Body)
	b.WriteString("\n")
	return b.Bytes()
}

func writeQuoted(b *bytes.Buffer, key, value string) {
	b.WriteString(key)
	b.WriteString(": ")
	b.WriteString(quote(value))
	b.WriteByte('\n')
}

// quote renders s as a JSON string literal, which is also a valid YAML
// double-quoted scalar. HTML characters are kept as is.
func quote(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return `""`
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// Unmarshal parses a stored document into p. The slug is not part of the
// document and is left untouched; every other field is overwritten.
func Unmarshal(data []byte, p *Post) error {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	if !strings.HasPrefix(text, fence+"\n") {
		return ErrMalformed
	}
	rest := text[len(fence)+1:]

	var head, body string
	switch {
	case strings.HasPrefix(rest, fence+"\n"):
		body = rest[len(fence)+1:]
	case rest == fence:
	default:
		if i := strings.Index(rest, "\n"+fence+"\n"); i >= 0 {
			head, body = rest[:i], rest[i+len(fence)+2:]
		} else if strings.HasSuffix(rest, "\n"+fence) {
			head = strings.TrimSuffix(rest, "\n"+fence)
		} else {
			return ErrMalformed
		}
	}

	var h header
	if err := yaml.Unmarshal([]byte(head), &h); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	date, err := ParseDate(h.PubDate)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	body = strings.TrimPrefix(body, "\n")
	body = strings.TrimSuffix(body, "\n")

	tags := make(Tags, len(h.Tags))
	for k, v := range h.Tags {
		if b, ok := v.(bool); ok {
			tags[k] = b
		}
	}

	*p = Post{
		Slug:       p.Slug,
		Title:      h.Title,
		PubDate:    date,
		Location:   h.Location,
		MainImage:  h.MainImage,
		GalleryURL: h.GalleryURL,
		VideoURL:   h.VideoURL,
		Tags:       tags,
		Body:       body,
	}
	*p = p.Normalize()
	return nil
}
