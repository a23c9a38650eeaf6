// Package attachment classifies uploads and turns message content into
// attachment links.
package attachment

import (
	"mime"
	"net/url"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Kind is the coarse storage routing tag sent with an upload
type Kind string

const (
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindDocument Kind = ""
)

var allowedImages = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

// MediaType lowercases a MIME type and strips its parameters
func MediaType(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		return mt
	}
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

// Classify maps a MIME type to its upload kind. Anything that is neither
// image nor video is a document and carries no tag.
func Classify(contentType string) Kind {
	mt := MediaType(contentType)
	switch {
	case strings.HasPrefix(mt, "image/"):
		return KindImage
	case strings.HasPrefix(mt, "video/"):
		return KindVideo
	}
	return KindDocument
}

// AllowedImage reports whether an image type may be uploaded.
// Only JPEG, PNG, WEBP and GIF are.
func AllowedImage(contentType string) bool {
	return allowedImages[MediaType(contentType)]
}

// Sniff detects the MIME type from the leading bytes of a file
func Sniff(head []byte) string {
	return MediaType(mimetype.Detect(head).String())
}

// urlPattern matches absolute, protocol-relative and upload-relative links
var urlPattern = regexp.MustCompile(`(?i)(?:https?://|//[a-z0-9.-]+\.[a-z]{2,}/|/uploads/)[^\s<>"']+`)

// FindURLs returns the link-looking substrings of text in order of appearance
func FindURLs(text string) []string {
	matches := urlPattern.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}

	out := make([]string, 0, len(matches))
	for _, m := range matches {
		start, end := m[0], m[1]
		// "//host/" must not match inside "https://host/"
		if start > 0 && text[start] == '/' && text[start-1] == ':' {
			continue
		}
		out = append(out, strings.TrimRight(text[start:end], ".,;:!?)"))
	}
	return out
}

// Normalize resolves a link for display. Relative paths resolve against base,
// protocol-relative links get https, and absolute URLs pass through.
func Normalize(raw string, base *url.URL) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if strings.HasPrefix(raw, "//") {
		return "https:" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.IsAbs() || base == nil {
		return raw
	}

	origin := &url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/"}
	return origin.ResolveReference(u).String()
}

// Links collects the normalized attachment links of a message: URLs found in
// its content followed by its file URL, without duplicates.
func Links(content, fileURL string, base *url.URL) []string {
	var links []string
	seen := make(map[string]bool)
	add := func(raw string) {
		link := Normalize(raw, base)
		if link == "" || seen[link] {
			return
		}
		seen[link] = true
		links = append(links, link)
	}

	for _, u := range FindURLs(content) {
		add(u)
	}
	add(fileURL)
	return links
}
