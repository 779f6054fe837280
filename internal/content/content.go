package content

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// MaxUserNameLength is the longest accepted user name in runes.
const MaxUserNameLength = 30

var (
	policy   = newPolicy()
	markdown = goldmark.New(
		goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
		goldmark.WithRendererOptions(html.WithHardWraps()),
	)
	urlRegex = regexp.MustCompile(`https?://[^\s]+`)
)

func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^language-[\w+#-]+$`)).OnElements("code")
	p.AddTargetBlankToFullyQualifiedLinks(true)
	return p
}

// sanitize strips unsafe HTML from rendered message markdown.
func sanitize(input string) string {
	return policy.Sanitize(input)
}

// Escape escapes special characters like "<" to become "&lt;".
// It matches the behavior of html/template and is safe for use in HTML attributes.
func Escape(input string) string {
	return template.HTMLEscapeString(input)
}

// FormatMessage renders message markdown (code blocks, inline code, bold,
// italics, links) to sanitized HTML.
func FormatMessage(text string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return Escape(text)
	}
	return strings.TrimSpace(sanitize(buf.String()))
}

// DetectURLs returns the http(s) links in text in order.
func DetectURLs(text string) []string {
	return urlRegex.FindAllString(text, -1)
}

// FormatTimeAgo describes how long ago ts was relative to now.
func FormatTimeAgo(ts, now time.Time) string {
	d := now.Sub(ts)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	}
	return ts.Local().Format("2006-01-02")
}

// NormalizeUserName trims a free-text user name and checks it is usable.
// There are no accounts; the name only labels messages.
func NormalizeUserName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("user name cannot be empty")
	}
	if utf8.RuneCountInString(name) > MaxUserNameLength {
		return "", fmt.Errorf("user name is longer than %d characters", MaxUserNameLength)
	}
	if strings.ContainsAny(name, "<>") {
		return "", errors.New("user name cannot contain markup")
	}
	return name, nil
}
