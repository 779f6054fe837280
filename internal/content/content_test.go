package content

import (
	"slices"
	"strings"
	"testing"
	"time"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Plain text", "Hello World", "Hello World"},
		{"HTML tags", "Hello <b>World</b>", "Hello <b>World</b>"},
		{"Script tag", "<script>alert('xss')</script>Hello", "Hello"},
		{"Complex HTML", "<a href='javascript:alert(1)'>Click me</a>", "Click me"},
		{"Emoji", "I am 🤖", "I am 🤖"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitize(tt.input); got != tt.expected {
				t.Errorf("sanitize() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestEscape(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Plain text", "Hello World", "Hello World"},
		{"HTML chars", "<div>Hello</div>", "&lt;div&gt;Hello&lt;/div&gt;"},
		{"Quotes", `"Hello" 'World'`, "&#34;Hello&#34; &#39;World&#39;"},
		{"Emoji", "I am 🤖", "I am 🤖"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Escape(tt.input); got != tt.expected {
				t.Errorf("Escape() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestNormalizeUserName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"Plain", "Alice", "Alice", false},
		{"Trimmed", "  Alice  ", "Alice", false},
		{"Spaces inside", "Alice Cooper", "Alice Cooper", false},
		{"Unicode", "Zoë 🤖", "Zoë 🤖", false},
		{"Empty", "", "", true},
		{"Blank", "   ", "", true},
		{"Markup", "<b>Alice</b>", "", true},
		{"Too long", strings.Repeat("a", MaxUserNameLength+1), "", true},
		{"Max length", strings.Repeat("é", MaxUserNameLength), strings.Repeat("é", MaxUserNameLength), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeUserName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeUserName() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("NormalizeUserName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatMessage(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		contains []string
		excludes []string
	}{
		{"Bold", "**hi**", []string{"<strong>hi</strong>"}, nil},
		{"Italic", "*hi*", []string{"<em>hi</em>"}, nil},
		{"Inline code", "run `make`", []string{"<code>make</code>"}, nil},
		{"Fenced with language", "```go\nfmt.Println(1)\n```", []string{`<code class="language-go">`, "fmt.Println(1)"}, nil},
		{"Fenced plain", "```\na < b\n```", []string{"<pre><code>", "a &lt; b"}, nil},
		{"Link", "see https://example.com/x", []string{`href="https://example.com/x"`, `target="_blank"`}, nil},
		{"Script", "<script>alert(1)</script>\n\nhi", []string{"hi"}, []string{"<script", "alert(1)</script>"}},
		{"Javascript link", "[x](javascript:alert(1))", nil, []string{"javascript:"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatMessage(tt.input)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("FormatMessage() = %q, missing %q", got, want)
				}
			}
			for _, bad := range tt.excludes {
				if strings.Contains(got, bad) {
					t.Errorf("FormatMessage() = %q, must not contain %q", got, bad)
				}
			}
		})
	}
}

func TestDetectURLs(t *testing.T) {
	got := DetectURLs("a http://a.io b https://b.io/path?q=1 c ftp://no")
	want := []string{"http://a.io", "https://b.io/path?q=1"}
	if !slices.Equal(got, want) {
		t.Errorf("DetectURLs() = %v, want %v", got, want)
	}
	if got := DetectURLs("nothing here"); len(got) != 0 {
		t.Errorf("DetectURLs() = %v, want none", got)
	}
}

func TestFormatTimeAgo(t *testing.T) {
	now := time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{10 * time.Second, "just now"},
		{5 * time.Minute, "5m ago"},
		{59 * time.Minute, "59m ago"},
		{3 * time.Hour, "3h ago"},
		{2 * 24 * time.Hour, "2d ago"},
	}
	for _, tt := range tests {
		if got := FormatTimeAgo(now.Add(-tt.ago), now); got != tt.want {
			t.Errorf("FormatTimeAgo(%v) = %q, want %q", tt.ago, got, tt.want)
		}
	}
	old := now.Add(-30 * 24 * time.Hour)
	if got := FormatTimeAgo(old, now); got != old.Local().Format("2006-01-02") {
		t.Errorf("FormatTimeAgo(old) = %q", got)
	}
}

func TestUserColor(t *testing.T) {
	tests := map[string]string{
		"Alice": "#38BDF8",
		"Bob":   "#F59E0B",
		"":      "#EC4899",
	}
	for name, want := range tests {
		if got := UserColor(name); got != want {
			t.Errorf("UserColor(%q) = %s, want %s", name, got, want)
		}
	}
	if UserColor("Zoë Ångström 🚀 long name here") != palette[7] {
		t.Error("UserColor differs for non-ASCII name")
	}
}

func TestInitials(t *testing.T) {
	tests := map[string]string{
		"alice":          "A",
		"alice cooper":   "AC",
		"Mary Ann Evans": "MA",
		"  spaced out  ": "SO",
		"":               "",
		"élodie ünder":   "ÉÜ",
	}
	for in, want := range tests {
		if got := Initials(in); got != want {
			t.Errorf("Initials(%q) = %q, want %q", in, got, want)
		}
	}
}
