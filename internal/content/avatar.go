package content

import (
	"strings"
	"unicode"
	"unicode/utf16"
)

var palette = []string{
	"#EC4899", "#8B5CF6", "#F97316", "#06B6D4", "#10B981",
	"#F59E0B", "#EF4444", "#8B5A2B", "#6366F1", "#84CC16",
	"#F472B6", "#A78BFA", "#FB923C", "#38BDF8", "#4ADE80",
}

// UserColor picks a stable avatar color for a user name. The hash keeps
// JavaScript number semantics (UTF-16 units, int32 shift) so web clients
// pick the same color.
func UserColor(name string) string {
	var hash int64
	for _, c := range utf16.Encode([]rune(name)) {
		shifted := int64(int32(uint32(hash)) << 5)
		hash = int64(c) + shifted - hash
	}
	if hash < 0 {
		hash = -hash
	}
	return palette[hash%int64(len(palette))]
}

// Initials returns up to two upper-case initials of the words in name.
func Initials(name string) string {
	var b strings.Builder
	n := 0
	for _, word := range strings.Fields(name) {
		r := []rune(word)[0]
		b.WriteRune(unicode.ToUpper(r))
		n++
		if n == 2 {
			break
		}
	}
	return b.String()
}
