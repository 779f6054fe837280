package realtime

import (
	"fmt"
	"strings"

	"hchat/internal/models"
)

// Filter selects inserted rows for a change feed, e.g. room_id=eq.abc123.
type Filter struct {
	Column string
	Value  string
}

// RoomFilter matches rows of one room.
func RoomFilter(roomID string) Filter {
	return Filter{Column: "room_id", Value: roomID}
}

// ParseFilter parses the column=eq.value form.
func ParseFilter(s string) (Filter, error) {
	column, rest, ok := strings.Cut(s, "=")
	if !ok {
		return Filter{}, fmt.Errorf("invalid filter %q", s)
	}
	value, ok := strings.CutPrefix(rest, "eq.")
	if !ok {
		return Filter{}, fmt.Errorf("unsupported filter operator in %q", s)
	}
	switch column {
	case "room_id", "user_id":
	default:
		return Filter{}, fmt.Errorf("unsupported filter column %q", column)
	}
	return Filter{Column: column, Value: value}, nil
}

func (f Filter) String() string {
	return f.Column + "=eq." + f.Value
}

func (f Filter) Match(row models.Row) bool {
	switch f.Column {
	case "room_id":
		return row.RoomID == f.Value
	case "user_id":
		return row.UserID == f.Value
	}
	return false
}
