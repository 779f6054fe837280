package realtime

import (
	"testing"

	"hchat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter("room_id=eq.abc123")
	require.NoError(t, err)
	assert.Equal(t, RoomFilter("abc123"), f)
	assert.Equal(t, "room_id=eq.abc123", f.String())

	f, err = ParseFilter("user_id=eq.Alice_abc123")
	require.NoError(t, err)
	assert.True(t, f.Match(models.Row{UserID: "Alice_abc123"}))

	for _, bad := range []string{"", "room_id", "room_id=neq.x", "text=eq.x"} {
		_, err := ParseFilter(bad)
		assert.Error(t, err, bad)
	}
}

func TestFilter_Match(t *testing.T) {
	f := RoomFilter("abc123")
	assert.True(t, f.Match(models.Row{RoomID: "abc123"}))
	assert.False(t, f.Match(models.Row{RoomID: "abc1234"}))
	assert.False(t, Filter{Column: "text", Value: "x"}.Match(models.Row{Text: "x"}))
}
