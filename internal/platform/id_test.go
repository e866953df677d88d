package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewID_ReturnsValidUUIDString(t *testing.T) {
	id := NewID()
	assert.NotEmpty(t, id)
	assert.Regexp(t, `^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`, id)
}

func TestNewID_ReturnsUniqueValues(t *testing.T) {
	seen := make(map[string]bool, 100)
	for i := 0; i < 100; i++ {
		id := NewID()
		assert.False(t, seen[id], "duplicate ID generated: %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, 100)
}

func TestIsID(t *testing.T) {
	assert.True(t, IsID(NewID()))
	assert.False(t, IsID("scr-1"))
	assert.False(t, IsID(""))
}

func TestPlaylistName(t *testing.T) {
	tests := []struct {
		name, screenName, screenID, want string
	}{
		{"uuid", "Lobby North", "3f2a9c1e-0000-4000-8000-000000000000", "Lobby North [3f2a9c1e]"},
		{"short id", "Bar", "s1", "Bar [s1]"},
		{"blank name", "  ", "abc", "Screen [abc]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PlaylistName(tt.screenName, tt.screenID))
		})
	}
}
