package platform

import (
	"fmt"
	"strings"
)

// PlaylistName builds the control-plane name of a screen's dedicated
// playlist. Example: "Lobby North [3f2a9c1e]".
func PlaylistName(screenName, screenID string) string {
	short := strings.ReplaceAll(screenID, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	name := strings.TrimSpace(screenName)
	if name == "" {
		name = "Screen"
	}
	return fmt.Sprintf("%s [%s]", name, short)
}
