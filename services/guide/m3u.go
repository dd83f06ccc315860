package guide

import (
	"fmt"
	"strings"

	"tvguide/models"
)

// GenerateM3U lists every channel as a playlist entry pointing at
// {streamBaseURL}/{channel id}.
func GenerateM3U(chs []models.Channel, groupTitle, streamBaseURL string) []byte {
	base := strings.TrimRight(streamBaseURL, "/")

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for _, ch := range chs {
		fmt.Fprintf(&b, "#EXTINF:-1 tvg-id=\"%s\" group-title=\"%s\", %s\n", ch.ID, groupTitle, ch.DisplayName)
		fmt.Fprintf(&b, "%s/%s\n", base, ch.ID)
	}
	return []byte(b.String())
}
