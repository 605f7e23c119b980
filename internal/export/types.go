package export

import (
	"math"

	"github.com/snuttify/snuttify-agent/internal/library"
)

// Clip is one EDL event: a snippet's time span in its source video.
type Clip struct {
	ClipName  string
	MediaPath string
	SnippetID string
	StartMs   int
	EndMs     int
}

// ClipsFromRecord turns every snippet of rec into a clip of mediaPath.
// Snippets with an empty span are skipped.
func ClipsFromRecord(rec *library.Record, mediaPath string) []Clip {
	clips := make([]Clip, 0, len(rec.Snippets))
	for _, sn := range rec.Snippets {
		start := secondsToMs(sn.Start)
		end := secondsToMs(sn.End)
		if end <= start {
			continue
		}
		clips = append(clips, Clip{
			ClipName:  SanitizeName(sn.Title, 64),
			MediaPath: mediaPath,
			SnippetID: sn.ID,
			StartMs:   start,
			EndMs:     end,
		})
	}
	return clips
}

func secondsToMs(s float64) int {
	return int(math.Round(s * 1000))
}
