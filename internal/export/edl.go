package export

import (
	"fmt"
	"math"
	"strings"
)

// GenerateEDL renders clips as a CMX3600 edit list. Each clip becomes one
// audio+video event; events are laid end to end on the record side.
// 29.97 and 59.94 produce drop-frame timecode.
func GenerateEDL(clips []Clip, title string, frameRate float64) string {
	tc := newTimecoder(frameRate)

	var b strings.Builder
	fmt.Fprintf(&b, "TITLE: %s\n", title)
	if tc.drop > 0 {
		b.WriteString("FCM: DROP FRAME\n")
	} else {
		b.WriteString("FCM: NON-DROP FRAME\n")
	}
	b.WriteString("\n")

	record := 0
	for i, clip := range clips {
		length := clip.EndMs - clip.StartMs
		fmt.Fprintf(&b, "%03d  AX       B     C        %s %s %s %s\n", i+1,
			tc.format(clip.StartMs), tc.format(clip.EndMs),
			tc.format(record), tc.format(record+length))
		fmt.Fprintf(&b, "* FROM CLIP NAME:  %s\n", clip.ClipName)
		fmt.Fprintf(&b, "* SOURCE FILE:  %s\n", clip.MediaPath)
		if clip.SnippetID != "" {
			fmt.Fprintf(&b, "* SNIPPET ID:  %s\n", clip.SnippetID)
		}
		b.WriteString("\n")
		record += length
	}
	return b.String()
}

type timecoder struct {
	rate float64 // actual frames per second
	fps  int     // nominal frames per second
	drop int     // frame numbers skipped per minute, 0 for non-drop
}

func newTimecoder(frameRate float64) timecoder {
	if frameRate <= 0 {
		frameRate = 30
	}
	tc := timecoder{rate: frameRate, fps: int(math.Round(frameRate))}
	switch {
	case math.Abs(frameRate-29.97) < 0.01:
		tc.drop = 2
	case math.Abs(frameRate-59.94) < 0.01:
		tc.drop = 4
	default:
		// non-drop counts whole nominal frames
		tc.rate = float64(tc.fps)
	}
	return tc
}

func (tc timecoder) format(ms int) string {
	frames := int(math.Round(float64(ms) * tc.rate / 1000))
	sep := ":"
	if tc.drop > 0 {
		frames = tc.dropFrameLabel(frames)
		sep = ";"
	}

	ff := frames % tc.fps
	secs := frames / tc.fps
	return fmt.Sprintf("%02d:%02d:%02d%s%02d", secs/3600, (secs/60)%60, secs%60, sep, ff)
}

// dropFrameLabel maps a real frame count to the frame number shown in a
// drop-frame timecode: the first drop numbers of every minute are skipped
// except on each tenth minute.
func (tc timecoder) dropFrameLabel(frames int) int {
	perTen := int(math.Round(tc.rate * 600))
	perMinute := tc.fps*60 - tc.drop

	tens, rem := frames/perTen, frames%perTen
	frames += 9 * tc.drop * tens
	if rem > tc.drop {
		frames += tc.drop * ((rem - tc.drop) / perMinute)
	}
	return frames
}
