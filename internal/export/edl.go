// Package export renders a compiled timeline as CMX3600 EDL text.
package export

import (
	"fmt"
	"math"
	"strings"

	"github.com/cutroom/cutroom-server/internal/timeline"
)

// GenerateEDL renders items in display order. Record timecodes are taken
// from the items' display bounds, source timecodes from their trim bounds,
// so the output mirrors the compiled placement exactly.
func GenerateEDL(items []*timeline.Item, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = 30
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	for i, item := range items {
		srcIn := msToTimecode(item.Trim.From, fps)
		srcOut := msToTimecode(item.Trim.To, fps)
		recIn := msToTimecode(item.Display.From, fps)
		recOut := msToTimecode(item.Display.To, fps)

		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, "AX", "V", srcIn, srcOut, recIn, recOut),
			fmt.Sprintf("* FROM CLIP NAME:  %s", item.Name),
			fmt.Sprintf("* MEDIA PATH:  %s", item.Src),
		)
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func msToTimecode(ms int64, fps int) string {
	totalFrames := int(math.Round(float64(ms) * float64(fps) / 1000.0))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
