package resumable

import (
	"fmt"
	"math"
	"time"
)

const (
	kib = 1024.0
	mib = 1024.0 * 1024.0
)

// Progress is the telemetry emitted after each chunk
type Progress struct {
	Offset  int64
	Total   int64
	Percent int
	Speed   string
	ETA     string
}

func newProgress(offset, total, chunkBytes int64, elapsed time.Duration) Progress {
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	bps := float64(chunkBytes) / elapsed.Seconds()

	return Progress{
		Offset:  offset,
		Total:   total,
		Percent: Percent(offset, total),
		Speed:   FormatSpeed(bps),
		ETA:     FormatETA(total-offset, bps),
	}
}

// Percent maps an offset onto 0..99. 100 is left for the completed job.
func Percent(offset, total int64) int {
	if total <= 0 {
		return 0
	}
	if offset >= total {
		return 99
	}
	return int(math.Floor(float64(offset) / float64(total) * 99))
}

// FormatSpeed renders bytes per second as MiB/s or KiB/s
func FormatSpeed(bps float64) string {
	if bps >= mib {
		return fmt.Sprintf("%.2f MiB/s", bps/mib)
	}
	return fmt.Sprintf("%.2f KiB/s", bps/kib)
}

// FormatETA renders the remaining time as M:SS
func FormatETA(remaining int64, bps float64) string {
	if remaining <= 0 || bps <= 0 {
		return "0:00"
	}
	secs := int(math.Ceil(float64(remaining) / bps))
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
