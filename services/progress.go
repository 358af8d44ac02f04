package services

import (
	"fetchrelay/types"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	downloadPercentRe = regexp.MustCompile(`^\[download\]\s+(\d+(?:\.\d+)?)%`)
	downloadSpeedRe   = regexp.MustCompile(`\bat\s+(\d+(?:\.\d+)?\s*[KMGT]?i?B/s)`)
	downloadETARe     = regexp.MustCompile(`\bETA\s+(\d+(?::\d+)+)`)
	fragmentRe        = regexp.MustCompile(`\((?:frag|segment)\s+(\d+)/(\d+)\)`)
	ffmpegTimeRe      = regexp.MustCompile(`\btime=(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
)

// Lines carrying these prefixes mean the tool moved on to post-processing.
var convertMarkers = []string{
	"[Merger]",
	"[ExtractAudio]",
	"[VideoConvertor]",
	"[VideoRemuxer]",
	"[FixupM3u8]",
	"[ffmpeg]",
}

// ProgressUpdate is one parsed telemetry sample from the fetch tool
type ProgressUpdate struct {
	Status   types.JobStatus
	Progress int
	Speed    string
	ETA      string
}

// ProgressParser turns fetch tool output lines into progress updates for a
// single job. Percentages never go down within a phase.
type ProgressParser struct {
	duration float64
	phase    types.JobStatus
	percent  int
	started  bool
}

// NewProgressParser returns a parser for one fetch run. duration is the media
// length in seconds as reported by the probe, or 0 when unknown.
func NewProgressParser(duration float64) *ProgressParser {
	return &ProgressParser{
		duration: duration,
		phase:    types.JobStatusDownloading,
	}
}

// Parse inspects one output line. It reports ok only when the line changed
// the phase or raised the percentage.
func (p *ProgressParser) Parse(line string) (ProgressUpdate, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return ProgressUpdate{}, false
	}

	if isConvertMarker(line) {
		if p.phase != types.JobStatusConverting {
			return p.enter(types.JobStatusConverting, 0, "", ""), true
		}
		// "[ffmpeg]" lines may also carry a time= field
		if pct, ok := p.ffmpegPercent(line); ok {
			return p.raise(pct, "", "")
		}
		return ProgressUpdate{}, false
	}

	if p.phase == types.JobStatusConverting {
		if pct, ok := p.ffmpegPercent(line); ok {
			return p.raise(pct, "", "")
		}
		return ProgressUpdate{}, false
	}

	m := downloadPercentRe.FindStringSubmatch(line)
	if m == nil {
		return ProgressUpdate{}, false
	}

	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return ProgressUpdate{}, false
	}
	if frag := fragmentRe.FindStringSubmatch(line); frag != nil {
		done, _ := strconv.Atoi(frag[1])
		total, _ := strconv.Atoi(frag[2])
		if total > 0 {
			value = math.Max(value, float64(done)/float64(total)*100)
		}
	}

	speed, eta := "", ""
	if s := downloadSpeedRe.FindStringSubmatch(line); s != nil {
		speed = strings.ReplaceAll(s[1], " ", "")
	}
	if e := downloadETARe.FindStringSubmatch(line); e != nil {
		eta = e[1]
	}

	if !p.started {
		return p.enter(types.JobStatusDownloading, clampPercent(value), speed, eta), true
	}
	return p.raise(clampPercent(value), speed, eta)
}

// Phase returns the phase the parser currently attributes output to
func (p *ProgressParser) Phase() types.JobStatus {
	return p.phase
}

func (p *ProgressParser) enter(phase types.JobStatus, pct int, speed, eta string) ProgressUpdate {
	p.started = true
	p.phase = phase
	p.percent = pct
	return ProgressUpdate{Status: phase, Progress: pct, Speed: speed, ETA: eta}
}

func (p *ProgressParser) raise(pct int, speed, eta string) (ProgressUpdate, bool) {
	if pct <= p.percent {
		return ProgressUpdate{}, false
	}
	p.percent = pct
	return ProgressUpdate{Status: p.phase, Progress: pct, Speed: speed, ETA: eta}, true
}

func (p *ProgressParser) ffmpegPercent(line string) (int, bool) {
	if p.duration <= 0 {
		return 0, false
	}
	m := ffmpegTimeRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	h, _ := strconv.Atoi(m[1])
	mins, _ := strconv.Atoi(m[2])
	sec, _ := strconv.ParseFloat(m[3], 64)
	elapsed := float64(h*3600+mins*60) + sec
	return clampPercent(elapsed / p.duration * 100), true
}

func isConvertMarker(line string) bool {
	for _, marker := range convertMarkers {
		if strings.HasPrefix(line, marker) {
			return true
		}
	}
	return false
}

func clampPercent(v float64) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(math.Floor(v))
}
