package services

import (
	"fetchrelay/types"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressParserPlainDownload(t *testing.T) {
	p := NewProgressParser(0)

	u, ok := p.Parse("[download]  42.3% of 10.00MiB at  1.20MiB/s ETA 00:07")
	require.True(t, ok)
	assert.Equal(t, types.JobStatusDownloading, u.Status)
	assert.Equal(t, 42, u.Progress)
	assert.Equal(t, "1.20MiB/s", u.Speed)
	assert.Equal(t, "00:07", u.ETA)
}

func TestProgressParserFragmentEstimate(t *testing.T) {
	p := NewProgressParser(0)

	u, ok := p.Parse("[download]  12.0% of ~100.00MiB at 2.00MiB/s ETA 01:10 (frag 20/40)")
	require.True(t, ok)
	assert.Equal(t, 50, u.Progress, "fragment ratio wins when it is higher")

	u, ok = p.Parse("[download]  80.5% of ~100.00MiB at 2.00MiB/s ETA 00:10 (frag 21/40)")
	require.True(t, ok)
	assert.Equal(t, 80, u.Progress, "plain percent wins when it is higher")
}

func TestProgressParserNeverDecreasesWithinPhase(t *testing.T) {
	p := NewProgressParser(0)

	_, ok := p.Parse("[download]  40.0% of 10.00MiB at 1.00MiB/s ETA 00:06")
	require.True(t, ok)

	_, ok = p.Parse("[download]  25.0% of 10.00MiB at 1.00MiB/s ETA 00:08")
	assert.False(t, ok, "a lower percent must not be emitted")

	_, ok = p.Parse("[download]  40.0% of 10.00MiB at 1.00MiB/s ETA 00:06")
	assert.False(t, ok, "an equal percent is not a change")

	u, ok := p.Parse("[download]  41.0% of 10.00MiB at 1.00MiB/s ETA 00:05")
	require.True(t, ok)
	assert.Equal(t, 41, u.Progress)
}

func TestProgressParserConvertingPhase(t *testing.T) {
	p := NewProgressParser(200)

	_, ok := p.Parse("[download] 100% of 10.00MiB in 00:00:05 at 2.00MiB/s")
	require.True(t, ok)

	u, ok := p.Parse(`[ExtractAudio] Destination: /tmp/abc.mp3`)
	require.True(t, ok)
	assert.Equal(t, types.JobStatusConverting, u.Status)
	assert.Equal(t, 0, u.Progress, "entering a phase resets the counter")

	u, ok = p.Parse("size=    1024kB time=00:01:40.00 bitrate= 320.0kbits/s speed=50x")
	require.True(t, ok)
	assert.Equal(t, 50, u.Progress)

	_, ok = p.Parse("size=     512kB time=00:00:20.00 bitrate= 320.0kbits/s speed=50x")
	assert.False(t, ok)

	_, ok = p.Parse("[download]  99.0% of 10.00MiB at 1.00MiB/s ETA 00:01")
	assert.False(t, ok, "download lines after conversion started are ignored")
	assert.Equal(t, types.JobStatusConverting, p.Phase())
}

func TestProgressParserConvertingWithoutDuration(t *testing.T) {
	p := NewProgressParser(0)

	u, ok := p.Parse("[Merger] Merging formats into \"/tmp/abc.mp4\"")
	require.True(t, ok)
	assert.Equal(t, types.JobStatusConverting, u.Status)

	_, ok = p.Parse("size=1024kB time=00:01:40.00 bitrate=320.0kbits/s")
	assert.False(t, ok, "time lines need a known duration")
}

func TestProgressParserIgnoresNoise(t *testing.T) {
	lines := []string{
		"",
		"[youtube] abc: Downloading webpage",
		"[download] Destination: /tmp/abc.webm",
		"WARNING: something odd",
		"[info] abc: Downloading 1 format(s): 251",
	}

	p := NewProgressParser(0)
	for _, line := range lines {
		_, ok := p.Parse(line)
		assert.False(t, ok, "line %q", line)
	}
}

func TestProgressParserClampsToHundred(t *testing.T) {
	p := NewProgressParser(10)
	p.Parse("[ffmpeg] Merging")

	u, ok := p.Parse("time=00:00:30.00")
	require.True(t, ok)
	assert.Equal(t, 100, u.Progress)
}
