package resumable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatSpeed(t *testing.T) {
	assert.Equal(t, "512.00 KiB/s", FormatSpeed(512*1024))
	assert.Equal(t, "1.00 MiB/s", FormatSpeed(1024*1024))
	assert.Equal(t, "2.50 MiB/s", FormatSpeed(2.5*1024*1024))
	assert.Equal(t, "0.00 KiB/s", FormatSpeed(0))
}

func TestFormatETA(t *testing.T) {
	assert.Equal(t, "0:10", FormatETA(10*1024*1024, 1024*1024))
	assert.Equal(t, "1:05", FormatETA(65, 1))
	assert.Equal(t, "0:00", FormatETA(0, 100))
	assert.Equal(t, "0:00", FormatETA(100, 0))
}

func TestPercentNeverReachesHundred(t *testing.T) {
	assert.Equal(t, 0, Percent(0, 100))
	assert.Equal(t, 49, Percent(50, 100))
	assert.Equal(t, 98, Percent(99, 100))
	assert.Equal(t, 99, Percent(100, 100))
	assert.Equal(t, 0, Percent(10, 0))
}

func TestNewProgress(t *testing.T) {
	p := newProgress(5<<20, 10<<20, 5<<20, time.Second)

	assert.Equal(t, 49, p.Percent)
	assert.Equal(t, "5.00 MiB/s", p.Speed)
	assert.Equal(t, "0:01", p.ETA)
}
