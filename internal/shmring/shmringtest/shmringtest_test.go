package shmringtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/lensd/internal/shmring"
)

func TestSource_DrainRoundTrip(t *testing.T) {
	src := NewSource[shmring.FrameData](4)
	src.Produce(shmring.FrameData{End: 1.0})
	src.Produce(shmring.FrameData{End: 2.0})

	dst := make([]shmring.FrameData, 4)
	count, missed := src.Drain(dst)
	require.Equal(t, 2, count)
	assert.Equal(t, 0, missed)
	assert.Equal(t, 1.0, dst[0].End)
	assert.Equal(t, 2.0, dst[1].End)
}

func TestSource_DrainReportsOverwrites(t *testing.T) {
	src := NewSource[shmring.FrameData](2)
	for i := 0; i < 5; i++ {
		src.Produce(shmring.FrameData{End: float64(i)})
	}

	dst := make([]shmring.FrameData, 2)
	count, missed := src.Drain(dst)
	require.Equal(t, 2, count)
	assert.Equal(t, 3, missed)
}
