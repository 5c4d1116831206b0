package denoise

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noiseFrame(seed int64, n int, amp float64) []int16 {
	r := rand.New(rand.NewSource(seed))
	out := make([]int16, n)
	for i := range out {
		out[i] = int16((r.Float64()*2 - 1) * amp)
	}
	return out
}

func toneFrame(n, period int, amp float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amp * math.Sin(2*math.Pi*float64(i)/float64(period)))
	}
	return out
}

func TestNewRejectsBadParameters(t *testing.T) {
	_, err := New(1, 10)
	assert.Error(t, err)

	_, err = New(128, 0)
	assert.Error(t, err)
}

func TestPassThroughWhileEstimating(t *testing.T) {
	s, err := New(128, 8)
	require.NoError(t, err)

	// 512-sample frames hold four sub-blocks, so two frames complete estimation.
	frame := noiseFrame(1, 512, 2000)
	orig := append([]int16(nil), frame...)

	st := s.Process(frame)
	assert.Equal(t, orig, frame)
	assert.Equal(t, 4, st.Blocks)
	assert.False(t, st.ProfileReady)
	assert.True(t, s.Estimating())
	assert.Nil(t, s.Profile())

	frame = noiseFrame(2, 512, 2000)
	orig = append([]int16(nil), frame...)
	st = s.Process(frame)
	assert.Equal(t, orig, frame, "the K-th sub-block is still passed through")
	assert.True(t, st.ProfileReady)
	assert.False(t, s.Estimating())
	assert.Len(t, s.Profile(), 65)
}

func TestSubtractingOwnProfileYieldsSilence(t *testing.T) {
	s, err := New(128, 5)
	require.NoError(t, err)

	block := noiseFrame(7, 128, 3000)
	for i := 0; i < 5; i++ {
		b := append([]int16(nil), block...)
		s.Process(b)
	}
	require.False(t, s.Estimating())

	out := append([]int16(nil), block...)
	s.Process(out)
	for i, v := range out {
		assert.LessOrEqual(t, int(math.Abs(float64(v))), 1, "sample %d", i)
	}
}

func TestZeroProfileIsIdentity(t *testing.T) {
	s, err := New(256, 3)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		s.Process(make([]int16, 256))
	}
	require.False(t, s.Estimating())

	tone := toneFrame(512, 32, 8000)
	out := append([]int16(nil), tone...)
	s.Process(out)
	for i := range tone {
		assert.InDelta(t, tone[i], out[i], 1, "sample %d", i)
	}
}

func TestToneSurvivesNoiseSubtraction(t *testing.T) {
	s, err := New(128, 20)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		s.Process(noiseFrame(int64(i), 128, 300))
	}

	tone := toneFrame(128, 16, 10000)
	out := append([]int16(nil), tone...)
	s.Process(out)

	var in, got float64
	for i := range tone {
		in += float64(tone[i]) * float64(tone[i])
		got += float64(out[i]) * float64(out[i])
	}
	assert.Greater(t, got/in, 0.8)
	assert.LessOrEqual(t, got/in, 1.01)
}

func TestRemainderPassedThrough(t *testing.T) {
	s, err := New(128, 1)
	require.NoError(t, err)
	s.Process(noiseFrame(3, 128, 1000))
	require.False(t, s.Estimating())

	frame := noiseFrame(4, 130, 1000)
	tail := append([]int16(nil), frame[128:]...)

	st := s.Process(frame)
	assert.Equal(t, 1, st.Blocks)
	assert.Equal(t, 2, st.Remainder)
	assert.Equal(t, tail, frame[128:])

	short := []int16{5, 6, 7}
	st = s.Process(short)
	assert.Zero(t, st.Blocks)
	assert.Equal(t, []int16{5, 6, 7}, short)
}

func TestResetNoiseProfile(t *testing.T) {
	s, err := New(64, 2)
	require.NoError(t, err)

	s.Process(noiseFrame(5, 128, 1000))
	require.False(t, s.Estimating())

	s.ResetNoiseProfile()
	assert.True(t, s.Estimating())
	assert.Nil(t, s.Profile())

	frame := noiseFrame(6, 64, 1000)
	orig := append([]int16(nil), frame...)
	s.Process(frame)
	assert.Equal(t, orig, frame)
	assert.True(t, s.Estimating())
}

func TestProcessFloatWrongSize(t *testing.T) {
	s, err := New(64, 2)
	require.NoError(t, err)

	block := []float64{1, 2, 3}
	err = s.ProcessFloat(block)
	assert.ErrorIs(t, err, ErrTransformSize)
	assert.Equal(t, []float64{1, 2, 3}, block)
	assert.True(t, s.Estimating())
}

func TestToPCMClamps(t *testing.T) {
	assert.Equal(t, int16(math.MaxInt16), toPCM(1e6))
	assert.Equal(t, int16(math.MinInt16), toPCM(-1e6))
	assert.Equal(t, int16(3), toPCM(2.6))
}
