package transcribe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFloat32Mono(t *testing.T) {
	got := Float32([]int16{0, 16384, -32768}, 1)
	assert.Equal(t, []float32{0, 0.5, -1}, got)
}

func TestFloat32Downmix(t *testing.T) {
	got := Float32([]int16{16384, -16384, 32767, 32767, 7}, 2)
	assert.Len(t, got, 2, "trailing partial frame is dropped")
	assert.InDelta(t, 0, got[0], 1e-6)
	assert.InDelta(t, 32767.0/32768.0, got[1], 1e-6)
}
