package bitstream

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutBitsPacksLSBFirst(t *testing.T) {
	w := NewWriter(nil)
	require.NoError(t, w.PutBits(0x5, 3))
	require.NoError(t, w.PutBits(0x1f, 5))
	require.NoError(t, w.PutBits(0x1, 1))
	w.Flush(1)
	assert.Equal(t, []byte{0xfd, 0x01}, w.Bytes())
}

func TestPutBitsRejectsOverflow(t *testing.T) {
	w := NewWriter(nil)
	assert.ErrorIs(t, w.PutBits(32, 5), ErrOverflow)
	assert.ErrorIs(t, w.PutBits(1, 33), ErrOverflow)
	assert.NoError(t, w.PutBits(0xffffffff, 32))
}

func TestFlushAlignment(t *testing.T) {
	w := NewWriter(nil)
	w.MustPutBits(1, 1)
	w.Flush(4)
	assert.Len(t, w.Bytes(), 4)

	w.MustPutBits(0xab, 8)
	w.Flush(4)
	assert.Equal(t, []byte{1, 0, 0, 0, 0xab, 0, 0, 0}, w.Bytes())
}

func TestRoundTripEveryWidth(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	type field struct {
		value uint32
		bits  uint
	}
	var fields []field
	w := NewWriter(nil)
	for width := uint(0); width <= 32; width++ {
		for range 8 {
			var v uint32
			if width > 0 {
				v = uint32(rng.Uint64() & (1<<width - 1))
			}
			fields = append(fields, field{v, width})
			require.NoError(t, w.PutBits(v, width))
		}
	}
	w.Flush(1)

	r := NewReader(w.Bytes())
	for i, f := range fields {
		got, err := r.ReadBits(f.bits)
		require.NoError(t, err)
		require.Equalf(t, f.value, got, "field %d width %d", i, f.bits)
	}
	_, err := r.ReadBits(16)
	assert.ErrorIs(t, err, ErrShortRead)
}

func TestExtractBitsPastEnd(t *testing.T) {
	data := []byte{0xff}
	assert.Equal(t, uint32(0x3), ExtractBits(data, 6, 5))
	assert.Equal(t, uint32(0), ExtractBits(data, 16, 8))
}
