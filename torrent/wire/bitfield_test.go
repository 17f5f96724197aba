package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitfieldRoundTrip(t *testing.T) {
	const numPieces = 20
	bf := NewBitfield(numPieces)

	for _, i := range []int{0, 3, 7, 8, 19} {
		bf.Set(i)
	}

	msg := EncodeBitfieldMessage(bf)
	decoded, err := DecodeBitfield(msg, numPieces)
	require.NoError(t, err)

	for i := 0; i < numPieces; i++ {
		want := i == 0 || i == 3 || i == 7 || i == 8 || i == 19
		assert.Equal(t, want, decoded.Has(i), "piece %d", i)
	}
}

func TestDecodeBitfieldRejectsWrongLength(t *testing.T) {
	msg := &Message{ID: Bitfield, Payload: []byte{0x00, 0x00}}
	_, err := DecodeBitfield(msg, 20) // wants ceil(20/8)=3 bytes
	assert.Error(t, err)
}

func TestDecodeBitfieldRejectsNonZeroSpareBits(t *testing.T) {
	// numPieces=9 -> 2 bytes, 7 spare bits in the last byte must be zero.
	msg := &Message{ID: Bitfield, Payload: []byte{0xFF, 0xFF}}
	_, err := DecodeBitfield(msg, 9)
	assert.Error(t, err)
}

func TestDecodeBitfieldRejectsWrongMessageID(t *testing.T) {
	msg := &Message{ID: Choke}
	_, err := DecodeBitfield(msg, 8)
	assert.Error(t, err)
}
