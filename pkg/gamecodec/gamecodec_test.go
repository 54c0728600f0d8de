package gamecodec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livechess-gg/livechess/internal/domains/entities"
)

func TestRoundTrip(t *testing.T) {
	moves := []entities.MoveRecord{
		{San: "e4", Mover: entities.White, TimeTakenMs: 2500},
		{San: "e5", Mover: entities.Black, TimeTakenMs: 1800},
		{San: "Nf3", Mover: entities.White, TimeTakenMs: 900},
		{San: "Nc6", Mover: entities.Black, TimeTakenMs: 12000},
		{San: "Bb5+", Mover: entities.White, TimeTakenMs: 40},
		{San: "O-O", Mover: entities.Black, TimeTakenMs: 3100},
	}
	decoded, err := Decode(Encode(moves))
	require.NoError(t, err)
	assert.Equal(t, moves, decoded)
}

func TestEncodeEmpty(t *testing.T) {
	assert.Equal(t, "", Encode(nil))
	decoded, err := Decode("")
	require.NoError(t, err)
	assert.Nil(t, decoded)
}

func TestEncodeForm(t *testing.T) {
	moves := []entities.MoveRecord{
		{San: "e4", Mover: entities.White, TimeTakenMs: 2500},
		{San: "e5", Mover: entities.Black, TimeTakenMs: 1800},
	}
	assert.Equal(t, "e4/w/2500;e5/b/1800", Encode(moves))
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := []string{
		"e4",          // missing fields
		"e4/w",        // missing time
		"e4/x/100",    // bad color
		"e4/w/abc",    // bad time
		"e4/w/-5",     // negative time
		"/w/100",      // empty san
		"e4/w/1;e5/b", // second move malformed
	}
	for _, c := range cases {
		_, err := Decode(c)
		assert.Error(t, err, "input %q", c)
	}
}

func TestMovetext(t *testing.T) {
	moves := []entities.MoveRecord{
		{San: "e4", Mover: entities.White, TimeTakenMs: 1},
		{San: "e5", Mover: entities.Black, TimeTakenMs: 1},
		{San: "Nf3", Mover: entities.White, TimeTakenMs: 1},
	}
	assert.Equal(t, "1. e4 e5 2. Nf3", Movetext(moves))
	assert.Equal(t, "", Movetext(nil))
}
