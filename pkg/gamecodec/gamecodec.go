// Package gamecodec converts between the canonical in-memory move history
// and its compact storage form. Internal logic always works on the
// structured sequence; the string form exists only at the storage and wire
// boundary.
package gamecodec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/livechess-gg/livechess/internal/domains/entities"
)

const (
	moveSep  = ";"
	fieldSep = "/"
)

// Encode renders a move history as "san/color/takenMs" triples joined by
// semicolons, e.g. "e4/w/2500;e5/b/1800".
func Encode(moves []entities.MoveRecord) string {
	var b strings.Builder
	for i, m := range moves {
		if i > 0 {
			b.WriteString(moveSep)
		}
		b.WriteString(m.San)
		b.WriteString(fieldSep)
		b.WriteString(colorCode(m.Mover))
		b.WriteString(fieldSep)
		b.WriteString(strconv.FormatInt(m.TimeTakenMs, 10))
	}
	return b.String()
}

// Decode parses the compact form back into the canonical sequence.
func Decode(encoded string) ([]entities.MoveRecord, error) {
	if encoded == "" {
		return nil, nil
	}
	parts := strings.Split(encoded, moveSep)
	moves := make([]entities.MoveRecord, 0, len(parts))
	for i, part := range parts {
		fields := strings.Split(part, fieldSep)
		if len(fields) != 3 {
			return nil, fmt.Errorf("move %d: want 3 fields, got %d", i, len(fields))
		}
		color, err := colorFromCode(fields[1])
		if err != nil {
			return nil, fmt.Errorf("move %d: %w", i, err)
		}
		taken, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil || taken < 0 {
			return nil, fmt.Errorf("move %d: bad time taken %q", i, fields[2])
		}
		if fields[0] == "" {
			return nil, fmt.Errorf("move %d: empty san", i)
		}
		moves = append(moves, entities.MoveRecord{
			San:         fields[0],
			Mover:       color,
			TimeTakenMs: taken,
		})
	}
	return moves, nil
}

// Movetext renders numbered SAN movetext for export, e.g.
// "1. e4 e5 2. Nf3 Nc6".
func Movetext(moves []entities.MoveRecord) string {
	var b strings.Builder
	for i, m := range moves {
		if i%2 == 0 {
			if i > 0 {
				b.WriteString(" ")
			}
			b.WriteString(strconv.Itoa(i/2 + 1))
			b.WriteString(". ")
		} else {
			b.WriteString(" ")
		}
		b.WriteString(m.San)
	}
	return b.String()
}

func colorCode(c entities.Color) string {
	if c == entities.White {
		return "w"
	}
	return "b"
}

func colorFromCode(code string) (entities.Color, error) {
	switch code {
	case "w":
		return entities.White, nil
	case "b":
		return entities.Black, nil
	default:
		return "", fmt.Errorf("bad color code %q", code)
	}
}
