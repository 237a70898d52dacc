package colormap

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrFormat is returned when a color is not a 6 digit hex value.
var ErrFormat = errors.New("invalid color format")

type PaletteId string

type RGB struct {
	R, G, B uint8
}

type Entry struct {
	Id    PaletteId
	Color RGB
}

// Palette lists the Google Calendar event colors in index order.
var Palette = []Entry{
	{Id: "1", Color: RGB{0x79, 0x86, 0xcb}},  // lavender
	{Id: "2", Color: RGB{0x33, 0xb6, 0x79}},  // sage
	{Id: "3", Color: RGB{0x8e, 0x24, 0xaa}},  // grape
	{Id: "4", Color: RGB{0xe6, 0x7c, 0x73}},  // flamingo
	{Id: "5", Color: RGB{0xf6, 0xbf, 0x26}},  // banana
	{Id: "6", Color: RGB{0xf4, 0x51, 0x1e}},  // tangerine
	{Id: "7", Color: RGB{0x03, 0x9b, 0xe5}},  // peacock
	{Id: "8", Color: RGB{0x61, 0x61, 0x61}},  // graphite
	{Id: "9", Color: RGB{0x3f, 0x51, 0xb5}},  // blueberry
	{Id: "10", Color: RGB{0x0b, 0x80, 0x43}}, // basil
	{Id: "11", Color: RGB{0xd5, 0x00, 0x00}}, // tomato
}

// ParseHex parses "RRGGBB" or "#RRGGBB".
func ParseHex(color string) (RGB, error) {
	s := strings.TrimPrefix(strings.TrimSpace(color), "#")
	if len(s) != 6 {
		return RGB{}, fmt.Errorf("%w: %q", ErrFormat, color)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("%w: %q", ErrFormat, color)
	}
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

// Map returns the id of the palette entry closest to color.
// Ties resolve to the entry that comes first in Palette.
func Map(color string) (PaletteId, error) {
	rgb, err := ParseHex(color)
	if err != nil {
		return "", err
	}
	return Nearest(rgb), nil
}

func Nearest(rgb RGB) PaletteId {
	best := Palette[0].Id
	bestDistance := -1
	for _, entry := range Palette {
		d := distance(rgb, entry.Color)
		if bestDistance < 0 || d < bestDistance {
			best = entry.Id
			bestDistance = d
		}
	}
	return best
}

// distance is the squared euclidean distance, which orders the same way as the euclidean one.
func distance(a, b RGB) int {
	dr := int(a.R) - int(b.R)
	dg := int(a.G) - int(b.G)
	db := int(a.B) - int(b.B)
	return dr*dr + dg*dg + db*db
}
