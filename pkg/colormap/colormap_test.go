package colormap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap(t *testing.T) {
	testCases := []struct {
		name     string
		color    string
		expected PaletteId
	}{
		{name: "exact palette color with marker", color: "#d50000", expected: "11"},
		{name: "exact palette color without marker", color: "039be5", expected: "7"},
		{name: "upper case hex", color: "#0B8043", expected: "10"},
		{name: "near red", color: "#ff0000", expected: "11"},
		{name: "near grey", color: "#646464", expected: "8"},
		{name: "near yellow", color: "#ffcc00", expected: "5"},
		{name: "surrounding whitespace", color: "  #8e24aa ", expected: "3"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := Map(tc.color)

			require.NoError(t, err)
			assert.Equal(t, tc.expected, id)
		})
	}
}

func TestMap_InvalidInput(t *testing.T) {
	for _, color := range []string{"", "#", "#fff", "12345", "#1234567", "zzzzzz", "#12345g", "##123456"} {
		t.Run("should reject "+color, func(t *testing.T) {
			_, err := Map(color)

			assert.ErrorIs(t, err, ErrFormat)
		})
	}
}

func TestMap_IsDeterministic(t *testing.T) {
	colors := []string{"#000000", "#ffffff", "#123456", "#abcdef", "#7f7f7f", "#00ff00"}
	for _, color := range colors {
		first, err := Map(color)
		require.NoError(t, err)
		for i := 0; i < 20; i++ {
			again, err := Map(color)
			require.NoError(t, err)
			assert.Equal(t, first, again)
		}
	}
}

func TestNearest_TieGoesToLowestIndex(t *testing.T) {
	original := Palette
	t.Cleanup(func() { Palette = original })

	t.Run("should pick first entry when equidistant", func(t *testing.T) {
		// given
		Palette = []Entry{{Id: "a", Color: RGB{0, 0, 0}}, {Id: "b", Color: RGB{2, 0, 0}}}

		// when
		id := Nearest(RGB{1, 0, 0})

		// then
		assert.Equal(t, PaletteId("a"), id)
	})

	t.Run("should follow palette order, not id", func(t *testing.T) {
		// given
		Palette = []Entry{{Id: "b", Color: RGB{2, 0, 0}}, {Id: "a", Color: RGB{0, 0, 0}}}

		// when
		id := Nearest(RGB{1, 0, 0})

		// then
		assert.Equal(t, PaletteId("b"), id)
	})
}
