package exif

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rat(num, den int64) number {
	return number{num: num, den: den, rational: true}
}

func TestFormatShutterSpeed(t *testing.T) {
	cases := []struct {
		name string
		in   number
		want string
	}{
		{name: "rational fraction", in: rat(1, 500), want: "1/500"},
		{name: "rational rounds denominator", in: rat(10, 1253), want: "1/125"},
		{name: "rational two seconds", in: rat(2, 1), want: "2.00s"},
		{name: "rational one second", in: rat(1, 1), want: "1.00s"},
		{name: "decimal fraction", in: number{value: 0.01}, want: "1/100"},
		{name: "decimal small fraction", in: number{value: 0.0005}, want: "1/2000"},
		{name: "decimal seconds", in: number{value: 2.0}, want: "2.00s"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := formatShutterSpeed(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFormatShutterSpeedRejectsInvalid(t *testing.T) {
	for _, in := range []number{rat(0, 100), rat(1, 0), rat(-1, 50), {value: 0}, {value: -0.5}, {value: math.Inf(1)}} {
		_, err := formatShutterSpeed(in)
		assert.Error(t, err, "%+v", in)
	}
}

func TestFormatFocalLengthAndAperture(t *testing.T) {
	focal, err := formatFocalLength(rat(50, 10))
	require.NoError(t, err)
	assert.Equal(t, "5.0mm", focal)

	focal, err = formatFocalLength(number{value: 85})
	require.NoError(t, err)
	assert.Equal(t, "85.0mm", focal)

	aperture, err := formatAperture(rat(28, 10))
	require.NoError(t, err)
	assert.Equal(t, "f/2.8", aperture)

	// A zero denominator falls back to the raw numerator.
	aperture, err = formatAperture(rat(4, 0))
	require.NoError(t, err)
	assert.Equal(t, "f/4.0", aperture)

	_, err = formatAperture(number{value: math.NaN()})
	assert.Error(t, err)
}

func TestDecodeText(t *testing.T) {
	assert.Equal(t, "Nikon", decodeText([]byte("Nikon\x00\x00")))
	assert.Equal(t, "Z 6II", decodeText([]byte("  Z 6II \x00")))
	assert.Equal(t, `"\xff\xfeLens"`, decodeText([]byte{0xff, 0xfe, 'L', 'e', 'n', 's'}))
	assert.Equal(t, "", decodeText([]byte{0, 0}))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abcdef", 3))
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "日本", truncate("日本語", 2))
	assert.Equal(t, "unlimited", truncate("unlimited", 0))
}
