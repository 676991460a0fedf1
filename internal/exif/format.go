package exif

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rwcarlsen/goexif/tiff"
)

// exifTimeLayout is the camera timestamp format "YYYY:MM:DD HH:MM:SS".
const exifTimeLayout = "2006:01:02 15:04:05"

var errEmptyValue = errors.New("empty value")

// number is a numeric tag value. Rational tags keep numerator and
// denominator so formatting can reconstruct fractions.
type number struct {
	num, den int64
	rational bool
	value    float64
}

func (n number) decimal() float64 {
	if !n.rational {
		return n.value
	}
	if n.den == 0 {
		return float64(n.num)
	}
	return float64(n.num) / float64(n.den)
}

func numberValue(tag *tiff.Tag) (number, error) {
	switch tag.Format() {
	case tiff.RatVal:
		num, den, err := tag.Rat2(0)
		if err != nil {
			return number{}, err
		}
		return number{num: num, den: den, rational: true}, nil
	case tiff.FloatVal:
		f, err := tag.Float(0)
		if err != nil {
			return number{}, err
		}
		return number{value: f}, nil
	case tiff.IntVal:
		i, err := tag.Int64(0)
		if err != nil {
			return number{}, err
		}
		return number{value: float64(i)}, nil
	default:
		return number{}, fmt.Errorf("tag %#04x is not numeric", tag.Id)
	}
}

// textValue returns a tag's text, decoding byte strings as UTF-8 and
// falling back to their quoted form when they are not valid UTF-8.
func textValue(tag *tiff.Tag) (string, error) {
	switch tag.Format() {
	case tiff.StringVal, tiff.UndefVal:
	default:
		return "", fmt.Errorf("tag %#04x is not text", tag.Id)
	}
	s := decodeText(tag.Val)
	if s == "" {
		return "", errEmptyValue
	}
	return s, nil
}

func decodeText(raw []byte) string {
	s := strings.TrimRight(string(raw), "\x00")
	if !utf8.ValidString(s) {
		return fmt.Sprintf("%q", s)
	}
	return strings.TrimSpace(s)
}

// truncate caps s at limit runes.
func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

func formatFocalLength(n number) (string, error) {
	v := n.decimal()
	if !isFinite(v) {
		return "", fmt.Errorf("invalid focal length %v", v)
	}
	return fmt.Sprintf("%.1fmm", v), nil
}

func formatAperture(n number) (string, error) {
	v := n.decimal()
	if !isFinite(v) {
		return "", fmt.Errorf("invalid aperture %v", v)
	}
	return fmt.Sprintf("f/%.1f", v), nil
}

func formatShutterSpeed(n number) (string, error) {
	if n.rational {
		return formatShutterRational(n.num, n.den)
	}
	return formatShutterDecimal(n.value)
}

// formatShutterRational renders sub-second exposures as "1/N" with
// N = round(den/num), and longer ones as seconds.
func formatShutterRational(num, den int64) (string, error) {
	if num <= 0 || den <= 0 {
		return "", fmt.Errorf("invalid exposure time %d/%d", num, den)
	}
	if num < den {
		return fmt.Sprintf("1/%d", int64(math.Round(float64(den)/float64(num)))), nil
	}
	return fmt.Sprintf("%.2fs", float64(num)/float64(den)), nil
}

// formatShutterDecimal inverts sub-second decimal exposures to the nearest
// whole denominator, so 0.0005 becomes "1/2000".
func formatShutterDecimal(v float64) (string, error) {
	if !isFinite(v) || v <= 0 {
		return "", fmt.Errorf("invalid exposure time %v", v)
	}
	if v < 1 {
		return fmt.Sprintf("1/%d", int64(math.Round(1/v))), nil
	}
	return fmt.Sprintf("%.2fs", v), nil
}

func formatISO(tag *tiff.Tag) (string, error) {
	if tag.Format() != tiff.IntVal {
		return "", fmt.Errorf("tag %#04x is not an integer", tag.Id)
	}
	v, err := tag.Int64(0)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ISO %d", v), nil
}

// formatFlash keeps only the "fired" bit of the flash mode.
func formatFlash(tag *tiff.Tag) (string, error) {
	if tag.Format() != tiff.IntVal {
		return "", fmt.Errorf("tag %#04x is not an integer", tag.Id)
	}
	v, err := tag.Int64(0)
	if err != nil {
		return "", err
	}
	if v&1 == 1 {
		return "Yes", nil
	}
	return "No", nil
}

func parseCaptureDate(tag *tiff.Tag) (time.Time, error) {
	s, err := textValue(tag)
	if err != nil {
		return time.Time{}, err
	}
	return time.ParseInLocation(exifTimeLayout, s, time.Local)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
