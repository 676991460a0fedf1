package exif

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	goexif "github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
	"github.com/rs/zerolog"

	"photoassets/internal/metrics"
	"photoassets/internal/models"
)

// Extractor reads camera metadata from image files. It never fails: missing
// or malformed metadata yields fewer (or no) fields.
type Extractor struct {
	textLimit int
	log       zerolog.Logger
}

// NewExtractor returns an Extractor that truncates free-text fields to
// textLimit runes (0 disables truncation).
func NewExtractor(textLimit int, log zerolog.Logger) *Extractor {
	return &Extractor{
		textLimit: textLimit,
		log:       log.With().Str("component", "exif-extractor").Logger(),
	}
}

// Extract returns the normalized metadata of the image at path. CaptureDate
// is set only when a timestamp tag parses; see ExtractWithFallback.
func (e *Extractor) Extract(path string) models.ExifFields {
	log := e.log.With().Str("path", path).Logger()

	f, err := os.Open(path)
	if err != nil {
		log.Warn().Err(err).Msg("cannot open image for exif extraction")
		metrics.RecordExifExtraction("failed")
		return models.ExifFields{}
	}
	defer f.Close()

	block, err := readBlock(f)
	if err == nil {
		err = checkBlock(block)
	}
	if err != nil {
		if errors.Is(err, errNoExif) {
			log.Debug().Msg("image has no exif block")
			metrics.RecordExifExtraction("empty")
		} else {
			log.Warn().Err(err).Msg("unreadable exif block")
			metrics.RecordExifExtraction("failed")
		}
		return models.ExifFields{}
	}

	x, err := goexif.Decode(bytes.NewReader(block))
	if err != nil {
		if x == nil || goexif.IsCriticalError(err) {
			log.Warn().Err(err).Msg("unreadable exif block")
			metrics.RecordExifExtraction("failed")
			return models.ExifFields{}
		}
		log.Debug().Err(err).Msg("exif block decoded with errors")
	}

	fields := e.fields(x, log)
	if fields.IsEmpty() {
		metrics.RecordExifExtraction("empty")
	} else {
		metrics.RecordExifExtraction("found")
	}
	return fields
}

// ExtractWithFallback is Extract with the capture date filled from the
// file's modification time when no timestamp tag is usable.
func (e *Extractor) ExtractWithFallback(path string) models.ExifFields {
	fields := e.Extract(path)
	if fields.CaptureDate != nil {
		return fields
	}
	t, err := CaptureDateFallback(path)
	if err != nil {
		e.log.Warn().Err(err).Str("path", path).Msg("no capture date available")
		return fields
	}
	fields.CaptureDate = &t
	fields.CaptureDateSource = models.CaptureDateFromFile
	return fields
}

// CaptureDateFallback returns the file's last modification time. It is the
// best known date, not a camera timestamp.
func CaptureDateFallback(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("exif.CaptureDateFallback: %w", err)
	}
	return info.ModTime(), nil
}

func (e *Extractor) fields(x *goexif.Exif, log zerolog.Logger) models.ExifFields {
	var out models.ExifFields

	text := func(dst *string) func(*tiff.Tag) error {
		return func(tag *tiff.Tag) error {
			s, err := textValue(tag)
			if err != nil {
				return err
			}
			*dst = truncate(s, e.textLimit)
			return nil
		}
	}
	numeric := func(dst *string, format func(number) (string, error)) func(*tiff.Tag) error {
		return func(tag *tiff.Tag) error {
			n, err := numberValue(tag)
			if err != nil {
				return err
			}
			s, err := format(n)
			if err != nil {
				return err
			}
			*dst = s
			return nil
		}
	}
	direct := func(dst *string, format func(*tiff.Tag) (string, error)) func(*tiff.Tag) error {
		return func(tag *tiff.Tag) error {
			s, err := format(tag)
			if err != nil {
				return err
			}
			*dst = s
			return nil
		}
	}

	e.apply(x, goexif.Make, log, text(&out.CameraMake))
	e.apply(x, goexif.Model, log, text(&out.CameraModel))
	e.apply(x, goexif.LensModel, log, text(&out.LensModel))
	e.apply(x, goexif.FocalLength, log, numeric(&out.FocalLength, formatFocalLength))
	e.apply(x, goexif.FNumber, log, numeric(&out.Aperture, formatAperture))
	e.apply(x, goexif.ExposureTime, log, numeric(&out.ShutterSpeed, formatShutterSpeed))
	e.apply(x, goexif.ISOSpeedRatings, log, direct(&out.ISO, formatISO))
	e.apply(x, goexif.Flash, log, direct(&out.Flash, formatFlash))

	for _, name := range []goexif.FieldName{goexif.DateTimeOriginal, goexif.DateTimeDigitized, goexif.DateTime} {
		if out.CaptureDate != nil {
			break
		}
		e.apply(x, name, log, func(tag *tiff.Tag) error {
			t, err := parseCaptureDate(tag)
			if err != nil {
				return err
			}
			out.CaptureDate = &t
			out.CaptureDateSource = models.CaptureDateFromExif
			return nil
		})
	}

	return out
}

// apply runs set on one tag. Absent tags are ignored; a tag that fails to
// parse, or panics while parsing, is dropped without affecting the others.
func (e *Extractor) apply(x *goexif.Exif, name goexif.FieldName, log zerolog.Logger, set func(*tiff.Tag) error) {
	defer func() {
		if r := recover(); r != nil {
			log.Debug().Str("tag", string(name)).Interface("panic", r).Msg("skipping corrupt exif tag")
		}
	}()

	tag, err := x.Get(name)
	if err != nil {
		return
	}
	if err := set(tag); err != nil {
		log.Debug().Err(err).Str("tag", string(name)).Msg("skipping malformed exif tag")
	}
}
