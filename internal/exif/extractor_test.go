package exif

import (
	"bytes"
	"encoding/binary"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photoassets/internal/models"
)

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

func asciiTag(tag uint16, s string) ifdEntry {
	return ifdEntry{tag: tag, typ: 2, count: uint32(len(s) + 1), data: append([]byte(s), 0)}
}

func rationalTag(tag uint16, num, den uint32) ifdEntry {
	data := binary.LittleEndian.AppendUint32(nil, num)
	data = binary.LittleEndian.AppendUint32(data, den)
	return ifdEntry{tag: tag, typ: 5, count: 1, data: data}
}

func shortTag(tag uint16, v uint16) ifdEntry {
	return ifdEntry{tag: tag, typ: 3, count: 1, data: binary.LittleEndian.AppendUint16(nil, v)}
}

func longTag(tag uint16, v uint32) ifdEntry {
	return ifdEntry{tag: tag, typ: 4, count: 1, data: binary.LittleEndian.AppendUint32(nil, v)}
}

// encodeIFD lays out one little-endian IFD starting at offset start, with
// out-of-line values placed right after the entry table.
func encodeIFD(start uint32, entries []ifdEntry) []byte {
	dataStart := start + 2 + 12*uint32(len(entries)) + 4
	head := binary.LittleEndian.AppendUint16(nil, uint16(len(entries)))
	var data []byte
	for _, e := range entries {
		head = binary.LittleEndian.AppendUint16(head, e.tag)
		head = binary.LittleEndian.AppendUint16(head, e.typ)
		head = binary.LittleEndian.AppendUint32(head, e.count)
		if len(e.data) <= 4 {
			inline := make([]byte, 4)
			copy(inline, e.data)
			head = append(head, inline...)
			continue
		}
		head = binary.LittleEndian.AppendUint32(head, dataStart+uint32(len(data)))
		data = append(data, e.data...)
		if len(data)%2 == 1 {
			data = append(data, 0)
		}
	}
	head = binary.LittleEndian.AppendUint32(head, 0)
	return append(head, data...)
}

// buildTIFF returns a TIFF block with ifd0 as the main directory and, when
// sub is non-empty, an Exif sub-directory linked through tag 0x8769.
func buildTIFF(ifd0, sub []ifdEntry) []byte {
	header := []byte{'I', 'I', 42, 0, 8, 0, 0, 0}
	if len(sub) == 0 {
		return append(header, encodeIFD(8, ifd0)...)
	}
	withPtr := append(append([]ifdEntry(nil), ifd0...), longTag(0x8769, 0))
	subStart := uint32(8 + len(encodeIFD(8, withPtr)))
	withPtr[len(withPtr)-1] = longTag(0x8769, subStart)

	out := append(header, encodeIFD(8, withPtr)...)
	return append(out, encodeIFD(subStart, sub)...)
}

// withAPP1 splices an Exif APP1 segment carrying payload right after the
// JPEG SOI marker.
func withAPP1(t *testing.T, jpegData, payload []byte) []byte {
	t.Helper()

	body := append([]byte("Exif\x00\x00"), payload...)
	length := len(body) + 2
	require.LessOrEqual(t, length, 0xFFFF)

	out := append([]byte{}, jpegData[:2]...)
	out = append(out, 0xFF, 0xE1, byte(length>>8), byte(length))
	out = append(out, body...)
	return append(out, jpegData[2:]...)
}

func plainJPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(16, 12, color.NRGBA{R: 40, G: 90, B: 160, A: 255}), imaging.JPEG))
	return buf.Bytes()
}

func writeFixture(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func newTestExtractor() *Extractor {
	return NewExtractor(100, zerolog.Nop())
}

func TestExtractFullCameraMetadata(t *testing.T) {
	tiffData := buildTIFF(
		[]ifdEntry{
			asciiTag(0x010F, "Canon"),
			asciiTag(0x0110, "EOS R5"),
			asciiTag(0x0132, "2020:01:01 00:00:00"),
		},
		[]ifdEntry{
			rationalTag(0x829A, 1, 500),
			rationalTag(0x829D, 28, 10),
			asciiTag(0x8827, "abc"),
			asciiTag(0x9003, "2024:06:15 18:30:00"),
			shortTag(0x9209, 0x19),
			rationalTag(0x920A, 50, 1),
			asciiTag(0xA434, "RF24-70mm F2.8 L IS USM"),
		},
	)
	path := writeFixture(t, "sunset.jpg", withAPP1(t, plainJPEG(t), tiffData))

	fields := newTestExtractor().Extract(path)

	assert.Equal(t, "Canon", fields.CameraMake)
	assert.Equal(t, "EOS R5", fields.CameraModel)
	assert.Equal(t, "RF24-70mm F2.8 L IS USM", fields.LensModel)
	assert.Equal(t, "50.0mm", fields.FocalLength)
	assert.Equal(t, "f/2.8", fields.Aperture)
	assert.Equal(t, "1/500", fields.ShutterSpeed)
	assert.Equal(t, "Yes", fields.Flash)
	// ISO stored as text cannot be formatted and is left out.
	assert.Empty(t, fields.ISO)

	require.NotNil(t, fields.CaptureDate)
	assert.True(t, fields.CaptureDate.Equal(time.Date(2024, 6, 15, 18, 30, 0, 0, time.Local)))
	assert.Equal(t, models.CaptureDateFromExif, fields.CaptureDateSource)
}

func TestExtractCaptureDatePrecedence(t *testing.T) {
	tiffData := buildTIFF(
		[]ifdEntry{asciiTag(0x0132, "2020:01:01 00:00:00")},
		[]ifdEntry{
			asciiTag(0x9003, "not a date"),
			asciiTag(0x9004, "2023:03:04 05:06:07"),
			shortTag(0x8827, 400),
			shortTag(0x9209, 0x10),
		},
	)
	path := writeFixture(t, "digitized.jpg", withAPP1(t, plainJPEG(t), tiffData))

	fields := newTestExtractor().Extract(path)

	require.NotNil(t, fields.CaptureDate)
	assert.True(t, fields.CaptureDate.Equal(time.Date(2023, 3, 4, 5, 6, 7, 0, time.Local)))
	assert.Equal(t, "ISO 400", fields.ISO)
	assert.Equal(t, "No", fields.Flash)
	assert.Empty(t, fields.CameraMake)
}

func TestExtractFallsBackToDateTime(t *testing.T) {
	tiffData := buildTIFF([]ifdEntry{
		asciiTag(0x010F, "FUJIFILM"),
		asciiTag(0x0132, "2019:12:31 23:59:59"),
	}, nil)
	path := writeFixture(t, "old.jpg", withAPP1(t, plainJPEG(t), tiffData))

	fields := newTestExtractor().Extract(path)

	assert.Equal(t, "FUJIFILM", fields.CameraMake)
	require.NotNil(t, fields.CaptureDate)
	assert.Equal(t, 2019, fields.CaptureDate.Year())
}

func TestExtractTruncatesText(t *testing.T) {
	long := bytes.Repeat([]byte("x"), 150)
	tiffData := buildTIFF([]ifdEntry{asciiTag(0x0110, string(long))}, nil)
	path := writeFixture(t, "long.jpg", withAPP1(t, plainJPEG(t), tiffData))

	fields := NewExtractor(10, zerolog.Nop()).Extract(path)

	assert.Equal(t, "xxxxxxxxxx", fields.CameraModel)
}

func TestExtractWithoutMetadata(t *testing.T) {
	var png bytes.Buffer
	require.NoError(t, imaging.Encode(&png, imaging.New(8, 8, color.White), imaging.PNG))

	cases := []struct {
		name string
		path string
	}{
		{name: "png without exif", path: writeFixture(t, "plain.png", png.Bytes())},
		{name: "jpeg without exif", path: writeFixture(t, "plain.jpg", plainJPEG(t))},
		{name: "not an image", path: writeFixture(t, "notes.jpg", []byte("not an image at all"))},
		{name: "corrupt exif block", path: writeFixture(t, "corrupt.jpg", withAPP1(t, plainJPEG(t), []byte("garbage!")))},
		{name: "missing file", path: filepath.Join(t.TempDir(), "missing.jpg")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fields := newTestExtractor().Extract(tc.path)
			assert.True(t, fields.IsEmpty(), "got %+v", fields)
		})
	}
}

func TestExtractRejectsOversizedTagCount(t *testing.T) {
	huge := rationalTag(0x829A, 1, 500)
	huge.count = 0x20000001
	tiffData := buildTIFF([]ifdEntry{asciiTag(0x010F, "Canon")}, []ifdEntry{huge})

	for name, data := range map[string][]byte{
		"jpeg": withAPP1(t, plainJPEG(t), tiffData),
		"tiff": tiffData,
	} {
		t.Run(name, func(t *testing.T) {
			path := writeFixture(t, "hostile."+name, data)
			fields := newTestExtractor().Extract(path)
			assert.True(t, fields.IsEmpty(), "got %+v", fields)
		})
	}
}

func TestExtractSkipsOtherAPP1Segments(t *testing.T) {
	xmp := []byte("http://ns.adobe.com/xap/1.0/\x00<x:xmpmeta/>")
	segment := append([]byte{0xFF, 0xE1, 0, byte(len(xmp) + 2)}, xmp...)
	withExif := withAPP1(t, plainJPEG(t), buildTIFF([]ifdEntry{asciiTag(0x010F, "Nikon")}, nil))
	data := append(append(append([]byte{}, withExif[:2]...), segment...), withExif[2:]...)

	fields := newTestExtractor().Extract(writeFixture(t, "xmp.jpg", data))

	assert.Equal(t, "Nikon", fields.CameraMake)
}

func TestExtractWithFallbackUsesModTime(t *testing.T) {
	path := writeFixture(t, "plain.jpg", plainJPEG(t))
	mtime := time.Date(2022, 8, 9, 10, 11, 12, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	fields := newTestExtractor().ExtractWithFallback(path)

	require.NotNil(t, fields.CaptureDate)
	assert.True(t, fields.CaptureDate.Equal(mtime))
	assert.Equal(t, models.CaptureDateFromFile, fields.CaptureDateSource)
}

func TestExtractWithFallbackKeepsExifDate(t *testing.T) {
	tiffData := buildTIFF([]ifdEntry{asciiTag(0x0132, "2021:05:06 07:08:09")}, nil)
	path := writeFixture(t, "dated.jpg", withAPP1(t, plainJPEG(t), tiffData))

	fields := newTestExtractor().ExtractWithFallback(path)

	require.NotNil(t, fields.CaptureDate)
	assert.Equal(t, 2021, fields.CaptureDate.Year())
	assert.Equal(t, models.CaptureDateFromExif, fields.CaptureDateSource)
}

func TestCaptureDateFallbackMissingFile(t *testing.T) {
	_, err := CaptureDateFallback(filepath.Join(t.TempDir(), "gone.jpg"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
