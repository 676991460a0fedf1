package exif

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	errNoExif    = errors.New("no exif block")
	errMalformed = errors.New("malformed exif block")
)

const (
	exifHeader = "Exif\x00\x00"
	// maxTIFFBlock bounds how much of a bare TIFF file is buffered.
	maxTIFFBlock = 64 << 20
	// maxIFDs bounds the directories walked in one block.
	maxIFDs = 32
)

// tagSizes is the byte size of one value of each TIFF data type.
var tagSizes = map[uint16]uint64{
	1: 1, 2: 1, 3: 2, 4: 4, 5: 8, 6: 1, 7: 1, 8: 2, 9: 4, 10: 8, 11: 4, 12: 8,
}

// Directory pointer tags: Exif, GPS and Interoperability sub-IFDs.
var subIFDTags = map[uint16]bool{0x8769: true, 0x8825: true, 0xA005: true}

// readBlock returns the TIFF structure carried by r: the file itself for
// TIFF data, or the payload of the Exif APP1 segment for a JPEG. It stops
// at the first scan so image data is never read.
func readBlock(r io.Reader) ([]byte, error) {
	br := bufio.NewReader(r)

	head, err := br.Peek(6)
	if err != nil && len(head) < 4 {
		return nil, errNoExif
	}
	switch {
	case isTIFFHeader(head):
		data, err := io.ReadAll(io.LimitReader(br, maxTIFFBlock))
		if err != nil {
			return nil, err
		}
		return data, nil
	case string(head) == exifHeader:
		br.Discard(len(exifHeader))
		return io.ReadAll(io.LimitReader(br, maxTIFFBlock))
	case head[0] != 0xFF || head[1] != 0xD8:
		return nil, errNoExif
	}
	br.Discard(2)

	for {
		marker, err := nextMarker(br)
		if err != nil {
			return nil, errNoExif
		}
		switch {
		case marker == 0xD9 || marker == 0xDA:
			return nil, errNoExif
		case marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7):
			continue
		}

		var size [2]byte
		if _, err := io.ReadFull(br, size[:]); err != nil {
			return nil, errNoExif
		}
		n := int(binary.BigEndian.Uint16(size[:]))
		if n < 2 {
			return nil, fmt.Errorf("%w: segment length %d", errMalformed, n)
		}
		n -= 2

		if marker != 0xE1 {
			if _, err := br.Discard(n); err != nil {
				return nil, errNoExif
			}
			continue
		}
		payload := make([]byte, n)
		if _, err := io.ReadFull(br, payload); err != nil {
			return nil, fmt.Errorf("%w: truncated APP1 segment", errMalformed)
		}
		if bytes.HasPrefix(payload, []byte(exifHeader)) {
			return payload[len(exifHeader):], nil
		}
		// XMP and other APP1 payloads share the marker.
	}
}

// nextMarker reads up to and including the next marker code, skipping fill
// bytes.
func nextMarker(br *bufio.Reader) (byte, error) {
	c, err := br.ReadByte()
	if err != nil {
		return 0, err
	}
	if c != 0xFF {
		return 0, errMalformed
	}
	for {
		c, err = br.ReadByte()
		if err != nil {
			return 0, err
		}
		if c != 0xFF {
			return c, nil
		}
	}
}

func isTIFFHeader(b []byte) bool {
	return len(b) >= 4 && (string(b[:4]) == "II*\x00" || string(b[:4]) == "MM\x00*")
}

// checkBlock walks every directory the decoder will visit and rejects
// blocks whose entries point or extend past the end of the data. Tag counts
// are trusted by the decoder, so an oversized count would otherwise become
// an allocation of arbitrary size.
func checkBlock(b []byte) error {
	if !isTIFFHeader(b) || len(b) < 8 {
		return fmt.Errorf("%w: missing TIFF header", errMalformed)
	}
	var order binary.ByteOrder = binary.LittleEndian
	if b[0] == 'M' {
		order = binary.BigEndian
	}
	size := uint64(len(b))

	type dir struct {
		off   uint32
		chain bool
	}
	pending := []dir{{off: order.Uint32(b[4:8]), chain: true}}
	seen := make(map[uint32]bool)

	for len(pending) > 0 {
		d := pending[0]
		pending = pending[1:]

		if seen[d.off] {
			return fmt.Errorf("%w: directory loop at %d", errMalformed, d.off)
		}
		seen[d.off] = true
		if len(seen) > maxIFDs {
			return fmt.Errorf("%w: too many directories", errMalformed)
		}

		pos := uint64(d.off)
		if pos+2 > size {
			return fmt.Errorf("%w: directory offset %d out of range", errMalformed, d.off)
		}
		entries := uint64(order.Uint16(b[pos:]))
		end := pos + 2 + 12*entries + 4
		if end > size {
			return fmt.Errorf("%w: directory at %d overruns block", errMalformed, d.off)
		}

		for i := uint64(0); i < entries; i++ {
			e := b[pos+2+12*i:]
			tag, typ, count := order.Uint16(e), order.Uint16(e[2:]), uint64(order.Uint32(e[4:]))

			unit, ok := tagSizes[typ]
			if !ok {
				continue
			}
			length := unit * count
			if length > size {
				return fmt.Errorf("%w: tag 0x%04x claims %d bytes", errMalformed, tag, length)
			}
			if length > 4 {
				if off := uint64(order.Uint32(e[8:])); off+length > size {
					return fmt.Errorf("%w: tag 0x%04x value out of range", errMalformed, tag)
				}
			}

			if subIFDTags[tag] && count > 0 {
				switch typ {
				case 3:
					pending = append(pending, dir{off: uint32(order.Uint16(e[8:]))})
				case 4:
					pending = append(pending, dir{off: order.Uint32(e[8:])})
				}
			}
		}

		if next := order.Uint32(b[end-4:]); d.chain && next != 0 {
			pending = append(pending, dir{off: next, chain: true})
		}
	}
	return nil
}
