package derivative

import (
	"image"
	"image/color"
	"math"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/jpegli"
	"github.com/google/renameio/v2"
	_ "golang.org/x/image/webp"

	"photoassets/internal/models"
)

// flatten returns an opaque RGB copy of img. Sources with transparency are
// composited onto white so they survive JPEG encoding.
func flatten(img image.Image) *image.NRGBA {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return imaging.Clone(img)
	}
	b := img.Bounds()
	background := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(background, img, image.Pt(0, 0), 1.0)
}

// targetSize computes the derivative dimensions for a width x height source.
// ok is false when the source already fits and the rendition does not keep
// smaller sources. Sources are never upscaled.
func targetSize(width, height int, spec models.DerivativeSpec) (w, h int, ok bool) {
	if spec.Fits(width, height) {
		if spec.KeepSmaller {
			return width, height, true
		}
		return 0, 0, false
	}
	// The tighter bound wins; integer math keeps the floor exact.
	if spec.MaxWidth*height <= spec.MaxHeight*width {
		return spec.MaxWidth, max(height*spec.MaxWidth/width, 1), true
	}
	return max(width*spec.MaxHeight/height, 1), spec.MaxHeight, true
}

// compressionRatio is derivative size over original size, two decimals.
func compressionRatio(size, original int64) float64 {
	if original <= 0 {
		return 0
	}
	return math.Round(float64(size)/float64(original)*100) / 100
}

// jpegOptions are the encoder settings for a rendition: progressive scans
// and optimized Huffman tables at the rendition's quality.
func jpegOptions(quality int) *jpegli.EncodingOptions {
	return &jpegli.EncodingOptions{
		Quality:          quality,
		ProgressiveLevel: 2,
		OptimizeCoding:   true,
	}
}

// writeJPEG encodes img into a pending file next to path and renames it into
// place, so readers never observe a partially written derivative.
func writeJPEG(path string, img image.Image, quality int) (int64, error) {
	pf, err := renameio.NewPendingFile(path,
		renameio.WithTempDir(filepath.Dir(path)),
		renameio.WithStaticPermissions(0644),
	)
	if err != nil {
		return 0, err
	}
	defer pf.Cleanup()

	if err := jpegli.Encode(pf, img, jpegOptions(quality)); err != nil {
		return 0, err
	}
	info, err := pf.Stat()
	if err != nil {
		return 0, err
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// writeFileAtomic is writeJPEG for raw bytes.
func writeFileAtomic(path string, data []byte) error {
	return renameio.WriteFile(path, data, 0644,
		renameio.WithTempDir(filepath.Dir(path)),
		renameio.WithStaticPermissions(0644),
	)
}
