package derivative

import (
	"image"
	"image/color"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestGenerator(t *testing.T) (*Generator, string) {
	t.Helper()
	root := t.TempDir()
	return New(root, DefaultCatalog(), WithClock(func() time.Time { return fixedNow })), root
}

// photo returns a gradient with mild deterministic noise, which compresses
// roughly like a real photograph.
func photo(width, height int) *image.NRGBA {
	rng := rand.New(rand.NewSource(int64(width*31 + height)))
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := img.PixOffset(x, y)
			n := rng.Intn(16)
			img.Pix[i] = uint8((x*255/width + n) % 256)
			img.Pix[i+1] = uint8((y*255/height + n) % 256)
			img.Pix[i+2] = uint8((x + y + n) % 256)
			img.Pix[i+3] = 0xff
		}
	}
	return img
}

func writeSource(t *testing.T, root, name string, width, height int) string {
	t.Helper()
	path := filepath.Join(root, name)
	require.NoError(t, imaging.Save(photo(width, height), path, imaging.JPEGQuality(100)))
	return path
}

func writeTransparentPNG(t *testing.T, root, name string, width, height int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width/4; x++ {
		for y := 0; y < height; y++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, A: 255})
		}
	}
	path := filepath.Join(root, name)
	require.NoError(t, imaging.Save(img, path))
	return path
}

func imageSize(t *testing.T, path string) (int, int) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	require.NoError(t, err)
	return cfg.Width, cfg.Height
}

// frameMarker returns the start-of-frame marker code of the JPEG at path:
// 0xC0 for baseline, 0xC2 for progressive.
func frameMarker(t *testing.T, path string) byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, len(data) > 4 && data[0] == 0xFF && data[1] == 0xD8, "not a jpeg")

	for i := 2; i+4 <= len(data); {
		require.Equal(t, byte(0xFF), data[i], "lost marker sync at %d", i)
		marker := data[i+1]
		if marker >= 0xC0 && marker <= 0xCF && marker != 0xC4 && marker != 0xC8 && marker != 0xCC {
			return marker
		}
		i += 2 + (int(data[i+2])<<8 | int(data[i+3]))
	}
	t.Fatal("no frame header")
	return 0
}
