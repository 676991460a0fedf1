package models

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerivativeFilename(t *testing.T) {
	assert.Equal(t, "sunset_medium.jpg", DerivativeFilename("sunset.jpg", "medium"))
	assert.Equal(t, "my.photo_small.JPEG", DerivativeFilename("my.photo.JPEG", "small"))
	assert.Equal(t, "noext_large", DerivativeFilename("noext", "large"))
}

func TestSourceFilename(t *testing.T) {
	src, ok := SourceFilename("sunset_medium.jpg", "medium")
	require.True(t, ok)
	assert.Equal(t, "sunset.jpg", src)

	_, ok = SourceFilename("sunset_medium.jpg", "small")
	assert.False(t, ok)

	_, ok = SourceFilename("_medium.jpg", "medium")
	assert.False(t, ok)

	for _, name := range []string{"a.jpg", "x_y.png", "portrait.webp"} {
		back, ok := SourceFilename(DerivativeFilename(name, "thumbnail"), "thumbnail")
		require.True(t, ok)
		assert.Equal(t, name, back)
	}
}

func TestDerivativeSpecFits(t *testing.T) {
	s := DerivativeSpec{Name: "small", MaxWidth: 600, MaxHeight: 400}
	assert.True(t, s.Fits(600, 400))
	assert.False(t, s.Fits(601, 10))
	assert.False(t, s.Fits(10, 401))
	assert.Equal(t, OptimizedDir, s.Dir())

	s.Thumbnail = true
	assert.Equal(t, ThumbnailsDir, s.Dir())
}

func TestExifFieldsIsEmpty(t *testing.T) {
	assert.True(t, ExifFields{}.IsEmpty())
	now := time.Now()
	assert.False(t, ExifFields{CaptureDate: &now}.IsEmpty())
	assert.False(t, ExifFields{ISO: "ISO 100"}.IsEmpty())
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "./photography-assets", cfg.AssetsPath)
	assert.Equal(t, "/assets", cfg.PublicPrefix)
	assert.True(t, cfg.AutoOrient)
	assert.Equal(t, 100, cfg.TextMaxLength)
	assert.Empty(t, cfg.Derivatives)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_addr: ":9090"
assets_path: /srv/photos
auto_orient: false
kafka_broker: kafka:9092
derivatives:
  - name: web
    max_width: 1024
    max_height: 768
    quality: 82
  - name: thumb
    max_width: 200
    max_height: 200
    quality: 80
    thumbnail: true
`), 0644))

	t.Setenv("ASSETS_PATH", "/data/photos")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, "/data/photos", cfg.AssetsPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.AutoOrient)
	assert.Equal(t, "kafka:9092", cfg.KafkaBroker)
	require.Len(t, cfg.Derivatives, 2)
	assert.Equal(t, DerivativeSpec{Name: "thumb", MaxWidth: 200, MaxHeight: 200, Quality: 80, Thumbnail: true}, cfg.Derivatives[1])
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("server_addr: [unterminated"), 0644))
	_, err = LoadConfig(bad)
	assert.Error(t, err)

	t.Setenv("TEXT_MAX_LENGTH", "0")
	_, err = LoadConfig("")
	assert.ErrorContains(t, err, "text_max_length")
}
