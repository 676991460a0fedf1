package derivative

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"photoassets/internal/metrics"
	"photoassets/internal/models"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
}

// IsImageFilename reports whether name carries a supported source extension.
func IsImageFilename(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// Generator produces the catalog renditions for sources in one asset root.
// Constructing a Generator touches no files; call EnsureLayout (or any
// generating method, which calls it) to create the output directories.
type Generator struct {
	root       string
	catalog    Catalog
	prefix     string
	autoOrient bool
	log        zerolog.Logger
	locks      *keyedMutex
	now        func() time.Time
}

type Option func(*Generator)

// WithPublicPrefix sets the URL prefix under which the asset root is served.
func WithPublicPrefix(prefix string) Option {
	return func(g *Generator) { g.prefix = prefix }
}

// WithAutoOrient applies the EXIF orientation tag when decoding sources.
func WithAutoOrient(enabled bool) Option {
	return func(g *Generator) { g.autoOrient = enabled }
}

func WithLogger(log zerolog.Logger) Option {
	return func(g *Generator) { g.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

func New(root string, catalog Catalog, opts ...Option) *Generator {
	g := &Generator{
		root:       root,
		catalog:    catalog,
		prefix:     "/assets",
		autoOrient: true,
		log:        zerolog.Nop(),
		locks:      newKeyedMutex(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.With().Str("component", "derivative-generator").Logger()
	return g
}

func (g *Generator) Root() string {
	return g.root
}

func (g *Generator) Catalog() Catalog {
	return g.catalog
}

// EnsureLayout checks the asset root and creates the derivative directories.
func (g *Generator) EnsureLayout() error {
	const op = "derivative.EnsureLayout"

	info, err := os.Stat(g.root)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrLayout, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w: %s is not a directory", op, ErrLayout, g.root)
	}
	for _, dir := range []string{models.OptimizedDir, models.ThumbnailsDir} {
		if err := os.MkdirAll(filepath.Join(g.root, dir), 0755); err != nil {
			return fmt.Errorf("%s: %w: %w", op, ErrLayout, err)
		}
	}
	return nil
}

// Generate writes every missing derivative of filename. With force it
// rewrites existing ones too.
//
// A write failure for one spec does not stop the others: the returned result
// lists the completed specs and records the failed ones under Failed, and the
// error matches ErrWrite. ErrNotFound and ErrDecode return a nil result.
func (g *Generator) Generate(filename string, force bool) (*models.Result, error) {
	const op = "derivative.Generate"

	if err := g.EnsureLayout(); err != nil {
		return nil, err
	}

	unlock := g.locks.Lock(filename)
	defer unlock()

	start := time.Now()
	defer func() { metrics.ObserveGenerate(time.Since(start).Seconds()) }()

	src, img, err := g.load(op, filename)
	if err != nil {
		metrics.RecordSourceFailure(KindOf(err))
		g.log.Error().Err(err).Str("filename", filename).Msg("cannot load source image")
		return nil, err
	}

	result := models.NewResult(models.OriginalInfo{
		Width:    src.Width,
		Height:   src.Height,
		FileSize: src.Size,
	})

	var failedSpecs []string
	var failures []error
	for _, spec := range g.catalog.specs {
		name := models.DerivativeFilename(filename, spec.Name)
		outPath := filepath.Join(g.root, spec.Dir(), name)

		if !force {
			if info, err := os.Stat(outPath); err == nil && info.Mode().IsRegular() {
				result.Optimized[spec.Name] = describeExisting(outPath, name, info.Size(), src.Size)
				metrics.RecordDerivative(spec.Name, string(models.DerivativeSkipped))
				g.log.Debug().Str("filename", filename).Str("spec", spec.Name).Msg("derivative already exists")
				continue
			}
		}

		width, height, ok := targetSize(src.Width, src.Height, spec)
		if !ok {
			g.log.Debug().Str("filename", filename).Str("spec", spec.Name).Msg("source smaller than spec, not upscaling")
			continue
		}

		out := img
		if width != src.Width || height != src.Height {
			out = imaging.Resize(img, width, height, imaging.Lanczos)
		}

		size, err := writeJPEG(outPath, out, spec.Quality)
		if err != nil {
			if result.Failed == nil {
				result.Failed = make(map[string]string)
			}
			result.Failed[spec.Name] = err.Error()
			failedSpecs = append(failedSpecs, spec.Name)
			failures = append(failures, err)
			metrics.RecordDerivative(spec.Name, "failed")
			g.log.Error().Err(err).Str("filename", filename).Str("spec", spec.Name).Msg("failed to write derivative")
			continue
		}

		result.Optimized[spec.Name] = models.Derivative{
			Filename:         name,
			Width:            width,
			Height:           height,
			FileSize:         size,
			CompressionRatio: compressionRatio(size, src.Size),
			Status:           models.DerivativeWritten,
		}
		metrics.RecordDerivative(spec.Name, string(models.DerivativeWritten))
		g.log.Debug().
			Str("filename", filename).
			Str("spec", spec.Name).
			Int("width", width).
			Int("height", height).
			Int64("bytes", size).
			Msg("derivative written")
	}

	if len(failures) > 0 {
		metrics.RecordSourceFailure(KindOf(ErrWrite))
		return result, &SourceError{
			Op:       op,
			Filename: filename,
			Specs:    failedSpecs,
			Kind:     ErrWrite,
			Err:      errors.Join(failures...),
		}
	}
	return result, nil
}

// load reads and decodes the source exactly once.
func (g *Generator) load(op, filename string) (models.SourceImage, *image.NRGBA, error) {
	src := models.SourceImage{Filename: filename}
	if filename == "" || filepath.Base(filename) != filename || filename == "." || filename == ".." {
		return src, nil, &SourceError{Op: op, Filename: filename, Kind: ErrNotFound,
			Err: errors.New("filename must name a file directly under the asset root")}
	}
	src.Path = filepath.Join(g.root, filename)

	info, err := os.Stat(src.Path)
	if err != nil {
		return src, nil, &SourceError{Op: op, Filename: filename, Kind: ErrNotFound, Err: err}
	}
	if !info.Mode().IsRegular() {
		return src, nil, &SourceError{Op: op, Filename: filename, Kind: ErrNotFound,
			Err: errors.New("not a regular file")}
	}

	data, err := os.ReadFile(src.Path)
	if err != nil {
		return src, nil, &SourceError{Op: op, Filename: filename, Kind: ErrNotFound, Err: err}
	}
	src.Size = int64(len(data))

	if mt := mimetype.Detect(data); !strings.HasPrefix(mt.String(), "image/") {
		return src, nil, &SourceError{Op: op, Filename: filename, Kind: ErrDecode,
			Err: fmt.Errorf("content type %s is not an image", mt.String())}
	}

	decoded, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(g.autoOrient))
	if err != nil {
		return src, nil, &SourceError{Op: op, Filename: filename, Kind: ErrDecode, Err: err}
	}

	img := flatten(decoded)
	src.Width = img.Bounds().Dx()
	src.Height = img.Bounds().Dy()
	return src, img, nil
}

// describeExisting reports a derivative left in place by a previous run,
// reading its dimensions from the file header.
func describeExisting(path, name string, size, originalSize int64) models.Derivative {
	d := models.Derivative{
		Filename:         name,
		FileSize:         size,
		CompressionRatio: compressionRatio(size, originalSize),
		Status:           models.DerivativeSkipped,
	}
	f, err := os.Open(path)
	if err != nil {
		return d
	}
	defer f.Close()
	if cfg, _, err := image.DecodeConfig(f); err == nil {
		d.Width, d.Height = cfg.Width, cfg.Height
	}
	return d
}

// ResolveURL returns the public path of the size rendition of filename when
// it exists on disk, and the public path of the original otherwise. Names
// that are not a plain file in the asset root are never looked up; their
// path is escaped so it cannot resolve outside the prefix.
func (g *Generator) ResolveURL(filename, size string) string {
	if !isPlainName(filename) {
		return g.publicPath(escapeName(filename))
	}
	original := g.publicPath(filename)

	spec, ok := g.catalog.Lookup(size)
	if !ok {
		return original
	}
	name := models.DerivativeFilename(filename, spec.Name)
	info, err := os.Stat(filepath.Join(g.root, spec.Dir(), name))
	if err != nil || !info.Mode().IsRegular() {
		return original
	}
	return g.publicPath(spec.Dir(), name)
}

func isPlainName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		filepath.Base(name) == name && !strings.ContainsAny(name, `/\`)
}

// escapeName turns name into a single path segment.
func escapeName(name string) string {
	escaped := url.PathEscape(name)
	if escaped == "." || escaped == ".." || escaped == "" {
		return strings.Repeat("%2E", len(escaped))
	}
	return escaped
}

func (g *Generator) publicPath(elems ...string) string {
	return path.Join(append([]string{g.prefix}, elems...)...)
}
