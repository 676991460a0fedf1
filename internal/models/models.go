// internal/models/models.go
package models

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Layout of the asset root.
const (
	OptimizedDir  = "optimized"
	ThumbnailsDir = "thumbnails"
	ReportFile    = "optimization_report.json"
)

// DerivativeSpec is one named rendition in the size catalog.
type DerivativeSpec struct {
	Name      string `yaml:"name" json:"name"`
	MaxWidth  int    `yaml:"max_width" json:"max_width"`
	MaxHeight int    `yaml:"max_height" json:"max_height"`
	Quality   int    `yaml:"quality" json:"quality"`
	// KeepSmaller re-encodes sources that already fit the box at their own
	// size instead of skipping the rendition.
	KeepSmaller bool `yaml:"keep_smaller" json:"keep_smaller"`
	// Thumbnail routes output to the thumbnails directory.
	Thumbnail bool `yaml:"thumbnail" json:"thumbnail"`
}

// Dir returns the asset-root subdirectory the rendition is written to.
func (s DerivativeSpec) Dir() string {
	if s.Thumbnail {
		return ThumbnailsDir
	}
	return OptimizedDir
}

// Fits reports whether a width x height image already fits the box.
func (s DerivativeSpec) Fits(width, height int) bool {
	return width <= s.MaxWidth && height <= s.MaxHeight
}

// DerivativeFilename builds "{stem}_{spec}{ext}" for a source filename.
// Asset-serving layers resolve derivatives by this exact name.
func DerivativeFilename(source, spec string) string {
	ext := filepath.Ext(source)
	return strings.TrimSuffix(source, ext) + "_" + spec + ext
}

// SourceFilename inverts DerivativeFilename for one spec name.
func SourceFilename(derivative, spec string) (string, bool) {
	ext := filepath.Ext(derivative)
	stem := strings.TrimSuffix(derivative, ext)
	suffix := "_" + spec
	if !strings.HasSuffix(stem, suffix) || len(stem) == len(suffix) {
		return "", false
	}
	return strings.TrimSuffix(stem, suffix) + ext, true
}

// SourceImage is a file sitting directly in the asset root.
type SourceImage struct {
	Filename string
	Path     string
	Size     int64
	Width    int
	Height   int
}

type DerivativeStatus string

const (
	DerivativeWritten DerivativeStatus = "written"
	DerivativeSkipped DerivativeStatus = "skipped"
)

// Derivative describes one generated (or already present) rendition.
type Derivative struct {
	Filename         string           `json:"filename"`
	Width            int              `json:"width"`
	Height           int              `json:"height"`
	FileSize         int64            `json:"file_size"`
	CompressionRatio float64          `json:"compression_ratio"`
	Status           DerivativeStatus `json:"status"`
}

type OriginalInfo struct {
	Width    int   `json:"width"`
	Height   int   `json:"height"`
	FileSize int64 `json:"file_size"`
}

// Result is the outcome of generating derivatives for one source.
type Result struct {
	Original  OriginalInfo          `json:"original"`
	Optimized map[string]Derivative `json:"optimized"`
	// Failed maps spec name to the write error for specs that did not complete.
	Failed map[string]string `json:"failed,omitempty"`
}

func NewResult(original OriginalInfo) *Result {
	return &Result{
		Original:  original,
		Optimized: make(map[string]Derivative),
	}
}

// OptimizedBytes sums the sizes of all derivatives in the result.
func (r *Result) OptimizedBytes() int64 {
	var total int64
	for _, d := range r.Optimized {
		total += d.FileSize
	}
	return total
}

// OptimizationReport is the document written to ReportFile after a batch run.
type OptimizationReport struct {
	Timestamp          time.Time          `json:"timestamp"`
	TotalImages        int                `json:"total_images"`
	Successful         int                `json:"successful"`
	Errors             int                `json:"errors"`
	TotalOriginalSize  int64              `json:"total_original_size"`
	TotalOptimizedSize int64              `json:"total_optimized_size"`
	Results            map[string]*Result `json:"results"`
	Failures           map[string]string  `json:"failures,omitempty"`
}

// ExifFields is the normalized camera metadata of one source image.
// Every field is optional.
type ExifFields struct {
	CameraMake   string     `json:"camera_make,omitempty"`
	CameraModel  string     `json:"camera_model,omitempty"`
	LensModel    string     `json:"lens_model,omitempty"`
	FocalLength  string     `json:"focal_length,omitempty"`
	Aperture     string     `json:"aperture,omitempty"`
	ShutterSpeed string     `json:"shutter_speed,omitempty"`
	ISO          string     `json:"iso,omitempty"`
	Flash        string     `json:"flash,omitempty"`
	CaptureDate  *time.Time `json:"capture_date,omitempty"`
	// CaptureDateSource is "exif" or "file" (modification time fallback).
	CaptureDateSource string `json:"capture_date_source,omitempty"`
}

const (
	CaptureDateFromExif = "exif"
	CaptureDateFromFile = "file"
)

func (f ExifFields) IsEmpty() bool {
	return f == ExifFields{}
}

// Photo is the persisted view of one source image.
type Photo struct {
	ID          uuid.UUID             `db:"id" json:"id"`
	Filename    string                `db:"filename" json:"filename"`
	Status      string                `db:"status" json:"status"` // done, partial, failed
	Error       string                `db:"error" json:"error,omitempty"`
	Width       int                   `db:"width" json:"width"`
	Height      int                   `db:"height" json:"height"`
	FileSize    int64                 `db:"file_size" json:"file_size"`
	Exif        ExifFields            `json:"exif"`
	Derivatives map[string]Derivative `db:"derivatives" json:"derivatives"`
	UpdatedAt   time.Time             `db:"updated_at" json:"updated_at"`
}

const (
	PhotoDone    = "done"
	PhotoPartial = "partial"
	PhotoFailed  = "failed"
)
