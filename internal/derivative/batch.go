package derivative

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"photoassets/internal/metrics"
	"photoassets/internal/models"
)

// GenerateAll runs Generate for every source image in the asset root, in
// filename order, and overwrites the report file with the outcome.
// Individual image failures are recorded in the report; only layout and
// listing failures are returned as errors.
func (g *Generator) GenerateAll(force bool) (*models.OptimizationReport, error) {
	const op = "derivative.GenerateAll"

	if err := g.EnsureLayout(); err != nil {
		return nil, err
	}

	sources, err := g.listSources()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	g.log.Info().Int("images", len(sources)).Bool("force", force).Msg("starting derivative generation")

	report := &models.OptimizationReport{
		TotalImages: len(sources),
		Results:     make(map[string]*models.Result, len(sources)),
		Failures:    make(map[string]string),
	}

	for _, name := range sources {
		result, err := g.Generate(name, force)
		if err != nil {
			if errors.Is(err, ErrLayout) {
				return nil, err
			}
			report.Errors++
			if result != nil {
				report.Results[name] = result
			} else {
				report.Failures[name] = err.Error()
			}
			continue
		}
		report.Successful++
		report.Results[name] = result
		report.TotalOriginalSize += result.Original.FileSize
		report.TotalOptimizedSize += result.OptimizedBytes()
	}
	report.Timestamp = g.now()

	if err := g.writeReport(report); err != nil {
		return report, fmt.Errorf("%s: %w: %w", op, ErrWrite, err)
	}

	g.log.Info().
		Int("successful", report.Successful).
		Int("errors", report.Errors).
		Int64("original_bytes", report.TotalOriginalSize).
		Int64("optimized_bytes", report.TotalOptimizedSize).
		Msg("derivative generation completed")

	return report, nil
}

// staleAfter is the age at which a pending file is taken to be left over
// from an interrupted write.
const staleAfter = time.Hour

// CleanupOrphans deletes derivatives whose source image no longer exists and
// returns how many were removed. Pending files abandoned by interrupted
// writes are removed in the same sweep.
func (g *Generator) CleanupOrphans() (int, error) {
	const op = "derivative.CleanupOrphans"

	sources, err := g.listSources()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	valid := make(map[string]bool, len(sources))
	for _, name := range sources {
		valid[name] = true
	}

	sweeps := []struct {
		dir   string
		specs []string
	}{
		{models.OptimizedDir, g.catalog.Names()},
		{models.ThumbnailsDir, specNames(g.catalog.specsIn(models.ThumbnailsDir))},
	}

	stale := g.reapPending(g.root)
	removed := 0
	for _, sweep := range sweeps {
		dir := filepath.Join(g.root, sweep.dir)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return removed, fmt.Errorf("%s: %w", op, err)
		}
		stale += g.reapPending(dir)

		for _, entry := range entries {
			if !entry.Type().IsRegular() || isPendingName(entry.Name()) {
				continue
			}
			source, ok := matchSource(entry.Name(), sweep.specs)
			if !ok || valid[source] {
				continue
			}
			if g.removeOrphan(source, filepath.Join(dir, entry.Name())) {
				removed++
			}
		}
	}

	metrics.RecordOrphansRemoved(removed)
	g.log.Info().Int("removed", removed).Int("stale_pending", stale).Msg("orphan cleanup completed")
	return removed, nil
}

// reapPending removes pending files in dir older than staleAfter.
func (g *Generator) reapPending(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	cutoff := g.now().Add(-staleAfter)
	reaped := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !isPendingName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		p := filepath.Join(dir, entry.Name())
		if err := os.Remove(p); err != nil {
			if !os.IsNotExist(err) {
				g.log.Error().Err(err).Str("path", p).Msg("failed to remove stale pending file")
			}
			continue
		}
		g.log.Debug().Str("path", p).Msg("removed stale pending file")
		reaped++
	}
	return reaped
}

// isPendingName reports whether name is a temp file written ahead of an
// atomic rename: a dot, the target's name, then random digits.
func isPendingName(name string) bool {
	if !strings.HasPrefix(name, ".") {
		return false
	}
	target := strings.TrimRight(name[1:], "0123456789")
	if target == name[1:] {
		return false
	}
	return target == models.ReportFile || IsImageFilename(target)
}

// RemoveSource deletes a source image together with all of its derivatives
// and returns how many derivative files were removed. A source that is
// already gone still has its derivatives removed.
func (g *Generator) RemoveSource(filename string) (int, error) {
	const op = "derivative.RemoveSource"

	if filename == "" || filepath.Base(filename) != filename || !IsImageFilename(filename) {
		return 0, &SourceError{Op: op, Filename: filename, Kind: ErrNotFound,
			Err: errors.New("filename must name an image directly under the asset root")}
	}

	unlock := g.locks.Lock(filename)
	defer unlock()

	srcErr := os.Remove(filepath.Join(g.root, filename))
	if srcErr != nil && !os.IsNotExist(srcErr) {
		return 0, fmt.Errorf("%s: %w", op, srcErr)
	}

	removed := 0
	for _, spec := range g.catalog.specs {
		p := filepath.Join(g.root, spec.Dir(), models.DerivativeFilename(filename, spec.Name))
		if err := os.Remove(p); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return removed, fmt.Errorf("%s: %w", op, err)
		}
		removed++
	}
	metrics.RecordOrphansRemoved(removed)

	if os.IsNotExist(srcErr) && removed == 0 {
		return 0, &SourceError{Op: op, Filename: filename, Kind: ErrNotFound, Err: srcErr}
	}
	g.log.Info().Str("filename", filename).Int("derivatives", removed).Msg("source removed")
	return removed, nil
}

// removeOrphan deletes one derivative under its source's lock, re-checking
// that the source did not appear in the meantime.
func (g *Generator) removeOrphan(source, derivativePath string) bool {
	unlock := g.locks.Lock(source)
	defer unlock()

	if info, err := os.Stat(filepath.Join(g.root, source)); err == nil && info.Mode().IsRegular() {
		return false
	}
	if err := os.Remove(derivativePath); err != nil {
		if !os.IsNotExist(err) {
			g.log.Error().Err(err).Str("path", derivativePath).Msg("failed to remove orphaned derivative")
		}
		return false
	}
	g.log.Debug().Str("path", derivativePath).Str("source", source).Msg("removed orphaned derivative")
	return true
}

// matchSource maps a derivative filename back to its source filename using
// the first spec suffix that matches.
func matchSource(name string, specs []string) (string, bool) {
	for _, spec := range specs {
		if source, ok := models.SourceFilename(name, spec); ok {
			return source, true
		}
	}
	return "", false
}

func specNames(specs []models.DerivativeSpec) []string {
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.Name)
	}
	return names
}

// listSources returns the image files directly under the asset root, sorted
// by name.
func (g *Generator) listSources() ([]string, error) {
	entries, err := os.ReadDir(g.root)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if !IsImageFilename(entry.Name()) {
			continue
		}
		info, err := os.Stat(filepath.Join(g.root, entry.Name()))
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

func (g *Generator) ReportPath() string {
	return filepath.Join(g.root, models.ReportFile)
}

func (g *Generator) writeReport(report *models.OptimizationReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(g.ReportPath(), data)
}

// ReadReport loads the report written by the last GenerateAll.
func (g *Generator) ReadReport() (*models.OptimizationReport, error) {
	data, err := os.ReadFile(g.ReportPath())
	if err != nil {
		return nil, err
	}
	var report models.OptimizationReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("derivative.ReadReport: %w", err)
	}
	return &report, nil
}
