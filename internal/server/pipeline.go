package server

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"photoassets/internal/derivative"
	"photoassets/internal/exif"
	"photoassets/internal/models"
)

// PhotoStore persists per-photo metadata. *storage.Storage implements it.
type PhotoStore interface {
	SavePhoto(ctx context.Context, p *models.Photo) error
	GetPhoto(ctx context.Context, filename string) (*models.Photo, error)
	DeletePhoto(ctx context.Context, filename string) error
}

// Publisher announces processing outcomes.
type Publisher interface {
	Publish(ctx context.Context, ev models.ResultEvent) error
}

// Pipeline runs the full on-upload flow for one source: derivatives, camera
// metadata, persistence and the result event. Store and publisher are
// optional.
type Pipeline struct {
	gen       *derivative.Generator
	extractor *exif.Extractor
	store     PhotoStore
	pub       Publisher
	log       zerolog.Logger
}

func NewPipeline(gen *derivative.Generator, extractor *exif.Extractor, store PhotoStore, pub Publisher, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		gen:       gen,
		extractor: extractor,
		store:     store,
		pub:       pub,
		log:       log.With().Str("component", "pipeline").Logger(),
	}
}

// Process generates the derivatives of filename and records the outcome.
//
// The returned photo is nil only when the source is missing or the asset
// root is unusable. Otherwise it reflects what was persisted, including
// failed and partial runs, and the error is the generator's.
func (p *Pipeline) Process(ctx context.Context, filename string, force bool) (*models.Photo, error) {
	const op = "server.Pipeline.Process"

	log := p.log.With().Str("filename", filename).Logger()

	result, genErr := p.gen.Generate(filename, force)
	switch {
	case errors.Is(genErr, derivative.ErrLayout):
		return nil, genErr
	case errors.Is(genErr, derivative.ErrNotFound):
		if p.store != nil {
			if err := p.store.DeletePhoto(ctx, filename); err != nil {
				log.Error().Err(err).Msg("failed to drop record of missing source")
			}
		}
		p.publish(ctx, models.ResultEvent{Filename: filename, Status: models.PhotoFailed, Error: genErr.Error()})
		return nil, genErr
	}

	photo := &models.Photo{Filename: filename, Status: models.PhotoDone}
	if result != nil {
		photo.Width = result.Original.Width
		photo.Height = result.Original.Height
		photo.FileSize = result.Original.FileSize
		photo.Derivatives = result.Optimized
	}
	if genErr != nil {
		photo.Error = genErr.Error()
		photo.Status = models.PhotoFailed
		if result != nil {
			photo.Status = models.PhotoPartial
		}
	}
	photo.Exif = p.extractor.ExtractWithFallback(filepath.Join(p.gen.Root(), filename))

	if p.store != nil {
		if err := p.store.SavePhoto(ctx, photo); err != nil {
			log.Error().Err(err).Msg("failed to persist photo")
			return photo, errors.Join(genErr, fmt.Errorf("%s: %w", op, err))
		}
	}

	p.publish(ctx, models.ResultEvent{
		PhotoID:     idString(photo),
		Filename:    filename,
		Status:      photo.Status,
		Error:       photo.Error,
		Derivatives: photo.Derivatives,
	})

	log.Info().
		Str("status", photo.Status).
		Int("derivatives", len(photo.Derivatives)).
		Msg("photo processed")
	return photo, genErr
}

func (p *Pipeline) publish(ctx context.Context, ev models.ResultEvent) {
	if p.pub == nil {
		return
	}
	if err := p.pub.Publish(ctx, ev); err != nil {
		p.log.Error().Err(err).Str("filename", ev.Filename).Msg("failed to publish result event")
	}
}

func idString(photo *models.Photo) string {
	if photo.ID == uuid.Nil {
		return ""
	}
	return photo.ID.String()
}
