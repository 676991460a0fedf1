// internal/storage/storage.go
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"photoassets/internal/models"
)

var ErrPhotoNotFound = errors.New("photo not found")

type Storage struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func NewStorage(ctx context.Context, dsn string, log zerolog.Logger) (*Storage, error) {
	const op = "storage.NewStorage"

	log = log.With().Str("component", "storage").Logger()

	if err := runMigrations(dsn, log); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{pool: pool, log: log}, nil
}

func (s *Storage) Close() {
	s.pool.Close()
}

const photoColumns = `id, filename, status, error, width, height, file_size,
	camera_make, camera_model, lens_model, focal_length, aperture, shutter_speed, iso, flash,
	capture_date, capture_date_source, derivatives, updated_at`

// SavePhoto inserts the photo or replaces the row with the same filename.
// ID and UpdatedAt are filled from the stored row.
func (s *Storage) SavePhoto(ctx context.Context, p *models.Photo) error {
	const op = "storage.SavePhoto"

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	derivatives, err := encodeDerivatives(p.Derivatives)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO photos (id, filename, status, error, width, height, file_size,
			camera_make, camera_model, lens_model, focal_length, aperture, shutter_speed, iso, flash,
			capture_date, capture_date_source, derivatives, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, NOW())
		ON CONFLICT (filename) DO UPDATE SET
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			width = EXCLUDED.width,
			height = EXCLUDED.height,
			file_size = EXCLUDED.file_size,
			camera_make = EXCLUDED.camera_make,
			camera_model = EXCLUDED.camera_model,
			lens_model = EXCLUDED.lens_model,
			focal_length = EXCLUDED.focal_length,
			aperture = EXCLUDED.aperture,
			shutter_speed = EXCLUDED.shutter_speed,
			iso = EXCLUDED.iso,
			flash = EXCLUDED.flash,
			capture_date = EXCLUDED.capture_date,
			capture_date_source = EXCLUDED.capture_date_source,
			derivatives = EXCLUDED.derivatives,
			updated_at = NOW()
		RETURNING id, updated_at`,
		p.ID, p.Filename, p.Status, p.Error, p.Width, p.Height, p.FileSize,
		p.Exif.CameraMake, p.Exif.CameraModel, p.Exif.LensModel, p.Exif.FocalLength,
		p.Exif.Aperture, p.Exif.ShutterSpeed, p.Exif.ISO, p.Exif.Flash,
		p.Exif.CaptureDate, p.Exif.CaptureDateSource, derivatives,
	).Scan(&p.ID, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) GetPhoto(ctx context.Context, filename string) (*models.Photo, error) {
	const op = "storage.GetPhoto"

	var p models.Photo
	var derivatives []byte
	err := s.pool.QueryRow(ctx,
		`SELECT `+photoColumns+` FROM photos WHERE filename = $1`, filename,
	).Scan(&p.ID, &p.Filename, &p.Status, &p.Error, &p.Width, &p.Height, &p.FileSize,
		&p.Exif.CameraMake, &p.Exif.CameraModel, &p.Exif.LensModel, &p.Exif.FocalLength,
		&p.Exif.Aperture, &p.Exif.ShutterSpeed, &p.Exif.ISO, &p.Exif.Flash,
		&p.Exif.CaptureDate, &p.Exif.CaptureDateSource, &derivatives, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, ErrPhotoNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if p.Derivatives, err = decodeDerivatives(derivatives); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &p, nil
}

// DeletePhoto removes the record for filename. Deleting a missing record is
// not an error.
func (s *Storage) DeletePhoto(ctx context.Context, filename string) error {
	const op = "storage.DeletePhoto"

	tag, err := s.pool.Exec(ctx, `DELETE FROM photos WHERE filename = $1`, filename)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Debug().Str("filename", filename).Int64("rows", tag.RowsAffected()).Msg("photo record deleted")
	return nil
}

func encodeDerivatives(d map[string]models.Derivative) ([]byte, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d)
}

func decodeDerivatives(raw []byte) (map[string]models.Derivative, error) {
	out := make(map[string]models.Derivative)
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
