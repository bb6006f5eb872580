package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Repository handles database operations for certification records and
// the notification log.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository.
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// CreateCertification inserts a new certification record.
func (r *Repository) CreateCertification(ctx context.Context, rec *CertificationRecord) error {
	query := `
		INSERT INTO certification_records (
			full_name, certification, expires_on, notes
		) VALUES (
			$1, $2, $3, $4
		)
		RETURNING id, created_utc
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		rec.FullName,
		rec.Certification,
		rec.ExpiresOn,
		rec.Notes,
	).Scan(&rec.ID, &rec.CreatedUtc)

	if err != nil {
		r.logger.Error("failed to create certification record",
			zap.Error(err),
			zap.String("full_name", rec.FullName),
			zap.String("certification", rec.Certification),
		)
		return fmt.Errorf("insert certification record: %w", err)
	}

	r.logger.Info("certification record created",
		zap.Int64("id", rec.ID),
		zap.String("full_name", rec.FullName),
		zap.String("certification", rec.Certification),
		zap.String("expires_on", rec.ExpiresOn.Format("2006-01-02")),
	)

	return nil
}

// ListExpiring returns every record whose expiry date falls within
// [todayInclusive, cutoffInclusive], ordered by expiry date ascending.
// Ties keep the order the store returns them; the bucketizer applies the
// secondary name ordering later.
func (r *Repository) ListExpiring(ctx context.Context, todayInclusive, cutoffInclusive time.Time) ([]*CertificationRecord, error) {
	query := `
		SELECT id, full_name, certification, expires_on, notes, created_utc
		FROM certification_records
		WHERE expires_on >= $1::date AND expires_on <= $2::date
		ORDER BY expires_on ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, todayInclusive, cutoffInclusive)
	if err != nil {
		return nil, fmt.Errorf("query expiring certifications: %w", err)
	}
	defer rows.Close()

	var records []*CertificationRecord
	for rows.Next() {
		var rec CertificationRecord
		err := rows.Scan(
			&rec.ID,
			&rec.FullName,
			&rec.Certification,
			&rec.ExpiresOn,
			&rec.Notes,
			&rec.CreatedUtc,
		)
		if err != nil {
			return nil, fmt.Errorf("scan certification record: %w", err)
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return records, nil
}

// ListCertifications returns records ordered by expiry with pagination.
func (r *Repository) ListCertifications(ctx context.Context, limit, offset int) ([]*CertificationRecord, error) {
	query := `
		SELECT id, full_name, certification, expires_on, notes, created_utc
		FROM certification_records
		ORDER BY expires_on ASC, id ASC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Pool().Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query certifications: %w", err)
	}
	defer rows.Close()

	var records []*CertificationRecord
	for rows.Next() {
		var rec CertificationRecord
		err := rows.Scan(
			&rec.ID,
			&rec.FullName,
			&rec.Certification,
			&rec.ExpiresOn,
			&rec.Notes,
			&rec.CreatedUtc,
		)
		if err != nil {
			return nil, fmt.Errorf("scan certification record: %w", err)
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return records, nil
}

// CountCertifications returns the total number of stored records.
func (r *Repository) CountCertifications(ctx context.Context) (int, error) {
	var count int
	err := r.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM certification_records`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count certifications: %w", err)
	}
	return count, nil
}

// NotificationExists reports whether a log row exists for the given
// notification type and period key. This is the dedup check the digest
// service runs before generating anything.
func (r *Repository) NotificationExists(ctx context.Context, notificationType, periodKey string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM notification_log
			WHERE notification_type = $1 AND period_key = $2
		)
	`

	var exists bool
	err := r.db.Pool().QueryRow(ctx, query, notificationType, periodKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query notification log: %w", err)
	}

	return exists, nil
}

// AppendNotification records a successful digest send. Append-only;
// rows are never updated or deleted.
func (r *Repository) AppendNotification(ctx context.Context, notificationType, periodKey string, sentAtUtc time.Time) error {
	query := `
		INSERT INTO notification_log (notification_type, period_key, sent_at_utc)
		VALUES ($1, $2, $3)
	`

	_, err := r.db.Pool().Exec(ctx, query, notificationType, periodKey, sentAtUtc)
	if err != nil {
		r.logger.Error("failed to append notification log",
			zap.Error(err),
			zap.String("notification_type", notificationType),
			zap.String("period_key", periodKey),
		)
		return fmt.Errorf("insert notification log: %w", err)
	}

	r.logger.Info("notification logged",
		zap.String("notification_type", notificationType),
		zap.String("period_key", periodKey),
	)

	return nil
}

// Seed inserts a small set of sample records for manual testing. It is
// idempotent: if any record exists the store is left untouched and
// seeded is false.
func (r *Repository) Seed(ctx context.Context, today time.Time) (bool, error) {
	count, err := r.CountCertifications(ctx)
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	note := "Sample"
	samples := []*CertificationRecord{
		{FullName: "John Doe", Certification: "TIPS", ExpiresOn: today.AddDate(0, 0, 25), Notes: &note},
		{FullName: "Jane Doe", Certification: "CrowdControl", ExpiresOn: today.AddDate(0, 0, 70)},
		{FullName: "Bob Smith", Certification: "FoodService", ExpiresOn: today.AddDate(0, 0, 10)},
	}

	for _, rec := range samples {
		if err := r.CreateCertification(ctx, rec); err != nil {
			return false, err
		}
	}

	r.logger.Info("sample certifications seeded", zap.Int("count", len(samples)))

	return true, nil
}
