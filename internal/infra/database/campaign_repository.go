package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"school_mailman/internal/domain/campaign"
)

var ErrCampaignRequired = fmt.Errorf("campaign name is required")

// CampaignRepository stores campaign enrollments. It runs on both drivers.
type CampaignRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ campaign.Repository = (*CampaignRepository)(nil)

func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{db: db, now: time.Now}
}

// InsertEnrollments enrolls users at stage 0. Existing (campaign, user)
// pairs are left untouched; the count of new rows is returned.
func (r *CampaignRepository) InsertEnrollments(ctx context.Context, name string, userIDs []int64) (int, error) {
	if name == "" {
		return 0, ErrCampaignRequired
	}
	if len(userIDs) == 0 {
		return 0, nil
	}

	txn, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction for enrollment insert: %w", err)
	}
	defer txn.Rollback()

	stmt, err := txn.PreparexContext(ctx, r.db.Rebind(`INSERT INTO campaign_enrollments (campaign, user_id, stage, sent_at, created_at, updated_at)
               VALUES (?, ?, 0, NULL, ?, ?)
               ON CONFLICT (campaign, user_id) DO NOTHING`))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare enrollment insert: %w", err)
	}
	defer stmt.Close()

	now := dbTime(r.now())
	inserted := 0
	for _, id := range userIDs {
		res, err := stmt.ExecContext(ctx, name, id, now, now)
		if err != nil {
			return 0, fmt.Errorf("error inserting enrollment (campaign %q, user %d): %w", name, id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("error reading inserted rows: %w", err)
		}
		inserted += int(n)
	}

	if err := txn.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit enrollment insert: %w", err)
	}
	return inserted, nil
}

func (r *CampaignRepository) ListEnrollments(ctx context.Context, name string) ([]campaign.Enrollment, error) {
	query := r.db.Rebind(`SELECT id, campaign, user_id, stage, sent_at, created_at, updated_at
               FROM campaign_enrollments WHERE campaign = ? ORDER BY id`)
	var enrollments []campaign.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, name); err != nil {
		return nil, fmt.Errorf("error listing enrollments of %q: %w", name, err)
	}
	return enrollments, nil
}

// UpsertEnrollments writes stage and sent_at of each enrollment, keyed by
// (campaign, user_id).
func (r *CampaignRepository) UpsertEnrollments(ctx context.Context, enrollments []campaign.Enrollment) error {
	if len(enrollments) == 0 {
		return nil
	}

	txn, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for enrollment upsert: %w", err)
	}
	defer txn.Rollback()

	stmt, err := txn.PreparexContext(ctx, r.db.Rebind(`INSERT INTO campaign_enrollments (campaign, user_id, stage, sent_at, created_at, updated_at)
               VALUES (?, ?, ?, ?, ?, ?)
               ON CONFLICT (campaign, user_id) DO UPDATE
               SET stage = excluded.stage, sent_at = excluded.sent_at, updated_at = excluded.updated_at`))
	if err != nil {
		return fmt.Errorf("failed to prepare enrollment upsert: %w", err)
	}
	defer stmt.Close()

	now := dbTime(r.now())
	for _, e := range enrollments {
		sentAt := sql.NullTime{}
		if e.SentAt.Valid {
			sentAt = sql.NullTime{Time: dbTime(e.SentAt.Time), Valid: true}
		}
		createdAt := now
		if !e.CreatedAt.IsZero() {
			createdAt = dbTime(e.CreatedAt)
		}
		if _, err := stmt.ExecContext(ctx, e.Campaign, e.UserID, e.Stage, sentAt, createdAt, now); err != nil {
			return fmt.Errorf("error upserting enrollment (campaign %q, user %d): %w", e.Campaign, e.UserID, err)
		}
	}

	if err := txn.Commit(); err != nil {
		return fmt.Errorf("failed to commit enrollment upsert: %w", err)
	}
	return nil
}

func (r *CampaignRepository) DeleteEnrollments(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`DELETE FROM campaign_enrollments WHERE id IN (?)`, ids)
	if err != nil {
		return 0, fmt.Errorf("error building enrollment delete: %w", err)
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("error deleting enrollments: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error reading deleted rows: %w", err)
	}
	return int(n), nil
}
