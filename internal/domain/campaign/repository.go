package campaign

import "context"

// Repository persists campaign enrollments.
type Repository interface {
	// InsertEnrollments creates stage-0 enrollments, silently skipping users
	// already enrolled in the campaign. It returns the number of rows created.
	InsertEnrollments(ctx context.Context, campaign string, userIDs []int64) (int, error)
	ListEnrollments(ctx context.Context, campaign string) ([]Enrollment, error)
	// UpsertEnrollments writes stage and sent_at, keyed by (campaign, user_id).
	UpsertEnrollments(ctx context.Context, enrollments []Enrollment) error
	DeleteEnrollments(ctx context.Context, ids []int64) (int, error)
}
