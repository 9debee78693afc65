package staff

import (
	"context"
	"fmt"
	"time"

	"github.com/checkloops/checkloops/pkg/supabase"
)

// ListActiveQuestions returns the active quiz questions with their options.
func (r *Repository) ListActiveQuestions(ctx context.Context) ([]QuizQuestion, error) {
	rows, err := supabase.All[QuizQuestion](ctx, r.client.From(TableQuizQuestions).
		Select("*,quiz_options(*)").
		Eq("is_active", true).
		Order("id", true))
	if err != nil {
		return nil, fmt.Errorf("failed to list quiz questions: %w", err)
	}
	return rows, nil
}

// InsertQuestion stores a question without its options.
func (r *Repository) InsertQuestion(ctx context.Context, q *QuizQuestion) (*QuizQuestion, error) {
	row := *q
	row.Options = nil
	var rows []QuizQuestion
	if err := r.client.From(TableQuizQuestions).Insert(ctx, &row, &rows); err != nil {
		return nil, fmt.Errorf("failed to insert quiz question: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert quiz question returned no rows")
	}
	return &rows[0], nil
}

// InsertOptions stores the options of a question.
func (r *Repository) InsertOptions(ctx context.Context, options []QuizOption) error {
	if err := r.client.From(TableQuizOptions).Insert(ctx, options, nil); err != nil {
		return fmt.Errorf("failed to insert quiz options: %w", err)
	}
	return nil
}

// DeleteQuestion removes a question. Its options are removed by the foreign key cascade.
func (r *Repository) DeleteQuestion(ctx context.Context, id int64) error {
	return r.client.From(TableQuizQuestions).Eq("id", id).Delete(ctx, nil)
}

// InsertAttempt stores a scored quiz run in quiz_attempts, or quiz_practices if practice is set.
func (r *Repository) InsertAttempt(ctx context.Context, a *QuizAttempt, practice bool) (*QuizAttempt, error) {
	table := TableQuizAttempts
	if practice {
		table = TableQuizPractices
	}
	var rows []QuizAttempt
	if err := r.client.From(table).Insert(ctx, a, &rows); err != nil {
		return nil, fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert into %s returned no rows", table)
	}
	return &rows[0], nil
}

// ListAttempts returns the real quiz attempts of a user, newest first.
func (r *Repository) ListAttempts(ctx context.Context, userID int64, limit int) ([]QuizAttempt, error) {
	var rows []QuizAttempt
	q := r.client.From(TableQuizAttempts).Select("*").Eq("user_id", userID).Order("completed_at", false)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Execute(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to list quiz attempts: %w", err)
	}
	return rows, nil
}

// CountAttemptsSince returns the number of real attempts on a site since the given time.
func (r *Repository) CountAttemptsSince(ctx context.Context, siteID int64, since time.Time) (int, error) {
	return r.client.From(TableQuizAttempts).Eq("site_id", siteID).Gte("completed_at", since).Count(ctx)
}
