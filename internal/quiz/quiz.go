// Package quiz draws, scores and records the compliance quiz.
package quiz

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/charmbracelet/log"
	"github.com/samber/lo"

	"github.com/checkloops/checkloops/internal/config"
	"github.com/checkloops/checkloops/internal/database"
	"github.com/checkloops/checkloops/internal/staff"
)

var (
	ErrInvalidQuestion = errors.New("invalid quiz question")
	ErrInvalidAnswer   = errors.New("invalid quiz answer")
	ErrNoAnswers       = errors.New("no answers submitted")
	ErrIncomplete      = errors.New("quiz attempt is incomplete")
	ErrNoQuestions     = errors.New("no active quiz questions")
	ErrUserNotFound    = errors.New("user not found")
)

// Store is the persistence used by the quiz service.
type Store interface {
	ListActiveQuestions(ctx context.Context) ([]staff.QuizQuestion, error)
	InsertQuestion(ctx context.Context, q *staff.QuizQuestion) (*staff.QuizQuestion, error)
	InsertOptions(ctx context.Context, options []staff.QuizOption) error
	DeleteQuestion(ctx context.Context, id int64) error
	InsertAttempt(ctx context.Context, a *staff.QuizAttempt, practice bool) (*staff.QuizAttempt, error)
	GetUserByID(ctx context.Context, id int64) (*staff.MasterUser, error)
	UpdateUser(ctx context.Context, id int64, patch map[string]any) error
	ListUsers(ctx context.Context, siteID int64, activeOnly bool) ([]staff.MasterUser, error)
}

// Auditor records privileged changes.
type Auditor interface {
	RecordAudit(ctx context.Context, actor string, action database.AuditAction, subject string, siteID int64, details map[string]any) error
}

// Service runs the quiz.
type Service struct {
	store Store
	audit Auditor
	cfg   *config.QuizConfig
	now   func() time.Time
}

// New creates a new quiz service.
func New(store Store, audit Auditor, cfg *config.QuizConfig) *Service {
	return &Service{store: store, audit: audit, cfg: cfg, now: time.Now}
}

// PublicOption is an answer option without its correctness flag.
type PublicOption struct {
	ID         int64  `json:"id"`
	OptionText string `json:"option_text"`
}

// PublicQuestion is a question as handed to the quiz taker.
type PublicQuestion struct {
	ID           int64          `json:"id"`
	QuestionText string         `json:"question_text"`
	Category     string         `json:"category,omitempty"`
	Options      []PublicOption `json:"options"`
}

// Draw returns a random sample of n active questions. n <= 0 uses the configured question count.
// Questions with fewer than two options are never drawn.
func (s *Service) Draw(ctx context.Context, n int) ([]PublicQuestion, error) {
	if n <= 0 {
		n = s.cfg.QuestionCount
	}
	questions, err := s.store.ListActiveQuestions(ctx)
	if err != nil {
		return nil, err
	}
	usable := usableQuestions(questions)
	if len(usable) == 0 {
		return nil, ErrNoQuestions
	}
	return lo.Map(lo.Samples(usable, n), func(q staff.QuizQuestion, _ int) PublicQuestion {
		return toPublic(q)
	}), nil
}

// usableQuestions drops questions with fewer than two options.
func usableQuestions(questions []staff.QuizQuestion) []staff.QuizQuestion {
	return lo.Filter(questions, func(q staff.QuizQuestion, _ int) bool { return len(q.Options) >= 2 })
}

// requiredAnswers is the number of answers a real attempt must contain:
// the configured question count, or every usable question if there are fewer.
func (s *Service) requiredAnswers(questions []staff.QuizQuestion) int {
	return min(s.cfg.QuestionCount, len(usableQuestions(questions)))
}

func toPublic(q staff.QuizQuestion) PublicQuestion {
	options := lo.Map(lo.Samples(q.Options, len(q.Options)), func(o staff.QuizOption, _ int) PublicOption {
		return PublicOption{ID: o.ID, OptionText: o.OptionText}
	})
	return PublicQuestion{ID: q.ID, QuestionText: q.QuestionText, Category: q.Category, Options: options}
}

// Answer is the option picked for a question.
type Answer struct {
	QuestionID int64 `json:"question_id"`
	OptionID   int64 `json:"option_id"`
}

// Result is a scored set of answers.
type Result struct {
	Score      int                `json:"score"`
	Total      int                `json:"total"`
	Percentage float64            `json:"percentage"`
	Passed     bool               `json:"passed"`
	Answers    []staff.QuizAnswer `json:"answers"`
}

// Score marks the answers against the questions.
// Every answer must name a known question once, and an option of that question.
func Score(questions []staff.QuizQuestion, answers []Answer, passMark float64) (*Result, error) {
	if len(answers) == 0 {
		return nil, ErrNoAnswers
	}
	byID := lo.SliceToMap(questions, func(q staff.QuizQuestion) (int64, staff.QuizQuestion) { return q.ID, q })

	res := &Result{Total: len(answers), Answers: make([]staff.QuizAnswer, 0, len(answers))}
	seen := map[int64]bool{}
	for _, a := range answers {
		q, ok := byID[a.QuestionID]
		if !ok {
			return nil, fmt.Errorf("%w: unknown question %d", ErrInvalidAnswer, a.QuestionID)
		}
		if seen[a.QuestionID] {
			return nil, fmt.Errorf("%w: question %d answered twice", ErrInvalidAnswer, a.QuestionID)
		}
		seen[a.QuestionID] = true

		opt, ok := lo.Find(q.Options, func(o staff.QuizOption) bool { return o.ID == a.OptionID })
		if !ok {
			return nil, fmt.Errorf("%w: option %d does not belong to question %d", ErrInvalidAnswer, a.OptionID, a.QuestionID)
		}
		if opt.IsCorrect {
			res.Score++
		}
		res.Answers = append(res.Answers, staff.QuizAnswer{QuestionID: q.ID, OptionID: opt.ID, Correct: opt.IsCorrect})
	}
	res.Percentage = math.Round(float64(res.Score)*1000/float64(res.Total)) / 10
	res.Passed = res.Percentage >= passMark
	return res, nil
}

// SubmitResult is the stored attempt and, for real attempts, the next due date.
type SubmitResult struct {
	Attempt     *staff.QuizAttempt `json:"attempt"`
	Practice    bool               `json:"practice"`
	NextQuizDue *time.Time         `json:"next_quiz_due,omitempty"`
}

// Submit scores and stores the answers of a user.
// A real attempt must answer a full quiz and also moves the user's quiz dates forward.
// Practice runs only store the result.
func (s *Service) Submit(ctx context.Context, userID int64, answers []Answer, practice bool) (*SubmitResult, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, staff.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	questions, err := s.store.ListActiveQuestions(ctx)
	if err != nil {
		return nil, err
	}
	res, err := Score(questions, answers, s.cfg.PassMark)
	if err != nil {
		return nil, err
	}
	if required := s.requiredAnswers(questions); !practice && res.Total < required {
		return nil, fmt.Errorf("%w: %d of %d questions answered", ErrIncomplete, res.Total, required)
	}

	now := s.now().UTC()
	attempt, err := s.store.InsertAttempt(ctx, &staff.QuizAttempt{
		UserID:         user.ID,
		SiteID:         user.SiteID,
		Score:          res.Score,
		TotalQuestions: res.Total,
		Percentage:     res.Percentage,
		Passed:         res.Passed,
		Answers:        res.Answers,
		CompletedAt:    now,
	}, practice)
	if err != nil {
		return nil, err
	}

	out := &SubmitResult{Attempt: attempt, Practice: practice}
	if practice {
		return out, nil
	}

	next := now.AddDate(0, s.cfg.IntervalMonths, 0)
	if err := s.store.UpdateUser(ctx, user.ID, map[string]any{
		"last_quiz_completed": now,
		"next_quiz_due":       next,
	}); err != nil {
		return nil, fmt.Errorf("attempt stored but quiz dates not updated: %w", err)
	}
	out.NextQuizDue = &next

	log.Info("Quiz submitted", "user", user.ID, "score", res.Score, "total", res.Total, "passed", res.Passed)
	if s.audit != nil {
		if err := s.audit.RecordAudit(ctx, user.AuthUserID, database.AuditQuizSubmitted, user.Email, user.SiteID, map[string]any{
			"score":      res.Score,
			"total":      res.Total,
			"percentage": res.Percentage,
			"passed":     res.Passed,
		}); err != nil {
			log.Warn("Failed to record audit event", "error", err)
		}
	}
	return out, nil
}

// Overdue returns the active users of a site whose quiz is due, including those who never took it.
func (s *Service) Overdue(ctx context.Context, siteID int64, now time.Time) ([]staff.MasterUser, error) {
	users, err := s.store.ListUsers(ctx, siteID, true)
	if err != nil {
		return nil, err
	}
	return lo.Filter(users, func(u staff.MasterUser, _ int) bool {
		return u.NextQuizDue == nil || u.NextQuizDue.Before(now)
	}), nil
}
