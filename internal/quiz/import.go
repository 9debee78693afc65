package quiz

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/checkloops/checkloops/internal/database"
	"github.com/checkloops/checkloops/internal/staff"
)

// SeedFile is the YAML layout of a question seed file.
type SeedFile struct {
	Questions []SeedQuestion `yaml:"questions"`
}

// SeedQuestion is one question of a seed file.
type SeedQuestion struct {
	Question string       `yaml:"question"`
	Category string       `yaml:"category"`
	Options  []SeedOption `yaml:"options"`
}

// SeedOption is one answer option of a seed question.
type SeedOption struct {
	Text    string `yaml:"text"`
	Correct bool   `yaml:"correct"`
}

// ParseSeed decodes and validates a seed file.
func ParseSeed(r io.Reader) (*SeedFile, error) {
	var f SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty seed file", ErrInvalidQuestion)
		}
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	for i, q := range f.Questions {
		if err := q.validate(); err != nil {
			return nil, fmt.Errorf("question %d: %w", i+1, err)
		}
	}
	return &f, nil
}

func (q SeedQuestion) validate() error {
	if strings.TrimSpace(q.Question) == "" {
		return fmt.Errorf("%w: empty question text", ErrInvalidQuestion)
	}
	if len(q.Options) < 2 {
		return fmt.Errorf("%w: %q needs at least two options", ErrInvalidQuestion, q.Question)
	}
	if lo.SomeBy(q.Options, func(o SeedOption) bool { return strings.TrimSpace(o.Text) == "" }) {
		return fmt.Errorf("%w: %q has an empty option", ErrInvalidQuestion, q.Question)
	}
	if n := lo.CountBy(q.Options, func(o SeedOption) bool { return o.Correct }); n != 1 {
		return fmt.Errorf("%w: %q has %d correct options, want exactly one", ErrInvalidQuestion, q.Question, n)
	}
	return nil
}

// Import validates the whole seed file, then stores each question with its options.
// If the options of a question cannot be stored, the question is removed again.
func (s *Service) Import(ctx context.Context, r io.Reader, actor string) (int, error) {
	f, err := ParseSeed(r)
	if err != nil {
		return 0, err
	}

	imported := 0
	for _, sq := range f.Questions {
		q, err := s.store.InsertQuestion(ctx, &staff.QuizQuestion{
			QuestionText: strings.TrimSpace(sq.Question),
			Category:     strings.TrimSpace(sq.Category),
			Active:       true,
		})
		if err != nil {
			return imported, err
		}
		options := lo.Map(sq.Options, func(o SeedOption, _ int) staff.QuizOption {
			return staff.QuizOption{QuestionID: q.ID, OptionText: strings.TrimSpace(o.Text), IsCorrect: o.Correct}
		})
		if err := s.store.InsertOptions(ctx, options); err != nil {
			if delErr := s.store.DeleteQuestion(ctx, q.ID); delErr != nil {
				log.Error("Failed to remove question without options", "question", q.ID, "error", delErr)
			}
			return imported, err
		}
		imported++
	}

	log.Info("Quiz questions imported", "count", imported)
	if s.audit != nil {
		if err := s.audit.RecordAudit(ctx, actor, database.AuditQuizImported, "", 0, map[string]any{"count": imported}); err != nil {
			log.Warn("Failed to record audit event", "error", err)
		}
	}
	return imported, nil
}
