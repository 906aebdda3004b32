// Package applications takes public ambassador applications and lets admins
// review and score them.
package applications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/klaroops/backend/internal/apperr"
	"github.com/klaroops/backend/internal/audit"
	"github.com/klaroops/backend/internal/llm"
	"github.com/klaroops/backend/internal/models"
	"github.com/klaroops/backend/internal/repository"
)

const (
	minNameLength    = 2
	minMessageLength = 10
	maxFieldLength   = 200
	maxMessageLength = 5000
)

type Store interface {
	List(ctx context.Context, status string) ([]*models.AmbassadorApplication, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.AmbassadorApplication, error)
	GetTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.AmbassadorApplication, error)
	CreateTx(ctx context.Context, tx pgx.Tx, a *models.AmbassadorApplication) error
	UpdateStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error
	SetScoreTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, score int, reason string) error
}

// Notifier tells the ops team about a new application.
type Notifier interface {
	NotifyApplication(ctx context.Context, a *models.AmbassadorApplication) error
}

type Service struct {
	store    Store
	mutator  audit.Mutator
	notifier Notifier
	llm      llm.Completer
	log      *slog.Logger
}

func NewService(store Store, mutator audit.Mutator, notifier Notifier, completer llm.Completer, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, mutator: mutator, notifier: notifier, llm: completer, log: log}
}

type SubmitInput struct {
	FullName  string `json:"full_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	CityState string `json:"city_state"`
	Message   string `json:"message"`
	// Company is a honeypot; people never see the field.
	Company string `json:"company"`
}

// Validate trims in place and reports the first invalid field.
func (in *SubmitInput) Validate() error {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	in.CityState = strings.TrimSpace(in.CityState)
	in.Message = strings.TrimSpace(in.Message)

	if n := utf8.RuneCountInString(in.FullName); n < minNameLength || n > maxFieldLength {
		return apperr.Invalid("full_name", "please enter your full name")
	}
	addr, err := mail.ParseAddress(in.Email)
	if err != nil || addr.Address != in.Email || len(in.Email) > maxFieldLength {
		return apperr.Invalid("email", "please enter a valid email address")
	}
	if utf8.RuneCountInString(in.Phone) > maxFieldLength {
		return apperr.Invalid("phone", "phone number is too long")
	}
	if utf8.RuneCountInString(in.CityState) > maxFieldLength {
		return apperr.Invalid("city_state", "location is too long")
	}
	if n := utf8.RuneCountInString(in.Message); n < minMessageLength {
		return apperr.Invalid("message", fmt.Sprintf("please tell us a bit more (at least %d characters)", minMessageLength))
	} else if n > maxMessageLength {
		return apperr.Invalid("message", fmt.Sprintf("message must be at most %d characters", maxMessageLength))
	}
	return nil
}

// Submit stores an application and queues the admin notification. Honeypot
// submissions are accepted silently and return nil.
func (s *Service) Submit(ctx context.Context, in SubmitInput, ip, userAgent string) (*models.AmbassadorApplication, error) {
	if strings.TrimSpace(in.Company) != "" {
		s.log.Info("application honeypot triggered", "ip", ip)
		return nil, nil
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	a := &models.AmbassadorApplication{
		FullName:  in.FullName,
		Email:     strings.ToLower(in.Email),
		Phone:     in.Phone,
		CityState: in.CityState,
		Message:   in.Message,
		IP:        ip,
		UserAgent: truncate(userAgent, 500),
		Status:    models.ApplicationNew,
	}
	err := s.mutator.Mutate(ctx, func(tx pgx.Tx) (audit.Entry, error) {
		if err := s.store.CreateTx(ctx, tx, a); err != nil {
			return audit.Entry{}, err
		}
		return audit.Entry{Actor: audit.ActorPublic, Action: audit.ActionCreate, EntityType: models.EntityApplication, EntityID: a.ID, After: a}, nil
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyApplication(ctx, a); err != nil {
			s.log.Warn("could not queue application notification", "application_id", a.ID, "error", err)
		}
	}
	return a, nil
}

// truncate caps s at n bytes without splitting a rune. Invalid UTF-8 is
// dropped since text columns reject it.
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func (s *Service) List(ctx context.Context, status string) ([]*models.AmbassadorApplication, error) {
	if status != "" && !models.ValidApplicationStatus(status) {
		return nil, apperr.Invalid("status", "unknown status "+status)
	}
	return s.store.List(ctx, status)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.AmbassadorApplication, error) {
	a, err := s.store.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound(models.EntityApplication)
	}
	return a, err
}

func (s *Service) UpdateStatus(ctx context.Context, actor string, id uuid.UUID, status string) (*models.AmbassadorApplication, error) {
	if !models.ValidApplicationStatus(status) {
		return nil, apperr.Invalid("status", "status must be one of new, reviewed, approved, rejected")
	}
	var out *models.AmbassadorApplication
	err := s.mutator.Mutate(ctx, func(tx pgx.Tx) (audit.Entry, error) {
		before, err := s.getTx(ctx, tx, id)
		if err != nil {
			return audit.Entry{}, err
		}
		if err := s.store.UpdateStatusTx(ctx, tx, id, status); err != nil {
			return audit.Entry{}, err
		}
		after := *before
		after.Status = status
		out = &after
		return audit.Entry{Actor: actor, Action: audit.ActionUpdate, EntityType: models.EntityApplication, EntityID: id, Before: before, After: out}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) getTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.AmbassadorApplication, error) {
	a, err := s.store.GetTx(ctx, tx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound(models.EntityApplication)
	}
	return a, err
}

type scoreReply struct {
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// Score asks the LLM to rate the applicant from 0 to 100 and stores the result.
func (s *Service) Score(ctx context.Context, actor string, id uuid.UUID) (*models.AmbassadorApplication, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	temperature := 0.0
	resp, err := s.llm.Complete(ctx, llm.Request{
		JSON:        true,
		Temperature: &temperature,
		Messages: []llm.Message{
			{Role: models.MessageRoleSystem, Content: "You screen applicants for a sales ambassador program that sells analytics dashboards to small businesses. " +
				`Rate the applicant from 0 to 100 on likely fit and answer with JSON: {"score": <number>, "reason": "<one or two sentences>"}.`},
			{Role: models.MessageRoleUser, Content: fmt.Sprintf("Name: %s\nLocation: %s\nMessage:\n%s", a.FullName, a.CityState, a.Message)},
		},
	})
	if err != nil {
		return nil, apperr.Upstream("llm", 0, "scoring failed, try again", err)
	}
	raw, ok := llm.ExtractJSON(resp.Content)
	var reply scoreReply
	if !ok || json.Unmarshal([]byte(raw), &reply) != nil {
		return nil, apperr.Upstream("llm", 0, "scoring returned an unreadable answer, try again", fmt.Errorf("unparseable score reply %q", resp.Content))
	}
	score := ClampScore(reply.Score)
	reason := strings.TrimSpace(reply.Reason)

	var out *models.AmbassadorApplication
	err = s.mutator.Mutate(ctx, func(tx pgx.Tx) (audit.Entry, error) {
		before, err := s.getTx(ctx, tx, id)
		if err != nil {
			return audit.Entry{}, err
		}
		if err := s.store.SetScoreTx(ctx, tx, id, score, reason); err != nil {
			return audit.Entry{}, err
		}
		after := *before
		after.Score, after.ScoreReason = &score, reason
		out = &after
		return audit.Entry{Actor: actor, Action: audit.ActionUpdate, EntityType: models.EntityApplication, EntityID: id, Before: before, After: out}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ClampScore rounds v into 0..100.
func ClampScore(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Round(math.Max(0, math.Min(100, v))))
}
