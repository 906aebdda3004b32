// Package assistant answers client questions about their dashboard data
// through the LLM and keeps the conversation history.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/klaroops/backend/internal/apperr"
	"github.com/klaroops/backend/internal/dashboard"
	"github.com/klaroops/backend/internal/entitlement"
	"github.com/klaroops/backend/internal/guard"
	"github.com/klaroops/backend/internal/ingest"
	"github.com/klaroops/backend/internal/llm"
	"github.com/klaroops/backend/internal/models"
	"github.com/klaroops/backend/internal/repository"
)

const (
	historyMessages  = 20
	contextRecords   = 50
	maxMessageLength = 4000
	titleLength      = 60
)

type ThreadStore interface {
	CreateThread(ctx context.Context, t *models.AIThread) error
	GetThread(ctx context.Context, id, clientID uuid.UUID) (*models.AIThread, error)
	ListThreads(ctx context.Context, clientID uuid.UUID) ([]*models.AIThread, error)
	AppendMessage(ctx context.Context, m *models.AIMessage) error
	RecentMessages(ctx context.Context, threadID uuid.UUID, limit int) ([]*models.AIMessage, error)
}

type ClientStore interface {
	GetByID(ctx context.Context, id uuid.UUID, owner *uuid.UUID) (*models.Client, error)
}

type ProjectStore interface {
	GetByClientID(ctx context.Context, clientID uuid.UUID) (*models.DashboardProject, error)
}

type Service struct {
	threads  ThreadStore
	clients  ClientStore
	projects ProjectStore
	llm      llm.Completer
	log      *slog.Logger
	now      func() time.Time
}

func NewService(threads ThreadStore, clients ClientStore, projects ProjectStore, completer llm.Completer, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{threads: threads, clients: clients, projects: projects, llm: completer, log: log, now: time.Now}
}

type ChatInput struct {
	Message  string     `json:"message"`
	ThreadID *uuid.UUID `json:"thread_id,omitempty"`
	ClientID *uuid.UUID `json:"client_id,omitempty"`
}

type ChatResult struct {
	Reply    string    `json:"reply"`
	ThreadID uuid.UUID `json:"thread_id"`
}

// ResolveClient picks the client a request acts on: client users are pinned
// to their own client, admins must name one.
func (s *Service) ResolveClient(ctx context.Context, p *guard.Principal, requested *uuid.UUID) (*models.Client, error) {
	var id uuid.UUID
	switch {
	case p.IsAdmin():
		if requested == nil || *requested == uuid.Nil {
			return nil, apperr.Invalid("client_id", "client_id is required")
		}
		id = *requested
	case p != nil && p.ClientID != nil:
		id = *p.ClientID
		if requested != nil && *requested != uuid.Nil {
			if err := guard.CheckClient(p, *requested); err != nil {
				return nil, err
			}
		}
	default:
		return nil, apperr.NotFound("client")
	}
	c, err := s.clients.GetByID(ctx, id, nil)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("client")
	}
	return c, err
}

// Chat stores the user message, asks the LLM and stores the reply. When the
// LLM fails the user message stays in the thread.
func (s *Service) Chat(ctx context.Context, p *guard.Principal, in ChatInput) (*ChatResult, error) {
	msg := strings.TrimSpace(in.Message)
	if msg == "" {
		return nil, apperr.Invalid("message", "message is required")
	}
	if utf8.RuneCountInString(msg) > maxMessageLength {
		return nil, apperr.Invalid("message", fmt.Sprintf("message must be at most %d characters", maxMessageLength))
	}

	client, err := s.ResolveClient(ctx, p, in.ClientID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !entitlement.CanChat(client, now) {
		return nil, apperr.Forbidden("AI chat is not available on your current plan")
	}

	thread, err := s.thread(ctx, client.ID, in.ThreadID, msg)
	if err != nil {
		return nil, err
	}
	history, err := s.threads.RecentMessages(ctx, thread.ID, historyMessages)
	if err != nil {
		return nil, err
	}

	userMsg := &models.AIMessage{ThreadID: thread.ID, Role: models.MessageRoleUser, Content: msg}
	if err := s.threads.AppendMessage(ctx, userMsg); err != nil {
		return nil, err
	}

	messages := []llm.Message{{Role: models.MessageRoleSystem, Content: s.systemPrompt(ctx, client, now)}}
	for _, m := range history {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: models.MessageRoleUser, Content: msg})

	resp, err := s.llm.Complete(ctx, llm.Request{Messages: messages})
	if err != nil {
		s.log.Warn("assistant completion failed", "client_id", client.ID, "thread_id", thread.ID, "error", err)
		return nil, apperr.Upstream("llm", 0, "the assistant is unavailable right now, try again", err)
	}

	reply := strings.TrimSpace(resp.Content)
	if err := s.threads.AppendMessage(ctx, &models.AIMessage{ThreadID: thread.ID, Role: models.MessageRoleAssistant, Content: reply}); err != nil {
		return nil, err
	}
	return &ChatResult{Reply: reply, ThreadID: thread.ID}, nil
}

func (s *Service) thread(ctx context.Context, clientID uuid.UUID, id *uuid.UUID, firstMessage string) (*models.AIThread, error) {
	if id != nil && *id != uuid.Nil {
		t, err := s.threads.GetThread(ctx, *id, clientID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("thread")
		}
		return t, err
	}
	t := &models.AIThread{ClientID: clientID, Title: titleFrom(firstMessage)}
	if err := s.threads.CreateThread(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func titleFrom(msg string) string {
	msg = strings.Join(strings.Fields(msg), " ")
	if utf8.RuneCountInString(msg) <= titleLength {
		return msg
	}
	r := []rune(msg)
	return strings.TrimSpace(string(r[:titleLength])) + "…"
}

func (s *Service) Threads(ctx context.Context, clientID uuid.UUID) ([]*models.AIThread, error) {
	return s.threads.ListThreads(ctx, clientID)
}

// Messages returns the thread's messages oldest first.
func (s *Service) Messages(ctx context.Context, clientID, threadID uuid.UUID) ([]*models.AIMessage, error) {
	if _, err := s.thread(ctx, clientID, &threadID, ""); err != nil {
		return nil, err
	}
	return s.threads.RecentMessages(ctx, threadID, 500)
}

func (s *Service) systemPrompt(ctx context.Context, c *models.Client, now time.Time) string {
	var b strings.Builder
	b.WriteString("You are the KlaroOps analytics assistant. Answer questions about the client's business metrics using only the data below. ")
	b.WriteString("If the data does not answer the question, say so. Keep answers short.\n\n")
	fmt.Fprintf(&b, "Client: %s\nPlan: %s\nOnboarding status: %s\n", c.Name, c.Plan, c.OnboardingStatus)

	p, err := s.projects.GetByClientID(ctx, c.ID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.log.Warn("could not load dashboard for chat context", "client_id", c.ID, "error", err)
		}
		b.WriteString("\nNo dashboard has been set up yet.\n")
		return b.String()
	}
	if p.Status != models.DashboardReady {
		b.WriteString("\nThe dashboard is still being configured.\n")
		return b.String()
	}
	if len(p.KPIRules) > 0 {
		fmt.Fprintf(&b, "\nKPI definitions: %s\n", p.KPIRules)
	}

	var records []ingest.Record
	if len(p.DataSnapshot) > 0 {
		if err := json.Unmarshal(p.DataSnapshot, &records); err != nil {
			s.log.Warn("could not decode snapshot for chat context", "client_id", c.ID, "error", err)
		}
	}
	days := entitlement.PlanLimits(c.Plan).HistoryDays
	records = dashboard.FilterWindow(records, "date", now.AddDate(0, 0, -days), now)
	if len(records) > contextRecords {
		records = records[len(records)-contextRecords:]
	}
	data, _ := json.Marshal(records)
	fmt.Fprintf(&b, "\nData from the last %d days (%d records): %s\n", days, len(records), data)
	return b.String()
}
