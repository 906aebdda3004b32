// Package execution runs background jobs on river.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/klaroops/backend/internal/email"
	"github.com/klaroops/backend/internal/models"
)

// ApplicationNotificationArgs tells the ops team about a new ambassador application.
type ApplicationNotificationArgs struct {
	ApplicationID uuid.UUID `json:"application_id"`
	FullName      string    `json:"full_name"`
	Email         string    `json:"email"`
	Phone         string    `json:"phone"`
	CityState     string    `json:"city_state"`
	Message       string    `json:"message"`
}

func (ApplicationNotificationArgs) Kind() string { return "application_notification" }

// InsertOpts disables retries; a missed notification is not worth a duplicate email.
func (ApplicationNotificationArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 1}
}

type ApplicationNotificationWorker struct {
	river.WorkerDefaults[ApplicationNotificationArgs]
	sender   email.Sender
	notifyTo string
	log      *slog.Logger
}

func NewApplicationNotificationWorker(sender email.Sender, notifyTo string, log *slog.Logger) *ApplicationNotificationWorker {
	if log == nil {
		log = slog.Default()
	}
	return &ApplicationNotificationWorker{sender: sender, notifyTo: notifyTo, log: log}
}

func (w *ApplicationNotificationWorker) Work(ctx context.Context, job *river.Job[ApplicationNotificationArgs]) error {
	args := job.Args
	if w.notifyTo == "" {
		w.log.Info("application notification skipped, no recipient configured", "application_id", args.ApplicationID)
		return nil
	}

	err := w.sender.Send(ctx, email.Message{
		To:      []string{w.notifyTo},
		Subject: "New ambassador application: " + args.FullName,
		Text:    notificationBody(args),
	})
	if errors.Is(err, email.ErrNotConfigured) {
		w.log.Info("application notification skipped, email not configured", "application_id", args.ApplicationID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("send application notification: %w", err)
	}
	w.log.Info("application notification sent", "application_id", args.ApplicationID)
	return nil
}

func notificationBody(a ApplicationNotificationArgs) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", a.FullName)
	fmt.Fprintf(&b, "Email: %s\n", a.Email)
	if a.Phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", a.Phone)
	}
	if a.CityState != "" {
		fmt.Fprintf(&b, "Location: %s\n", a.CityState)
	}
	fmt.Fprintf(&b, "\n%s\n\nApplication ID: %s\n", a.Message, a.ApplicationID)
	return b.String()
}

// InsertFunc enqueues a job. It is satisfied by a closure over river.Client.Insert.
type InsertFunc func(ctx context.Context, args river.JobArgs) error

// Notifier enqueues application notifications.
type Notifier struct {
	insert InsertFunc
}

func NewNotifier(insert InsertFunc) *Notifier {
	return &Notifier{insert: insert}
}

func (n *Notifier) NotifyApplication(ctx context.Context, a *models.AmbassadorApplication) error {
	if n == nil || n.insert == nil {
		return errors.New("job queue not available")
	}
	return n.insert(ctx, ApplicationNotificationArgs{
		ApplicationID: a.ID,
		FullName:      a.FullName,
		Email:         a.Email,
		Phone:         a.Phone,
		CityState:     a.CityState,
		Message:       a.Message,
	})
}
