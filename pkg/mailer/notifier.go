package mailer

import (
	"context"
	"fmt"
	"strings"

	"github.com/platinummonkey/foreman/pkg/events"
	"github.com/platinummonkey/foreman/pkg/observability"
	"github.com/platinummonkey/foreman/pkg/users"
)

// UserDirectory resolves user IDs to profiles so the notifier can address
// mail. users.Service satisfies it.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*users.User, error)
}

// Notifier is an events.Sink that mails users affected by task assignments
// and timesheet decisions. Events without a notify marker are ignored.
type Notifier struct {
	sender  Sender
	users   UserDirectory
	baseURL string
	logger  *observability.Logger
}

// NewNotifier creates a notification sink.
func NewNotifier(sender Sender, directory UserDirectory, baseURL string, logger *observability.Logger) *Notifier {
	return &Notifier{
		sender:  sender,
		users:   directory,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Handle mails the user named by the event's notify metadata.
func (n *Notifier) Handle(ctx context.Context, ev events.Event) error {
	switch ev.Meta["notify"] {
	case "assignment":
		return n.notifyAssignment(ctx, ev)
	case "timesheet_decision":
		return n.notifyTimesheetDecision(ctx, ev)
	default:
		return nil
	}
}

func (n *Notifier) notifyAssignment(ctx context.Context, ev events.Event) error {
	recipient, err := n.users.GetUser(ctx, ev.Meta["assignee_id"])
	if err != nil {
		return fmt.Errorf("failed to resolve assignee: %w", err)
	}
	if !recipient.IsActive {
		return nil
	}

	body, err := render(assignmentTemplate, assignmentData{
		Name:      recipient.FirstName,
		TaskTitle: ev.EntityRepr,
		TaskURL:   fmt.Sprintf("%s/tasks/%s", n.baseURL, ev.EntityID),
	})
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("Task assigned to you: %s", ev.EntityRepr)
	return n.sender.Send(ctx, []string{recipient.Email}, subject, body)
}

func (n *Notifier) notifyTimesheetDecision(ctx context.Context, ev events.Event) error {
	recipient, err := n.users.GetUser(ctx, ev.Meta["employee_id"])
	if err != nil {
		return fmt.Errorf("failed to resolve timesheet owner: %w", err)
	}
	if !recipient.IsActive {
		return nil
	}

	decision := "reviewed"
	switch ev.Action {
	case events.ActionApproved:
		decision = "approved"
	case events.ActionRejected:
		decision = "rejected"
	}

	body, err := render(timesheetDecisionTemplate, timesheetDecisionData{
		Name:      recipient.FirstName,
		EntryRepr: ev.EntityRepr,
		Decision:  decision,
		Comments:  ev.Meta["comments"],
	})
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("Your timesheet was %s", decision)
	return n.sender.Send(ctx, []string{recipient.Email}, subject, body)
}
