package mailer

import (
	"context"
	"fmt"
	"strings"

	"github.com/platinummonkey/foreman/pkg/projects"
)

// InvitationMailer renders and sends project invitation emails. It satisfies
// projects.InvitationMailer.
type InvitationMailer struct {
	sender  Sender
	baseURL string
}

// NewInvitationMailer creates an invitation mailer. baseURL is the externally
// reachable root used to build accept links.
func NewInvitationMailer(sender Sender, baseURL string) *InvitationMailer {
	return &InvitationMailer{
		sender:  sender,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// SendInvitation mails the invitation to its recipient.
func (m *InvitationMailer) SendInvitation(ctx context.Context, inv *projects.Invitation, projectName, inviterName string) error {
	body, err := render(invitationTemplate, invitationData{
		InviterName: inviterName,
		ProjectName: projectName,
		Role:        string(inv.Role),
		Message:     inv.Message,
		AcceptURL:   fmt.Sprintf("%s/invitations/accept?token=%s", m.baseURL, inv.Token),
		ExpiresAt:   inv.ExpiresAt.Format("Jan 2, 2006 15:04 MST"),
	})
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("You have been invited to %s", projectName)
	return m.sender.Send(ctx, []string{inv.Email}, subject, body)
}
