package mailer

import (
	"fmt"
	"strings"
	"text/template"
)

var invitationTemplate = template.Must(template.New("invitation").Parse(
	`Hi,

{{.InviterName}} has invited you to join the project "{{.ProjectName}}" as {{.Role}}.
{{if .Message}}
Message from {{.InviterName}}:
{{.Message}}
{{end}}
Accept the invitation here:

  {{.AcceptURL}}

This invitation expires on {{.ExpiresAt}}. If you were not expecting this
email you can safely ignore it.
`))

var assignmentTemplate = template.Must(template.New("assignment").Parse(
	`Hi {{.Name}},

You have been assigned the task "{{.TaskTitle}}".

View it here:

  {{.TaskURL}}
`))

var timesheetDecisionTemplate = template.Must(template.New("timesheet_decision").Parse(
	`Hi {{.Name}},

Your timesheet entry {{.EntryRepr}} has been {{.Decision}}.
{{if .Comments}}
Reviewer comments:
{{.Comments}}
{{end}}`))

type invitationData struct {
	InviterName string
	ProjectName string
	Role        string
	Message     string
	AcceptURL   string
	ExpiresAt   string
}

type assignmentData struct {
	Name      string
	TaskTitle string
	TaskURL   string
}

type timesheetDecisionData struct {
	Name      string
	EntryRepr string
	Decision  string
	Comments  string
}

func render(tmpl *template.Template, data interface{}) (string, error) {
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render %s template: %w", tmpl.Name(), err)
	}
	return b.String(), nil
}
