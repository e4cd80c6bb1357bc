package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/platinummonkey/foreman/pkg/audit"
	"github.com/platinummonkey/foreman/pkg/auth"
	"github.com/platinummonkey/foreman/pkg/httputil"
	"github.com/platinummonkey/foreman/pkg/observability"
	"github.com/platinummonkey/foreman/pkg/projects"
	"github.com/platinummonkey/foreman/pkg/tasks"
	"github.com/platinummonkey/foreman/pkg/timesheets"
	"github.com/platinummonkey/foreman/pkg/users"
)

// writeServiceError translates a domain error into the response envelope.
// Unknown errors become 500s with the detail logged, not leaked.
func writeServiceError(w http.ResponseWriter, logger *observability.Logger, err error) {
	switch {
	case errors.Is(err, users.ErrNotFound),
		errors.Is(err, projects.ErrNotFound),
		errors.Is(err, tasks.ErrNotFound),
		errors.Is(err, timesheets.ErrNotFound),
		errors.Is(err, audit.ErrNotFound):
		httputil.WriteNotFound(w, "resource not found")

	case errors.Is(err, users.ErrEmailTaken),
		errors.Is(err, projects.ErrCodeTaken),
		errors.Is(err, projects.ErrDuplicateMember),
		errors.Is(err, projects.ErrDuplicateInvitation),
		errors.Is(err, timesheets.ErrDuplicateEntry):
		httputil.WriteConflict(w, err.Error())

	case errors.Is(err, projects.ErrLastLead),
		errors.Is(err, users.ErrDepartmentInUse),
		errors.Is(err, timesheets.ErrNotSubmitted):
		httputil.WriteConflict(w, err.Error())

	case errors.Is(err, projects.ErrEmailMismatch):
		httputil.WriteForbidden(w, err.Error())

	case errors.Is(err, projects.ErrInvitationExpired):
		httputil.WriteError(w, http.StatusGone, err)

	case errors.Is(err, users.ErrInvalidCredentials):
		httputil.WriteUnauthorized(w, "invalid email or password")

	default:
		var (
			userValidation      *users.ValidationError
			projectValidation   *projects.ValidationError
			taskValidation      *tasks.ValidationError
			timesheetValidation *timesheets.ValidationError
			invalidState        *projects.InvalidStateError
			notEditable         *timesheets.NotEditableError
			rateLimited         *auth.RateLimitedError
		)
		switch {
		case errors.As(err, &userValidation),
			errors.As(err, &projectValidation),
			errors.As(err, &taskValidation),
			errors.As(err, &timesheetValidation):
			httputil.WriteValidationError(w, err.Error())
		case errors.As(err, &invalidState), errors.As(err, &notEditable):
			httputil.WriteConflict(w, err.Error())
		case errors.As(err, &rateLimited):
			w.Header().Set("Retry-After", strconv.Itoa(int(rateLimited.RetryAfter.Seconds()+0.5)))
			httputil.WriteTooManyRequests(w, "too many failed login attempts, try again later")
		default:
			logger.WithError(err).Error("request failed")
			httputil.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
		}
	}
}
