package workflows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/expenseai/engine/internal/domain"
	"github.com/expenseai/engine/internal/engine"
	"github.com/expenseai/engine/internal/notify"
	"github.com/expenseai/engine/internal/store"
)

// identityEvent is the identity provider's "user created" payload, parsed at
// the boundary into a typed struct. Anything the schema can't account for is
// a ValidationError, never a type-confusion failure later on.
type identityEvent struct {
	Data struct {
		ID             string `json:"id"`
		FirstName      string `json:"first_name"`
		LastName       string `json:"last_name"`
		EmailAddresses []struct {
			ID           string `json:"id"`
			EmailAddress string `json:"email_address"`
		} `json:"email_addresses"`
		PrimaryEmailAddressID string `json:"primary_email_address_id"`
	} `json:"data"`
}

// userData is the validated, normalized result of boundary parsing.
type userData struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	FirstName string `json:"firstName"`
}

// SyncResult is the structured outcome of one reconciliation. Validation
// failures complete the workflow with Success=false instead of erroring, so
// a permanently bad event is never redelivered forever.
type SyncResult struct {
	Success bool   `json:"success"`
	Action  string `json:"action,omitempty"` // "created" or "skipped"
	UserID  string `json:"userId,omitempty"`
	Error   string `json:"error,omitempty"`
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// SyncUser reconciles one identity-provider "user created" event with the
// store: validate, upsert idempotently, and send the welcome notification on
// the creation path only.
type SyncUser struct {
	store    store.Store
	notifier notify.Notifier
}

// NewSyncUser registers the reconciler as an event-triggered workflow.
func NewSyncUser(st store.Store, notifier notify.Notifier) engine.Workflow {
	s := &SyncUser{store: st, notifier: notifier}
	return engine.Workflow{
		Name:    "sync-user-from-identity-provider",
		Trigger: engine.OnEvent(EventUserCreated),
		Handler: s.handle,
	}
}

func (s *SyncUser) handle(ctx context.Context, ex *engine.Execution, payload json.RawMessage) (any, error) {
	// Step 1: validate and extract user data.
	user, err := engine.RunStep(ctx, ex, "validate-user-data", func(ctx context.Context) (userData, error) {
		return validateIdentityEvent(payload)
	})
	if err != nil {
		if ve, ok := engine.AsValidation(err); ok {
			ex.Log().Warn().Str("reason", ve.Error()).Msg("Rejecting invalid identity event")
			return SyncResult{Success: false, Error: ve.Error()}, nil
		}
		return nil, err
	}

	// Step 2: check if the user already exists.
	exists, err := engine.RunStep(ctx, ex, "check-existing-user", func(ctx context.Context) (bool, error) {
		_, err := s.store.UserByID(ctx, user.ID)
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	// Step 3: insert the user, skipping on replayed events.
	action, err := engine.RunStep(ctx, ex, "sync-user-to-db", func(ctx context.Context) (string, error) {
		if exists {
			ex.Log().Info().Str("user_id", user.ID).Msg("User already exists, skipping insert")
			return "skipped", nil
		}
		newUser := &domain.User{
			ID:        user.ID,
			Name:      user.Name,
			Email:     user.Email,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.store.InsertUser(ctx, newUser); err != nil {
			return "", err
		}
		ex.Log().Info().Str("user_id", user.ID).Str("email", user.Email).Msg("User synced")
		return "created", nil
	})
	if err != nil {
		return nil, err
	}

	// Step 4: welcome notification, creation path only. A send failure is
	// recorded but never fails the reconciliation.
	_, err = engine.RunStep(ctx, ex, "send-welcome-email", func(ctx context.Context) (bool, error) {
		if action != "created" {
			return false, nil
		}
		if err := s.notifier.SendWelcome(ctx, user.Email, user.FirstName); err != nil {
			ex.Log().Error().Err(err).Str("email", user.Email).Msg("Failed to send welcome email")
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	return SyncResult{Success: true, Action: action, UserID: user.ID}, nil
}

// validateIdentityEvent parses and validates the provider payload.
func validateIdentityEvent(payload json.RawMessage) (userData, error) {
	var evt identityEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return userData{}, &engine.ValidationError{Reason: fmt.Sprintf("malformed payload: %v", err)}
	}

	d := evt.Data
	if d.ID == "" {
		return userData{}, &engine.ValidationError{Field: "id", Reason: "user ID is missing"}
	}
	if len(d.EmailAddresses) == 0 {
		return userData{}, &engine.ValidationError{Field: "email_addresses", Reason: "no email addresses found for user"}
	}
	if d.PrimaryEmailAddressID == "" {
		return userData{}, &engine.ValidationError{Field: "primary_email_address_id", Reason: "primary email address ID is missing"}
	}

	var primaryEmail string
	for _, addr := range d.EmailAddresses {
		if addr.ID == d.PrimaryEmailAddressID {
			primaryEmail = addr.EmailAddress
			break
		}
	}
	if primaryEmail == "" {
		return userData{}, &engine.ValidationError{
			Field:  "primary_email_address_id",
			Reason: fmt.Sprintf("primary email with ID %s not found", d.PrimaryEmailAddressID),
		}
	}
	if !emailPattern.MatchString(primaryEmail) {
		return userData{}, &engine.ValidationError{
			Field:  "email_address",
			Reason: fmt.Sprintf("invalid email format: %s", primaryEmail),
		}
	}

	firstName := strings.TrimSpace(d.FirstName)
	lastName := strings.TrimSpace(d.LastName)
	fullName := strings.TrimSpace(firstName + " " + lastName)
	if fullName == "" {
		fullName = "Anonymous User"
	}

	return userData{
		ID:        d.ID,
		Email:     strings.ToLower(primaryEmail),
		Name:      fullName,
		FirstName: firstName,
	}, nil
}
