package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const defaultBaseURL = "https://api.resend.com"

// EmailClient sends notifications through the Resend HTTP API.
type EmailClient struct {
	apiKey  string
	from    string
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewEmailClient creates a notifier backed by the Resend API.
func NewEmailClient(apiKey, from string, log zerolog.Logger) *EmailClient {
	return &EmailClient{
		apiKey:  apiKey,
		from:    from,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// WithBaseURL overrides the API endpoint, for tests.
func (c *EmailClient) WithBaseURL(url string) *EmailClient {
	c.baseURL = url
	return c
}

// SendWelcome implements Notifier.
func (c *EmailClient) SendWelcome(ctx context.Context, toEmail, firstName string) error {
	if firstName == "" {
		firstName = "there"
	}

	body := fmt.Sprintf(
		"Hi %s,\n\n"+
			"Welcome to ExpenseAI! Your account is ready.\n\n"+
			"Add your first transaction or set a monthly budget to get started.\n",
		firstName,
	)

	return c.send(ctx, toEmail, "Welcome to ExpenseAI!", body)
}

// SendBudgetAlert implements Notifier.
func (c *EmailClient) SendBudgetAlert(ctx context.Context, alert BudgetAlert) error {
	name := alert.UserName
	if name == "" {
		name = "there"
	}

	remaining := alert.Remaining()
	var position string
	if remaining.Sign() < 0 {
		position = fmt.Sprintf("You are %s over budget.", remaining.Neg().StringFixed(2))
	} else {
		position = fmt.Sprintf("You have %s remaining.", remaining.StringFixed(2))
	}

	body := fmt.Sprintf(
		"Hi %s,\n\n"+
			"You've used %d%% of your monthly budget.\n\n"+
			"Budget: %s\n"+
			"Spent so far: %s\n"+
			"%s\n",
		name,
		alert.SpentPercent,
		alert.BudgetAmount.StringFixed(2),
		alert.TotalSpent.StringFixed(2),
		position,
	)

	return c.send(ctx, alert.ToEmail, "Budget Alert", body)
}

func (c *EmailClient) send(ctx context.Context, to, subject, text string) error {
	payload := map[string]any{
		"from":    c.from,
		"to":      []string{to},
		"subject": subject,
		"text":    text,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("send: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("send: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("send: email API returned %d: %s", resp.StatusCode, detail)
	}

	c.log.Info().Str("to", to).Str("subject", subject).Msg("Notification sent")
	return nil
}

var _ Notifier = (*EmailClient)(nil)
