package scan

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/expenseai/engine/internal/domain"
	"github.com/shopspring/decimal"
)

// modelOutput mirrors the JSON shape the prompt asks for.
type modelOutput struct {
	Amount      json.Number `json:"amount"`
	Type        string      `json:"type"`
	Date        string      `json:"date"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Category    string      `json:"category"`
}

// ParseModelOutput converts the model's raw text into a Result. An empty
// object means the image was not a receipt.
func ParseModelOutput(raw string) (*Result, error) {
	clean := cleanModelJSON(raw)

	if clean == "{}" {
		return nil, ErrNotReceipt
	}

	dec := json.NewDecoder(strings.NewReader(clean))
	dec.UseNumber()

	var out modelOutput
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("ParseModelOutput: unmarshal JSON: %w\nraw response: %s", err, raw)
	}

	if out.Amount == "" {
		return nil, fmt.Errorf("ParseModelOutput: missing amount")
	}
	amount, err := decimal.NewFromString(out.Amount.String())
	if err != nil {
		return nil, fmt.Errorf("ParseModelOutput: amount %q: %w", out.Amount, err)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("ParseModelOutput: amount must be positive, got %s", amount)
	}

	txType, err := domain.ParseTransactionType(out.Type)
	if err != nil {
		return nil, fmt.Errorf("ParseModelOutput: %w", err)
	}

	date := time.Now().UTC()
	if out.Date != "" {
		parsed, err := time.Parse("2006-01-02", out.Date)
		if err != nil {
			return nil, fmt.Errorf("ParseModelOutput: date %q: %w", out.Date, err)
		}
		date = parsed
	}

	if out.Name == "" {
		return nil, fmt.Errorf("ParseModelOutput: missing name")
	}

	return &Result{
		Amount:      amount,
		Type:        txType,
		Date:        date,
		Name:        out.Name,
		Description: out.Description,
		Category:    domain.ParseCategory(out.Category),
	}, nil
}

// cleanModelJSON strips Markdown fences and surrounding junk if the model
// ignored the raw-JSON instruction.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	// Extra safety: keep only from the first '{' to the last '}'.
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}
