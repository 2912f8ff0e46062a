// Package scan extracts structured transaction fields from receipt images
// using Gemini. It is an external collaborator of the workflow core: callers
// get structured fields, an ErrNotReceipt, or a failure, nothing else.
package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/expenseai/engine/internal/domain"
	"github.com/shopspring/decimal"
	"google.golang.org/genai"
)

// DefaultModelName is the Gemini model used for receipt extraction.
const DefaultModelName = "gemini-2.5-flash"

// ErrNotReceipt is returned when the model decides the image is not a
// receipt (an empty JSON object response).
var ErrNotReceipt = errors.New("scan: image does not appear to be a receipt")

// Result is the structured extraction from one receipt image.
type Result struct {
	Amount      decimal.Decimal        `json:"amount"`
	Type        domain.TransactionType `json:"type"`
	Date        time.Time              `json:"date"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Category    domain.Category        `json:"category"`
}

// Scanner is the receipt-scan surface.
type Scanner interface {
	Scan(ctx context.Context, image []byte, mimeType string) (*Result, error)
}

// GeminiScanner is the concrete Scanner backed by the Gemini API.
type GeminiScanner struct {
	apiKey string
	model  string
}

// NewGeminiScanner creates a scanner. model defaults to DefaultModelName
// when empty.
func NewGeminiScanner(apiKey, model string) *GeminiScanner {
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiScanner{apiKey: apiKey, model: model}
}

// Scan implements Scanner.
func (s *GeminiScanner) Scan(ctx context.Context, image []byte, mimeType string) (*Result, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      s.apiKey,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("Scan: create genai client: %w", err)
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: "Here is a receipt image. Extract the transaction details."},
				{
					InlineData: &genai.Blob{
						MIMEType: mimeType,
						Data:     image,
					},
				},
			},
		},
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: receiptPrompt()}},
		},
		ResponseMIMEType: "application/json",
	}

	resp, err := client.Models.GenerateContent(ctx, s.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("Scan: generate content: %w", err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return nil, fmt.Errorf("Scan: empty response from model")
	}

	return ParseModelOutput(rawText)
}

// receiptPrompt instructs the model on its role and the exact output shape.
// A strict format with a closed category list is what keeps results
// consistent across receipts.
func receiptPrompt() string {
	categories := make([]string, 0, len(domain.Categories()))
	for _, c := range domain.Categories() {
		categories = append(categories, fmt.Sprintf("%q", string(c)))
	}

	return "You are a smart receipt scanner AI. Analyze receipt images and extract financial data " +
		"into the exact JSON format below. Follow these rules strictly:\n\n" +
		"REQUIRED OUTPUT FORMAT:\n" +
		"{\n" +
		"  \"amount\": number,       // Final total amount (numbers only, no currency symbols)\n" +
		"  \"type\": \"expense\",     // Always \"expense\" for receipts (use \"income\" only for refunds/returns)\n" +
		"  \"date\": \"YYYY-MM-DD\",  // Receipt date in ISO format (use current date if not found)\n" +
		"  \"name\": \"string\",      // Short item name (1-3 words max, e.g. \"groceries\", \"coffee\", \"gas\")\n" +
		"  \"description\": \"string\", // Store/merchant name or brief description (optional)\n" +
		"  \"category\": \"string\"   // Must be one of the predefined categories below\n" +
		"}\n\n" +
		"VALID CATEGORIES:\n" + strings.Join(categories, ", ") + "\n\n" +
		"If the image is not a receipt, return exactly {} and nothing else.\n" +
		"Return ONLY valid raw JSON. Do NOT wrap the response in code fences.\n"
}
