// Package catalog holds the purchasable blueprints: their prices, metadata
// and the storage key of the downloadable artifact.
package catalog

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotFound = errors.New("catalog: blueprint not found")
	ErrExists   = errors.New("catalog: blueprint already exists")
)

// DefaultCurrency is used when a blueprint does not name one.
const DefaultCurrency = "eur"

// Blueprint is a purchasable automation template.
type Blueprint struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	LongDescription string    `json:"longDescription,omitempty"`
	Category        string    `json:"category"`
	Price           int64     `json:"price"` // major currency units
	Currency        string    `json:"currency"`
	Features        []string  `json:"features"`
	ArtifactKey     string    `json:"-"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// AmountMinor returns the price in minor units (cents).
func (b *Blueprint) AmountMinor() int64 {
	return b.Price * 100
}

// HasArtifact reports whether a downloadable file has been uploaded.
func (b *Blueprint) HasArtifact() bool {
	return b.ArtifactKey != ""
}

// Seed returns the launch catalog. Artifacts are attached separately through
// the admin upload endpoint.
func Seed(now time.Time) []*Blueprint {
	mk := func(id, title, desc, category string, price int64, features ...string) *Blueprint {
		return &Blueprint{
			ID:          id,
			Title:       title,
			Description: desc,
			Category:    category,
			Price:       price,
			Currency:    DefaultCurrency,
			Features:    features,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}
	return []*Blueprint{
		mk("lead-generation-system", "Lead Generation System",
			"End-to-end automation that captures, qualifies and nurtures prospects automatically.",
			"Lead Generation", 97,
			"Automatic lead capture", "Scoring-based qualification", "Personalised email sequences",
			"Native CRM integration", "Detailed reports and analytics"),
		mk("social-media-automation", "Social Media Automation",
			"Publish, engage and analyse your performance across every social network automatically.",
			"Marketing", 67,
			"Multi-platform publishing", "Smart scheduling", "Automatic replies to mentions",
			"Sentiment analysis", "Performance reports"),
		mk("expense-ocr-automation", "Expense OCR Automation",
			"Extract receipts and invoices with OCR and push categorised expenses to your accounting tool.",
			"Analytics", 147,
			"Receipt OCR", "Automatic categorisation", "Accounting export"),
		mk("email-ai-assistant", "Email AI Assistant",
			"Triage, summarise and draft replies to incoming email with an AI assistant.",
			"CRM & Sales", 119,
			"Inbox triage", "Thread summaries", "Draft replies"),
		mk("content-creation-ai", "Content Creation AI",
			"Generate, review and schedule blog and social content from a single brief.",
			"Content Creation", 197,
			"Brief to draft", "Editorial review loop", "Multi-channel scheduling"),
		mk("test-blueprint-1euro", "Test Blueprint",
			"One-euro blueprint for verifying the live payment flow end to end.",
			"Testing", 1,
			"Live payment smoke test"),
	}
}
