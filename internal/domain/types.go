package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a transaction as money in or money out.
type TransactionType string

const (
	TypeExpense TransactionType = "expense"
	TypeIncome  TransactionType = "income"
)

// ParseTransactionType converts a raw string into a TransactionType.
func ParseTransactionType(s string) (TransactionType, error) {
	switch TransactionType(s) {
	case TypeExpense:
		return TypeExpense, nil
	case TypeIncome:
		return TypeIncome, nil
	default:
		return "", fmt.Errorf("ParseTransactionType: unknown transaction type %q", s)
	}
}

// Category is the closed set of transaction categories.
type Category string

const (
	CategoryGroceries      Category = "groceries"
	CategoryUtilities      Category = "utilities"
	CategoryRent           Category = "rent"
	CategoryEntertainment  Category = "entertainment"
	CategoryTransportation Category = "transportation"
	CategoryDining         Category = "dining"
	CategoryHealth         Category = "health"
	CategoryShopping       Category = "shopping"
	CategoryEducation      Category = "education"
	CategoryTravel         Category = "travel"
	CategoryOther          Category = "other"
)

// Categories lists every valid category, in display order.
func Categories() []Category {
	return []Category{
		CategoryGroceries,
		CategoryUtilities,
		CategoryRent,
		CategoryEntertainment,
		CategoryTransportation,
		CategoryDining,
		CategoryHealth,
		CategoryShopping,
		CategoryEducation,
		CategoryTravel,
		CategoryOther,
	}
}

// ParseCategory converts a raw string into a Category.
// Unknown values fall back to CategoryOther so that upstream data
// (e.g. model output) never produces an unrepresentable row.
func ParseCategory(s string) Category {
	switch Category(s) {
	case CategoryGroceries, CategoryUtilities, CategoryRent,
		CategoryEntertainment, CategoryTransportation, CategoryDining,
		CategoryHealth, CategoryShopping, CategoryEducation,
		CategoryTravel, CategoryOther:
		return Category(s)
	default:
		return CategoryOther
	}
}

// User is an account holder. The ID is assigned by the identity provider
// and is the foreign key for every budget and transaction row.
type User struct {
	ID    string
	Name  string
	Email string
	Phone *string

	CreatedAt time.Time
	UpdatedAt *time.Time
}

// Budget is the single monthly spending limit for a user (1:1 relationship).
// IsLastAlertSent is the hysteresis latch for budget alerting: true while
// month-to-date spend has stayed at or above the alert threshold, false once
// spend drops back below it.
type Budget struct {
	ID              string
	UserID          string
	Amount          decimal.Decimal
	IsLastAlertSent bool

	CreatedAt time.Time
	UpdatedAt *time.Time
}

// Transaction is a single financial event belonging to one user.
//
// When IsRecurring is true, RecurringInterval must be set and
// NextRecurringDate marks when the next occurrence is due. A recurring
// transaction is closed out (IsRecurring flipped to false, interval and due
// date cleared) at the moment its successor row is created.
type Transaction struct {
	ID          string
	UserID      string
	Type        TransactionType
	Amount      decimal.Decimal
	Name        string
	Description *string
	Category    Category

	TransactionDate   time.Time
	IsRecurring       bool
	RecurringInterval *RecurringInterval
	NextRecurringDate *time.Time
	LastProcessedDate *time.Time

	CreatedAt time.Time
	UpdatedAt *time.Time
}
