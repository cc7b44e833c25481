package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	Debit  Direction = "debit"
	Credit Direction = "credit"
)

// MaxDescriptionLength bounds free-text descriptions coming from bank exports.
const MaxDescriptionLength = 500

type (
	// Direction tells whether money left (debit) or entered (credit) an account.
	Direction string

	Date struct {
		time.Time
	}

	Transaction struct {
		ID             string
		UserID         string
		BankAccountID  string
		CategoryID     string // empty when uncategorized
		Date           Date
		Description    string
		Amount         Money // signed: negative for debits
		Direction      Direction
		IsTrainingData bool
		CreatedAt      time.Time
	}

	Category struct {
		ID     string
		UserID string
		Name   string
	}

	BankAccount struct {
		ID      string
		UserID  string
		Name    string
		Balance Money
	}

	// AssetSnapshot is one row of the spreadsheet "Savings" tab.
	AssetSnapshot struct {
		Quarter           string // "YYYY Qn"
		AssetType         string
		Value             Money
		BaseCurrencyValue *Money // nil when the sheet cell is empty
	}
)

var (
	ErrZeroDate         = errors.New("date cannot be zero")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyDescription = errors.New("empty description")
	ErrInvalidDirection = errors.New("invalid direction")
)

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	return d == Debit || d == Credit
}

// DirectionFromAmount derives the direction of a signed amount.
func DirectionFromAmount(m Money) Direction {
	if m.IsNegative() {
		return Debit
	}
	return Credit
}

// Validate rejects the zero date. Day and month ranges are checked where
// raw input is parsed (ParseDate, ParseMonth).
func (d Date) Validate() error {
	if d.IsZero() {
		return ErrZeroDate
	}
	return nil
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in UTC.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return d.Format(DateLayout)
}

// SameDay reports whether both dates fall on the same calendar day.
func (d Date) SameDay(o Date) bool {
	y1, m1, d1 := d.Time.Date()
	y2, m2, d2 := o.Time.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// AbsAmount returns the unsigned amount of the transaction.
func (t Transaction) AbsAmount() Money {
	return t.Amount.Abs()
}

func (t Transaction) Validate() error {
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if len(strings.TrimSpace(t.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(t.Description) > MaxDescriptionLength {
		return fmt.Errorf("description too long (max %d characters)", MaxDescriptionLength)
	}
	if t.Amount.IsZero() {
		return ErrInvalidAmount
	}
	if !t.Direction.Valid() {
		return ErrInvalidDirection
	}
	if t.Direction != DirectionFromAmount(t.Amount) {
		return fmt.Errorf("%w: %s does not match amount %s", ErrInvalidDirection, t.Direction, t.Amount)
	}
	return nil
}

// NewTransaction builds a transaction whose direction follows the sign of amount.
func NewTransaction(date Date, description string, amount Money) Transaction {
	return Transaction{
		Date:        date,
		Description: strings.TrimSpace(description),
		Amount:      amount,
		Direction:   DirectionFromAmount(amount),
	}
}

// EffectiveValue is the base-currency value when present, otherwise the raw value.
func (a AssetSnapshot) EffectiveValue() Money {
	if a.BaseCurrencyValue != nil {
		return *a.BaseCurrencyValue
	}
	return a.Value
}
