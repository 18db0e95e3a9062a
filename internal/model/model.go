package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Cover string

const (
	CoverHard Cover = "HARD"
	CoverSoft Cover = "SOFT"
)

type PaymentStatus string

const (
	StatusPending  PaymentStatus = "PENDING"
	StatusPaid     PaymentStatus = "PAID"
	StatusExpired  PaymentStatus = "EXPIRED"
	StatusCanceled PaymentStatus = "CANCELED"
)

type PaymentType string

const (
	TypePayment PaymentType = "PAYMENT"
	TypeFine    PaymentType = "FINE"
)

// FineMultiplier is the late-return policy: a day overdue costs twice
// the daily fee.
const FineMultiplier = 2

type Book struct {
	ID        int             `json:"id" db:"id"`
	Title     string          `json:"title" db:"title"`
	Author    string          `json:"author" db:"author"`
	Cover     Cover           `json:"cover" db:"cover"`
	Inventory int             `json:"inventory" db:"inventory"`
	DailyFee  decimal.Decimal `json:"dailyFee" db:"daily_fee"`
}

type Borrowing struct {
	ID                 int        `json:"id" db:"id"`
	BorrowDate         time.Time  `json:"borrowDate" db:"borrow_date"`
	ExpectedReturnDate time.Time  `json:"expectedReturnDate" db:"expected_return_date"`
	ActualReturnDate   *time.Time `json:"actualReturnDate" db:"actual_return_date"`
	BookID             int        `json:"bookId" db:"book_id"`
	Username           string     `json:"username" db:"username"`
}

func (b Borrowing) OwnerID() string { return b.Username }

func (b Borrowing) IsActive() bool { return b.ActualReturnDate == nil }

type Payment struct {
	ID          int             `json:"id" db:"id"`
	Status      PaymentStatus   `json:"status" db:"status"`
	Type        PaymentType     `json:"type" db:"type"`
	BorrowingID int             `json:"borrowingId" db:"borrowing_id"`
	SessionURL  string          `json:"sessionUrl" db:"session_url"`
	SessionID   string          `json:"sessionId" db:"session_id"`
	MoneyToPay  decimal.Decimal `json:"moneyToPay" db:"money_to_pay"`
	// joined from the parent borrowing for ownership checks
	Username string `json:"-" db:"username"`
}

func (p Payment) OwnerID() string { return p.Username }

// Session is what the checkout gateway hands back for one hosted flow.
type Session struct {
	SessionID  string `json:"sessionId"`
	SessionURL string `json:"sessionUrl"`
}

type Paging struct {
	Page          int `json:"page"`
	PageSize      int `json:"pageSize"`
	TotalElements int `json:"totalElements"`
}

type ListBooks struct {
	Paging `json:",inline"`
	Items  []Book `json:"items"`
}

type ListBorrowings struct {
	Paging `json:",inline"`
	Items  []Borrowing `json:"items"`
}

type ListPayments struct {
	Paging `json:",inline"`
	Items  []Payment `json:"items"`
}

type CreateBookRequest struct {
	Title     string          `json:"title" validate:"required"`
	Author    string          `json:"author" validate:"required"`
	Cover     Cover           `json:"cover" validate:"required,oneof=HARD SOFT"`
	Inventory int             `json:"inventory" validate:"gte=0"`
	DailyFee  decimal.Decimal `json:"dailyFee"`
}

type CreateBorrowingRequest struct {
	BookID             int    `json:"bookId" validate:"required"`
	ExpectedReturnDate Date   `json:"expectedReturnDate" validate:"required"`
	Username           string `json:"-" validate:"required"`
}

// CheckoutResponse pairs a borrowing with the hosted session the caller
// is redirected to, when one was issued.
type CheckoutResponse struct {
	Borrowing  Borrowing `json:"borrowing"`
	Payment    *Payment  `json:"payment,omitempty"`
	SessionURL string    `json:"sessionUrl,omitempty"`
}

// OverdueBorrowing is one line of the overdue report.
type OverdueBorrowing struct {
	Borrowing
	BookTitle string `db:"title"`
}

// BorrowingFilter narrows borrowing listings; Username is forced to the
// caller for non-admins.
type BorrowingFilter struct {
	IsActive *bool
	Username string
	Page     int
	Size     int
}

// Date unmarshals both bare dates and RFC3339 timestamps.
type Date struct {
	time.Time `json:",inline"`
}

func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		return nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Format(time.DateOnly) + `"`), nil
}

// DaysBetween counts whole calendar days from 'from' to 'till',
// ignoring the time-of-day parts.
func DaysBetween(from, till time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(till.Year(), till.Month(), till.Day(), 0, 0, 0, 0, time.UTC)
	return int(t.Sub(f) / (24 * time.Hour))
}

// RentalAmount is the up-front rental fee: dailyFee x days until the
// expected return, never negative.
func RentalAmount(dailyFee decimal.Decimal, from, till time.Time) decimal.Decimal {
	days := DaysBetween(from, till)
	if days < 0 {
		days = 0
	}
	return dailyFee.Mul(decimal.NewFromInt(int64(days)))
}

// FineAmount is the late-return charge: dailyFee x days late x FineMultiplier.
func FineAmount(dailyFee decimal.Decimal, daysLate int) decimal.Decimal {
	return dailyFee.Mul(decimal.NewFromInt(int64(daysLate) * FineMultiplier))
}
