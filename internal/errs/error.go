package errs

import (
	"errors"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidReturnDate  = errors.New("expected return date is before today")
	ErrExhaustedInventory = errors.New("no copies of the book left in the library")
	ErrConflict           = errors.New("outstanding unpaid obligation")
	ErrAlreadyReturned    = errors.New("borrowing is already returned")
	ErrGateway            = errors.New("checkout session gateway failed")
	ErrForbidden          = errors.New("access denied")
)

type ValidationErrorResponse struct {
	Message string `json:"message"`
	Errors  struct {
		AdditionalProperties string `json:"additionalProperties"`
	} `json:"errors"`
}
