package handler

import (
	"context"

	"github.com/astrv/library-rental/internal/model"
	"github.com/astrv/library-rental/internal/service"
)

//go:generate go run github.com/golang/mock/mockgen -source=service.go -destination=mocks/mock.go

type LibraryService interface {
	CreateBook(ctx context.Context, req model.CreateBookRequest) (model.Book, error)
	GetBook(ctx context.Context, id int) (model.Book, error)
	ListBooks(ctx context.Context, page, size int) (model.ListBooks, error)
	UpdateBook(ctx context.Context, id int, req model.CreateBookRequest) (model.Book, error)
	DeleteBook(ctx context.Context, id int) error

	CreateBorrowing(ctx context.Context, req model.CreateBorrowingRequest) (model.CheckoutResponse, error)
	GetBorrowing(ctx context.Context, id int) (model.Borrowing, error)
	ListBorrowings(ctx context.Context, f model.BorrowingFilter) (model.ListBorrowings, error)
	DeleteBorrowing(ctx context.Context, id int) error
	ReturnBorrowing(ctx context.Context, id int) (model.CheckoutResponse, error)
	RenewSession(ctx context.Context, borrowingID int) (model.Payment, error)

	GetPayment(ctx context.Context, id int) (model.Payment, error)
	ListPayments(ctx context.Context, username string, page, size int) (model.ListPayments, error)
	ConfirmPayment(ctx context.Context, id int) (model.Payment, error)
	CancelPayment(ctx context.Context, id int) (model.Payment, error)
}

var _ LibraryService = (*service.Service)(nil)
