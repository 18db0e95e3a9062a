package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/astrv/library-rental/internal/errs"
	"github.com/astrv/library-rental/internal/gateway"
	"github.com/astrv/library-rental/internal/model"
	"github.com/astrv/library-rental/internal/repository"
	"github.com/astrv/library-rental/pkg/circuit_breaker"
)

//go:generate go run github.com/golang/mock/mockgen -source=service.go -destination=mocks/mock.go

// CheckoutGateway is the narrow slice of the payment processor this
// service consumes.
type CheckoutGateway interface {
	CreateSession(ctx context.Context, req gateway.CreateSessionRequest) (model.Session, error)
	GetSession(ctx context.Context, sessionID string) (gateway.SessionStatus, error)
}

// Notifier fires one best-effort chat message; it never reports errors
// back to the workflow.
type Notifier interface {
	Notify(text string)
}

type Config struct {
	// public base url the gateway redirects back to
	CallbackBaseURL string `envconfig:"CALLBACK_BASE_URL" default:"http://localhost:8080"`
	Currency        string `envconfig:"PAYMENT_CURRENCY" default:"usd"`
}

type Service struct {
	log    *zap.Logger
	repo   repository.Repository
	gw     CheckoutGateway
	cb     circuit_breaker.CircuitBreaker
	notify Notifier
	cfg    Config
}

func NewService(repo repository.Repository, gw CheckoutGateway, notify Notifier, cfg Config, log *zap.Logger) *Service {
	return &Service{
		log:    log,
		repo:   repo,
		gw:     gw,
		cb:     circuit_breaker.New(20, time.Second*30, 0.5, 3),
		notify: notify,
		cfg:    cfg,
	}
}

func (s *Service) CreateBook(ctx context.Context, req model.CreateBookRequest) (model.Book, error) {
	return s.repo.CreateBook(ctx, req)
}

func (s *Service) GetBook(ctx context.Context, id int) (model.Book, error) {
	return s.repo.GetBook(ctx, id)
}

func (s *Service) ListBooks(ctx context.Context, page, size int) (model.ListBooks, error) {
	return s.repo.ListBooks(ctx, page, size)
}

func (s *Service) UpdateBook(ctx context.Context, id int, req model.CreateBookRequest) (model.Book, error) {
	return s.repo.UpdateBook(ctx, id, req)
}

func (s *Service) DeleteBook(ctx context.Context, id int) error {
	return s.repo.DeleteBook(ctx, id)
}

// CreateBorrowing runs the borrow workflow: reject borrowers with an
// unpaid obligation, take a copy, open the rental payment and hand out
// the checkout session, atomically.
func (s *Service) CreateBorrowing(ctx context.Context, req model.CreateBorrowingRequest) (model.CheckoutResponse, error) {
	if model.DaysBetween(time.Now(), req.ExpectedReturnDate.Time) < 0 {
		return model.CheckoutResponse{}, errs.ErrInvalidReturnDate
	}

	outstanding, err := s.repo.HasOutstandingPayments(ctx, req.Username)
	if err != nil {
		return model.CheckoutResponse{}, err
	}
	if outstanding {
		return model.CheckoutResponse{}, errs.ErrConflict
	}

	book, err := s.repo.GetBook(ctx, req.BookID)
	if err != nil {
		return model.CheckoutResponse{}, err
	}
	money := model.RentalAmount(book.DailyFee, time.Now(), req.ExpectedReturnDate.Time)

	resp, err := s.repo.CreateBorrowing(ctx, req, money, s.sessionFunc("Rental of "+book.Title))
	if err != nil {
		return model.CheckoutResponse{}, err
	}

	s.notify.Notify(fmt.Sprintf("User %s borrowed book %s until %s, to pay: %s",
		req.Username, book.Title, resp.Borrowing.ExpectedReturnDate.Format(time.DateOnly), money))
	return resp, nil
}

func (s *Service) GetBorrowing(ctx context.Context, id int) (model.Borrowing, error) {
	return s.repo.GetBorrowing(ctx, id)
}

func (s *Service) ListBorrowings(ctx context.Context, f model.BorrowingFilter) (model.ListBorrowings, error) {
	return s.repo.ListBorrowings(ctx, f)
}

func (s *Service) DeleteBorrowing(ctx context.Context, id int) error {
	return s.repo.DeleteBorrowing(ctx, id)
}

// ReturnBorrowing closes the loan and, when it comes back late, opens a
// fine with its own checkout session. Returning an already returned
// borrowing surfaces errs.ErrAlreadyReturned with the untouched row.
func (s *Service) ReturnBorrowing(ctx context.Context, id int) (model.CheckoutResponse, error) {
	resp, err := s.repo.ReturnBorrowing(ctx, id,
		func(book model.Book, daysLate int) decimal.Decimal {
			return model.FineAmount(book.DailyFee, daysLate)
		},
		s.sessionFunc("Fine for late return"))
	if err != nil {
		return resp, err
	}

	text := fmt.Sprintf("User %s returned borrowing %d", resp.Borrowing.Username, resp.Borrowing.ID)
	if resp.Payment != nil {
		text += fmt.Sprintf(", fine to pay: %s", resp.Payment.MoneyToPay)
	}
	s.notify.Notify(text)
	return resp, nil
}

// RenewSession re-requests a checkout session for the most recent
// expired payment of the borrowing and reopens it.
func (s *Service) RenewSession(ctx context.Context, borrowingID int) (model.Payment, error) {
	p, err := s.repo.LatestExpiredPayment(ctx, borrowingID)
	if err != nil {
		return model.Payment{}, err
	}

	desc := "Rental payment"
	if p.Type == model.TypeFine {
		desc = "Fine for late return"
	}
	sess, err := s.sessionFunc(desc)(ctx, p)
	if err != nil {
		return model.Payment{}, errors.Wrap(errs.ErrGateway, err.Error())
	}
	return s.repo.AttachSession(ctx, p.ID, sess)
}

// ConfirmPayment marks the payment paid; repeated confirmations are
// no-ops by construction.
func (s *Service) ConfirmPayment(ctx context.Context, id int) (model.Payment, error) {
	p, err := s.repo.ConfirmPayment(ctx, id)
	if err != nil {
		return model.Payment{}, err
	}
	s.notify.Notify(fmt.Sprintf("Payment %d (%s) for borrowing %d is paid: %s", p.ID, p.Type, p.BorrowingID, p.MoneyToPay))
	return p, nil
}

func (s *Service) CancelPayment(ctx context.Context, id int) (model.Payment, error) {
	p, err := s.repo.CancelPayment(ctx, id)
	if err != nil {
		return model.Payment{}, err
	}
	if p.Status == model.StatusCanceled {
		s.notify.Notify(fmt.Sprintf("Payment %d for borrowing %d is canceled", p.ID, p.BorrowingID))
	}
	return p, nil
}

func (s *Service) GetPayment(ctx context.Context, id int) (model.Payment, error) {
	return s.repo.GetPayment(ctx, id)
}

func (s *Service) ListPayments(ctx context.Context, username string, page, size int) (model.ListPayments, error) {
	return s.repo.ListPayments(ctx, username, page, size)
}

// ReconcileExpiredSessions syncs PENDING payments with the gateway's
// authoritative session state. One gateway failure is logged and does
// not stop the sweep.
func (s *Service) ReconcileExpiredSessions(ctx context.Context) error {
	pending, err := s.repo.ListPendingWithSession(ctx)
	if err != nil {
		return err
	}
	for _, p := range pending {
		status, err := s.gw.GetSession(ctx, p.SessionID)
		if err != nil {
			s.log.Warn("reconcile: get session",
				zap.Int("payment_id", p.ID), zap.String("session_id", p.SessionID), zap.Error(err))
			continue
		}
		if status != gateway.SessionExpired {
			continue
		}
		if err := s.repo.ExpirePayment(ctx, p.ID); err != nil {
			s.log.Error("reconcile: expire payment", zap.Int("payment_id", p.ID), zap.Error(err))
		}
	}
	return nil
}

// ComposeOverdueReport sends one chat summary of borrowings due within
// the next day and still out.
func (s *Service) ComposeOverdueReport(ctx context.Context) error {
	tomorrow := time.Now().AddDate(0, 0, 1)
	overdue, err := s.repo.OverdueBorrowings(ctx, tomorrow)
	if err != nil {
		return err
	}
	if len(overdue) == 0 {
		s.notify.Notify("No borrowings overdue today!")
		return nil
	}
	text := "There are such overdue borrowings\n"
	for _, b := range overdue {
		text += fmt.Sprintf("User %s borrowed book %s at %s and will have to return by %s\n",
			b.Username, b.BookTitle, b.BorrowDate.Format(time.DateOnly), b.ExpectedReturnDate.Format(time.DateOnly))
	}
	s.notify.Notify(text)
	return nil
}

func (s *Service) sessionFunc(description string) repository.SessionFunc {
	return func(ctx context.Context, p model.Payment) (model.Session, error) {
		var sess model.Session
		err := s.cb.Call(func() error {
			var err error
			sess, err = s.gw.CreateSession(ctx, gateway.CreateSessionRequest{
				Amount:      p.MoneyToPay,
				Currency:    s.cfg.Currency,
				Description: description,
				Metadata: map[string]string{
					"payment_id":   strconv.Itoa(p.ID),
					"payment_type": string(p.Type),
				},
				SuccessURL: s.callbackURL(p, true),
				CancelURL:  s.callbackURL(p, false),
			})
			return err
		})
		return sess, err
	}
}

// callbackURL picks the redirect route: payments land on
// check_payment/cancel_payment, fines on check_fine/cancel_fine.
func (s *Service) callbackURL(p model.Payment, success bool) string {
	route := "cancel_payment"
	switch {
	case success && p.Type == model.TypeFine:
		route = "check_fine"
	case success:
		route = "check_payment"
	case p.Type == model.TypeFine:
		route = "cancel_fine"
	}
	return fmt.Sprintf("%s/api/v1/%s/%d", s.cfg.CallbackBaseURL, route, p.ID)
}
