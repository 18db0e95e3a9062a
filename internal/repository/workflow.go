package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/astrv/library-rental/internal/errs"
	"github.com/astrv/library-rental/internal/model"
)

// CreateBorrowing is the borrow unit of work: take one copy off the
// shelf, open the borrowing, open a PENDING payment and obtain a
// checkout session, all-or-nothing. The inventory decrement is a
// conditional update, so two borrows racing over the last copy commit
// exactly once.
func (r *repository) CreateBorrowing(ctx context.Context, req model.CreateBorrowingRequest, money decimal.Decimal, session SessionFunc) (model.CheckoutResponse, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.CheckoutResponse{}, err
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`update books set inventory = inventory - 1 where id = $1 and inventory > 0`, req.BookID)
	if err != nil {
		return model.CheckoutResponse{}, mapPgError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`select exists (select 1 from books where id = $1)`, req.BookID).Scan(&exists); err != nil {
			return model.CheckoutResponse{}, err
		}
		if !exists {
			return model.CheckoutResponse{}, errs.ErrNotFound
		}
		return model.CheckoutResponse{}, errs.ErrExhaustedInventory
	}

	var b model.Borrowing
	if err := tx.GetContext(ctx, &b, `
	insert into borrowings (borrow_date, expected_return_date, book_id, username)
	values (current_date, $1, $2, $3)
	returning id, borrow_date, expected_return_date, actual_return_date, book_id, username`,
		req.ExpectedReturnDate.Format(time.DateOnly), req.BookID, req.Username); err != nil {
		r.log.Error("CreateBorrowing insert", zap.Error(err))
		return model.CheckoutResponse{}, mapPgError(err)
	}

	p, err := insertPaymentWithSession(ctx, tx, b, model.TypePayment, money, session)
	if err != nil {
		return model.CheckoutResponse{}, err
	}

	if err := tx.Commit(); err != nil {
		return model.CheckoutResponse{}, err
	}
	return model.CheckoutResponse{Borrowing: b, Payment: &p, SessionURL: p.SessionURL}, nil
}

// ReturnBorrowing closes the loan: stamps the return date, puts the
// copy back and, when late, opens a FINE payment with its own checkout
// session. The row lock keeps two concurrent returns from both
// assessing a fine.
func (r *repository) ReturnBorrowing(ctx context.Context, id int, assessFine func(book model.Book, daysLate int) decimal.Decimal, session SessionFunc) (model.CheckoutResponse, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.CheckoutResponse{}, err
	}
	defer tx.Rollback() //nolint:errcheck

	var b model.Borrowing
	if err := tx.GetContext(ctx, &b, `
	select id, borrow_date, expected_return_date, actual_return_date, book_id, username
	from borrowings where id = $1 for update`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.CheckoutResponse{}, errs.ErrNotFound
		}
		return model.CheckoutResponse{}, err
	}
	if b.ActualReturnDate != nil {
		return model.CheckoutResponse{Borrowing: b}, errs.ErrAlreadyReturned
	}

	if err := tx.GetContext(ctx, &b, `
	update borrowings set actual_return_date = current_date where id = $1
	returning id, borrow_date, expected_return_date, actual_return_date, book_id, username`, id); err != nil {
		return model.CheckoutResponse{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`update books set inventory = inventory + 1 where id = $1`, b.BookID); err != nil {
		return model.CheckoutResponse{}, err
	}

	resp := model.CheckoutResponse{Borrowing: b}
	if daysLate := model.DaysBetween(b.ExpectedReturnDate, *b.ActualReturnDate); daysLate > 0 {
		var book model.Book
		if err := tx.GetContext(ctx, &book,
			`select id, title, author, cover, inventory, daily_fee from books where id = $1`, b.BookID); err != nil {
			return model.CheckoutResponse{}, err
		}
		fine, err := insertPaymentWithSession(ctx, tx, b, model.TypeFine, assessFine(book, daysLate), session)
		if err != nil {
			return model.CheckoutResponse{}, err
		}
		resp.Payment = &fine
		resp.SessionURL = fine.SessionURL
	}

	if err := tx.Commit(); err != nil {
		return model.CheckoutResponse{}, err
	}
	return resp, nil
}

// insertPaymentWithSession inserts a PENDING payment, requests a
// checkout session for it and stores the session handle, still inside
// the caller's transaction.
func insertPaymentWithSession(ctx context.Context, tx *sqlx.Tx, b model.Borrowing, typ model.PaymentType, money decimal.Decimal, session SessionFunc) (model.Payment, error) {
	var p model.Payment
	if err := tx.GetContext(ctx, &p, `
	insert into payments (status, type, borrowing_id, money_to_pay)
	values ('PENDING', $1, $2, $3)
	returning id, status, type, borrowing_id, session_url, session_id, money_to_pay`,
		typ, b.ID, money); err != nil {
		return model.Payment{}, mapPgError(err)
	}
	p.Username = b.Username

	s, err := session(ctx, p)
	if err != nil {
		return model.Payment{}, errors.Wrap(errs.ErrGateway, err.Error())
	}

	if err := tx.GetContext(ctx, &p, `
	update payments set session_url = $2, session_id = $3 where id = $1
	returning id, status, type, borrowing_id, session_url, session_id, money_to_pay`,
		p.ID, s.SessionURL, s.SessionID); err != nil {
		return model.Payment{}, err
	}
	p.Username = b.Username
	return p, nil
}
