package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/astrv/library-rental/internal/errs"
	"github.com/astrv/library-rental/internal/model"
	"github.com/astrv/library-rental/internal/repository"
)

func newTestRepo(t *testing.T) (repository.Repository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo, err := repository.NewRepository(sqlx.NewDb(db, "sqlmock"), zap.NewNop())
	require.NoError(t, err)
	return repo, mock
}

var borrowingColumns = []string{"id", "borrow_date", "expected_return_date", "actual_return_date", "book_id", "username"}

var paymentColumns = []string{"id", "status", "type", "borrowing_id", "session_url", "session_id", "money_to_pay"}

func noSession(ctx context.Context, p model.Payment) (model.Session, error) {
	return model.Session{SessionID: "cs_1", SessionURL: "https://checkout.test/s/cs_1"}, nil
}

// Two borrows racing over the last copy: the conditional decrement lets
// exactly one through, the other sees zero rows and an existing book.
func TestRepository_CreateBorrowing_LastCopy(t *testing.T) {
	t.Parallel()
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	borrowDate := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	returnDate := time.Date(2026, 9, 4, 0, 0, 0, 0, time.UTC)
	req := model.CreateBorrowingRequest{
		BookID:             10,
		ExpectedReturnDate: model.Date{Time: returnDate},
		Username:           "alice",
	}
	money := decimal.NewFromInt(30)

	// winner: decrement hits the row
	mock.ExpectBegin()
	mock.ExpectExec("update books set inventory = inventory - 1").
		WithArgs(10).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("insert into borrowings").
		WithArgs("2026-09-04", 10, "alice").
		WillReturnRows(sqlmock.NewRows(borrowingColumns).
			AddRow(1, borrowDate, returnDate, nil, 10, "alice"))
	mock.ExpectQuery("insert into payments").
		WillReturnRows(sqlmock.NewRows(paymentColumns).
			AddRow(5, "PENDING", "PAYMENT", 1, "", "", "30.00"))
	mock.ExpectQuery("update payments set session_url").
		WillReturnRows(sqlmock.NewRows(paymentColumns).
			AddRow(5, "PENDING", "PAYMENT", 1, "https://checkout.test/s/cs_1", "cs_1", "30.00"))
	mock.ExpectCommit()

	// loser: zero rows, book still exists
	mock.ExpectBegin()
	mock.ExpectExec("update books set inventory = inventory - 1").
		WithArgs(10).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	resp, err := repo.CreateBorrowing(ctx, req, money, noSession)
	require.NoError(t, err)
	require.Equal(t, 1, resp.Borrowing.ID)
	require.Equal(t, "https://checkout.test/s/cs_1", resp.SessionURL)
	require.NotNil(t, resp.Payment)
	require.Equal(t, model.StatusPending, resp.Payment.Status)

	_, err = repo.CreateBorrowing(ctx, req, money, noSession)
	require.ErrorIs(t, err, errs.ErrExhaustedInventory)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_CreateBorrowing_UnknownBook(t *testing.T) {
	t.Parallel()
	repo, mock := newTestRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("update books set inventory = inventory - 1").
		WithArgs(999).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").
		WithArgs(999).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err := repo.CreateBorrowing(context.Background(), model.CreateBorrowingRequest{
		BookID:             999,
		ExpectedReturnDate: model.Date{Time: time.Date(2026, 9, 4, 0, 0, 0, 0, time.UTC)},
		Username:           "alice",
	}, decimal.NewFromInt(30), noSession)
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

// A failed session request rolls the whole borrow back.
func TestRepository_CreateBorrowing_GatewayFailure(t *testing.T) {
	t.Parallel()
	repo, mock := newTestRepo(t)

	borrowDate := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	returnDate := time.Date(2026, 9, 4, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("update books set inventory = inventory - 1").
		WithArgs(10).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("insert into borrowings").
		WillReturnRows(sqlmock.NewRows(borrowingColumns).
			AddRow(1, borrowDate, returnDate, nil, 10, "alice"))
	mock.ExpectQuery("insert into payments").
		WillReturnRows(sqlmock.NewRows(paymentColumns).
			AddRow(5, "PENDING", "PAYMENT", 1, "", "", "30.00"))
	mock.ExpectRollback()

	down := func(ctx context.Context, p model.Payment) (model.Session, error) {
		return model.Session{}, context.DeadlineExceeded
	}
	_, err := repo.CreateBorrowing(context.Background(), model.CreateBorrowingRequest{
		BookID:             10,
		ExpectedReturnDate: model.Date{Time: returnDate},
		Username:           "alice",
	}, decimal.NewFromInt(30), down)
	require.ErrorIs(t, err, errs.ErrGateway)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Only the inventory check means "no copies left"; the borrowings date
// check must not be mistaken for it.
func TestRepository_CreateBorrowing_CheckViolations(t *testing.T) {
	t.Parallel()

	t.Run("inventory check", func(t *testing.T) {
		t.Parallel()
		repo, mock := newTestRepo(t)

		mock.ExpectBegin()
		mock.ExpectExec("update books set inventory = inventory - 1").
			WithArgs(10).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.CheckViolation, ConstraintName: "books_inventory_check"})
		mock.ExpectRollback()

		_, err := repo.CreateBorrowing(context.Background(), model.CreateBorrowingRequest{
			BookID:             10,
			ExpectedReturnDate: model.Date{Time: time.Date(2026, 9, 4, 0, 0, 0, 0, time.UTC)},
			Username:           "alice",
		}, decimal.NewFromInt(30), noSession)
		require.ErrorIs(t, err, errs.ErrExhaustedInventory)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("date check is not an inventory problem", func(t *testing.T) {
		t.Parallel()
		repo, mock := newTestRepo(t)

		borrowDate := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

		mock.ExpectBegin()
		mock.ExpectExec("update books set inventory = inventory - 1").
			WithArgs(10).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("insert into borrowings").
			WillReturnError(&pgconn.PgError{Code: pgerrcode.CheckViolation, ConstraintName: "borrowings_return_after_borrow"})
		mock.ExpectRollback()

		_, err := repo.CreateBorrowing(context.Background(), model.CreateBorrowingRequest{
			BookID:             10,
			ExpectedReturnDate: model.Date{Time: borrowDate.AddDate(0, 0, -7)},
			Username:           "alice",
		}, decimal.NewFromInt(30), noSession)
		require.Error(t, err)
		require.NotErrorIs(t, err, errs.ErrExhaustedInventory)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

// TotalElements reports the table total, not the page length.
func TestRepository_ListBooks_Total(t *testing.T) {
	t.Parallel()
	repo, mock := newTestRepo(t)

	mock.ExpectQuery("SELECT id, title, author, cover, inventory, daily_fee FROM books ORDER BY id LIMIT 2 OFFSET 2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "author", "cover", "inventory", "daily_fee"}).
			AddRow(3, "Dune", "Herbert", "SOFT", 2, "10.00").
			AddRow(4, "Hyperion", "Simmons", "HARD", 1, "12.50"))
	mock.ExpectQuery(`SELECT count\(\*\) FROM books`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	list, err := repo.ListBooks(context.Background(), 2, 2)
	require.NoError(t, err)
	require.Len(t, list.Items, 2)
	require.Equal(t, 5, list.TotalElements)
	require.NoError(t, mock.ExpectationsWereMet())
}
