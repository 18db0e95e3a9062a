package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/astrv/library-rental/internal/errs"
	"github.com/astrv/library-rental/internal/model"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

//go:generate go run github.com/golang/mock/mockgen -source=repository.go -destination=mocks/mock.go

// SessionFunc requests a hosted checkout session for a freshly inserted
// payment. It runs inside the borrow/return transaction so a gateway
// failure rolls the whole unit back.
type SessionFunc func(ctx context.Context, payment model.Payment) (model.Session, error)

type Repository interface {
	CreateBook(ctx context.Context, req model.CreateBookRequest) (model.Book, error)
	GetBook(ctx context.Context, id int) (model.Book, error)
	ListBooks(ctx context.Context, page, size int) (model.ListBooks, error)
	UpdateBook(ctx context.Context, id int, req model.CreateBookRequest) (model.Book, error)
	DeleteBook(ctx context.Context, id int) error

	CreateBorrowing(ctx context.Context, req model.CreateBorrowingRequest, money decimal.Decimal, session SessionFunc) (model.CheckoutResponse, error)
	GetBorrowing(ctx context.Context, id int) (model.Borrowing, error)
	ListBorrowings(ctx context.Context, f model.BorrowingFilter) (model.ListBorrowings, error)
	DeleteBorrowing(ctx context.Context, id int) error
	ReturnBorrowing(ctx context.Context, id int, assessFine func(book model.Book, daysLate int) decimal.Decimal, session SessionFunc) (model.CheckoutResponse, error)
	OverdueBorrowings(ctx context.Context, deadline time.Time) ([]model.OverdueBorrowing, error)

	HasOutstandingPayments(ctx context.Context, username string) (bool, error)
	GetPayment(ctx context.Context, id int) (model.Payment, error)
	ListPayments(ctx context.Context, username string, page, size int) (model.ListPayments, error)
	ConfirmPayment(ctx context.Context, id int) (model.Payment, error)
	CancelPayment(ctx context.Context, id int) (model.Payment, error)
	LatestExpiredPayment(ctx context.Context, borrowingID int) (model.Payment, error)
	AttachSession(ctx context.Context, paymentID int, s model.Session) (model.Payment, error)
	ListPendingWithSession(ctx context.Context) ([]model.Payment, error)
	ExpirePayment(ctx context.Context, id int) error
}

type repository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewRepository(db *sqlx.DB, log *zap.Logger) (*repository, error) {
	return &repository{
		db:  db,
		log: log.Named("repo"),
	}, nil
}

const (
	booksTableName      = `books`
	borrowingsTableName = `borrowings`
	paymentsTableName   = `payments`
)

var qb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// mapPgError translates constraint violations into domain sentinels.
// Only the inventory check means "no copies left"; any other check
// constraint surfaces as-is.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.ForeignKeyViolation:
			return errs.ErrNotFound
		case pgerrcode.CheckViolation:
			if strings.Contains(pgErr.ConstraintName, "inventory") {
				return errs.ErrExhaustedInventory
			}
		}
	}
	return err
}

func (r *repository) CreateBook(ctx context.Context, req model.CreateBookRequest) (model.Book, error) {
	q, args, err := qb.Insert(booksTableName).
		Columns("title", "author", "cover", "inventory", "daily_fee").
		Values(req.Title, req.Author, req.Cover, req.Inventory, req.DailyFee).
		Suffix("returning *").
		ToSql()
	if err != nil {
		return model.Book{}, err
	}
	var book model.Book
	if err := r.db.GetContext(ctx, &book, q, args...); err != nil {
		r.log.Error("CreateBook", zap.String("q", q), zap.Any("args", args))
		return model.Book{}, mapPgError(err)
	}
	return book, nil
}

func (r *repository) GetBook(ctx context.Context, id int) (model.Book, error) {
	q, args, err := qb.Select("id", "title", "author", "cover", "inventory", "daily_fee").
		From(booksTableName).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return model.Book{}, err
	}
	var book model.Book
	if err := r.db.GetContext(ctx, &book, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Book{}, errs.ErrNotFound
		}
		return model.Book{}, err
	}
	return book, nil
}

func (r *repository) ListBooks(ctx context.Context, page, size int) (model.ListBooks, error) {
	q := qb.Select("id", "title", "author", "cover", "inventory", "daily_fee").
		From(booksTableName).
		OrderBy("id")

	if page > 0 && size > 0 {
		q = q.Limit(uint64(size)).Offset(uint64((page - 1) * size))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return model.ListBooks{}, err
	}
	var books []model.Book
	if err := r.db.SelectContext(ctx, &books, query, args...); err != nil {
		return model.ListBooks{}, err
	}
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT count(*) FROM books`); err != nil {
		return model.ListBooks{}, err
	}
	return model.ListBooks{
		Paging: model.Paging{
			Page:          page,
			PageSize:      size,
			TotalElements: total,
		},
		Items: books,
	}, nil
}

func (r *repository) UpdateBook(ctx context.Context, id int, req model.CreateBookRequest) (model.Book, error) {
	q, args, err := qb.Update(booksTableName).
		Set("title", req.Title).
		Set("author", req.Author).
		Set("cover", req.Cover).
		Set("inventory", req.Inventory).
		Set("daily_fee", req.DailyFee).
		Where(sq.Eq{"id": id}).
		Suffix("returning *").
		ToSql()
	if err != nil {
		return model.Book{}, err
	}
	var book model.Book
	if err := r.db.GetContext(ctx, &book, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Book{}, errs.ErrNotFound
		}
		return model.Book{}, mapPgError(err)
	}
	return book, nil
}

func (r *repository) DeleteBook(ctx context.Context, id int) error {
	q, args, err := qb.Delete(booksTableName).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *repository) GetBorrowing(ctx context.Context, id int) (model.Borrowing, error) {
	q, args, err := qb.Select("id", "borrow_date", "expected_return_date", "actual_return_date", "book_id", "username").
		From(borrowingsTableName).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return model.Borrowing{}, err
	}
	var b model.Borrowing
	if err := r.db.GetContext(ctx, &b, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Borrowing{}, errs.ErrNotFound
		}
		return model.Borrowing{}, err
	}
	return b, nil
}

func applyBorrowingFilter(q sq.SelectBuilder, f model.BorrowingFilter) sq.SelectBuilder {
	if f.Username != "" {
		q = q.Where(sq.Eq{"username": f.Username})
	}
	if f.IsActive != nil {
		if *f.IsActive {
			q = q.Where("actual_return_date is null")
		} else {
			q = q.Where("actual_return_date is not null")
		}
	}
	return q
}

func (r *repository) ListBorrowings(ctx context.Context, f model.BorrowingFilter) (model.ListBorrowings, error) {
	q := applyBorrowingFilter(
		qb.Select("id", "borrow_date", "expected_return_date", "actual_return_date", "book_id", "username").
			From(borrowingsTableName).
			OrderBy("id"), f)

	if f.Page > 0 && f.Size > 0 {
		q = q.Limit(uint64(f.Size)).Offset(uint64((f.Page - 1) * f.Size))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return model.ListBorrowings{}, err
	}
	r.log.Debug("ListBorrowings", zap.String("query", query), zap.Any("args", args))

	var items []model.Borrowing
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return model.ListBorrowings{}, err
	}

	countQuery, countArgs, err := applyBorrowingFilter(qb.Select("count(*)").From(borrowingsTableName), f).ToSql()
	if err != nil {
		return model.ListBorrowings{}, err
	}
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return model.ListBorrowings{}, err
	}
	return model.ListBorrowings{
		Paging: model.Paging{
			Page:          f.Page,
			PageSize:      f.Size,
			TotalElements: total,
		},
		Items: items,
	}, nil
}

func (r *repository) DeleteBorrowing(ctx context.Context, id int) error {
	q, args, err := qb.Delete(borrowingsTableName).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *repository) OverdueBorrowings(ctx context.Context, deadline time.Time) ([]model.OverdueBorrowing, error) {
	q := `
	select b.id, b.borrow_date, b.expected_return_date, b.actual_return_date, b.book_id, b.username, bk.title
	from borrowings b
	join books bk on bk.id = b.book_id
	where b.actual_return_date is null and b.expected_return_date <= $1
	order by b.expected_return_date`

	var items []model.OverdueBorrowing
	if err := r.db.SelectContext(ctx, &items, q, deadline.Format(time.DateOnly)); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) HasOutstandingPayments(ctx context.Context, username string) (bool, error) {
	q := `
	select exists (
		select 1 from payments p
		join borrowings b on b.id = p.borrowing_id
		where b.username = $1 and p.status in ('PENDING', 'EXPIRED')
	)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, q, username).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

const paymentColumns = `p.id, p.status, p.type, p.borrowing_id, p.session_url, p.session_id, p.money_to_pay, b.username`

func (r *repository) GetPayment(ctx context.Context, id int) (model.Payment, error) {
	q := `
	select ` + paymentColumns + `
	from payments p
	join borrowings b on b.id = p.borrowing_id
	where p.id = $1`

	var p model.Payment
	if err := r.db.GetContext(ctx, &p, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Payment{}, errs.ErrNotFound
		}
		return model.Payment{}, err
	}
	return p, nil
}

func (r *repository) ListPayments(ctx context.Context, username string, page, size int) (model.ListPayments, error) {
	q := qb.Select("p.id", "p.status", "p.type", "p.borrowing_id", "p.session_url", "p.session_id", "p.money_to_pay", "b.username").
		From(paymentsTableName + " p").
		Join(borrowingsTableName + " b on b.id = p.borrowing_id").
		OrderBy("p.id")

	if username != "" {
		q = q.Where(sq.Eq{"b.username": username})
	}
	if page > 0 && size > 0 {
		q = q.Limit(uint64(size)).Offset(uint64((page - 1) * size))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return model.ListPayments{}, err
	}
	var items []model.Payment
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return model.ListPayments{}, err
	}

	cq := qb.Select("count(*)").
		From(paymentsTableName + " p").
		Join(borrowingsTableName + " b on b.id = p.borrowing_id")
	if username != "" {
		cq = cq.Where(sq.Eq{"b.username": username})
	}
	countQuery, countArgs, err := cq.ToSql()
	if err != nil {
		return model.ListPayments{}, err
	}
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return model.ListPayments{}, err
	}
	return model.ListPayments{
		Paging: model.Paging{
			Page:          page,
			PageSize:      size,
			TotalElements: total,
		},
		Items: items,
	}, nil
}

// ConfirmPayment sets PAID; re-confirming a paid payment is a no-op
// that returns the same row.
func (r *repository) ConfirmPayment(ctx context.Context, id int) (model.Payment, error) {
	q := `
	update payments p set status = 'PAID'
	from borrowings b
	where p.id = $1 and b.id = p.borrowing_id
	returning ` + paymentColumns

	var p model.Payment
	if err := r.db.GetContext(ctx, &p, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Payment{}, errs.ErrNotFound
		}
		return model.Payment{}, err
	}
	return p, nil
}

// CancelPayment moves PENDING to CANCELED; any other state is left
// untouched and echoed back.
func (r *repository) CancelPayment(ctx context.Context, id int) (model.Payment, error) {
	q := `
	update payments p set status = 'CANCELED'
	from borrowings b
	where p.id = $1 and b.id = p.borrowing_id and p.status = 'PENDING'
	returning ` + paymentColumns

	var p model.Payment
	err := r.db.GetContext(ctx, &p, q, id)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Payment{}, err
	}
	return r.GetPayment(ctx, id)
}

func (r *repository) LatestExpiredPayment(ctx context.Context, borrowingID int) (model.Payment, error) {
	q := `
	select ` + paymentColumns + `
	from payments p
	join borrowings b on b.id = p.borrowing_id
	where p.borrowing_id = $1 and p.status = 'EXPIRED'
	order by p.id desc
	limit 1`

	var p model.Payment
	if err := r.db.GetContext(ctx, &p, q, borrowingID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Payment{}, errs.ErrNotFound
		}
		return model.Payment{}, err
	}
	return p, nil
}

// AttachSession stores a fresh checkout session on the payment and
// reopens it for confirmation and reconciliation.
func (r *repository) AttachSession(ctx context.Context, paymentID int, s model.Session) (model.Payment, error) {
	q := `
	update payments p set status = 'PENDING', session_url = $2, session_id = $3
	from borrowings b
	where p.id = $1 and b.id = p.borrowing_id
	returning ` + paymentColumns

	var p model.Payment
	if err := r.db.GetContext(ctx, &p, q, paymentID, s.SessionURL, s.SessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Payment{}, errs.ErrNotFound
		}
		return model.Payment{}, err
	}
	return p, nil
}

func (r *repository) ListPendingWithSession(ctx context.Context) ([]model.Payment, error) {
	q := `
	select ` + paymentColumns + `
	from payments p
	join borrowings b on b.id = p.borrowing_id
	where p.status = 'PENDING' and p.session_id <> ''
	order by p.id`

	var items []model.Payment
	if err := r.db.SelectContext(ctx, &items, q); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) ExpirePayment(ctx context.Context, id int) error {
	q := `update payments set status = 'EXPIRED' where id = $1 and status = 'PENDING'`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}
