package handler_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/astrv/library-rental/internal/errs"
	"github.com/astrv/library-rental/internal/handler"
	"github.com/astrv/library-rental/internal/model"
	"github.com/astrv/library-rental/pkg/auth"
	"github.com/astrv/library-rental/pkg/validate"

	service_mocks "github.com/astrv/library-rental/internal/handler/mocks"
)

func newTestEcho(svc *service_mocks.MockLibraryService) (*echo.Echo, *handler.Handler) {
	h := handler.New(svc, handler.Config{WebhookSecret: "whsec_test"}, zap.NewNop())
	e := echo.New()
	e.Validator = validate.NewCustomValidator()
	return e, h
}

func TestHandler_CreateBorrowing(t *testing.T) {
	t.Parallel()

	borrowDate := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	returnDate := time.Date(2026, 9, 4, 0, 0, 0, 0, time.UTC)

	type input struct {
		username string
		body     string
	}
	type response struct {
		expectedCode int
		expectedBody string
	}
	type mockBehavior func(r *service_mocks.MockLibraryService, inp input)

	var tests = []struct {
		name         string
		mockBehavior mockBehavior
		input        input
		response     response
	}{
		{
			name: "ok",
			mockBehavior: func(r *service_mocks.MockLibraryService, inp input) {
				req := model.CreateBorrowingRequest{
					BookID:             10,
					ExpectedReturnDate: model.Date{Time: returnDate},
					Username:           inp.username,
				}
				r.EXPECT().
					CreateBorrowing(gomock.Any(), req).
					Return(model.CheckoutResponse{
						Borrowing: model.Borrowing{
							ID:                 1,
							BorrowDate:         borrowDate,
							ExpectedReturnDate: returnDate,
							BookID:             10,
							Username:           inp.username,
						},
						Payment: &model.Payment{
							ID:          5,
							Status:      model.StatusPending,
							Type:        model.TypePayment,
							BorrowingID: 1,
							SessionURL:  "https://checkout.test/s/cs_1",
							SessionID:   "cs_1",
							MoneyToPay:  decimal.NewFromInt(30),
						},
						SessionURL: "https://checkout.test/s/cs_1",
					}, nil)
			},
			input: input{
				username: "alice",
				body:     `{"bookId":10,"expectedReturnDate":"2026-09-04"}`,
			},
			response: response{
				expectedCode: http.StatusCreated,
				expectedBody: `{"borrowing":{"id":1,"borrowDate":"2026-09-01T00:00:00Z","expectedReturnDate":"2026-09-04T00:00:00Z","actualReturnDate":null,"bookId":10,"username":"alice"},"payment":{"id":5,"status":"PENDING","type":"PAYMENT","borrowingId":1,"sessionUrl":"https://checkout.test/s/cs_1","sessionId":"cs_1","moneyToPay":"30"},"sessionUrl":"https://checkout.test/s/cs_1"}`,
			},
		},
		{
			name: "err. outstanding payment",
			mockBehavior: func(r *service_mocks.MockLibraryService, inp input) {
				r.EXPECT().
					CreateBorrowing(gomock.Any(), gomock.Any()).
					Return(model.CheckoutResponse{}, errs.ErrConflict)
			},
			input: input{
				username: "alice",
				body:     `{"bookId":10,"expectedReturnDate":"2026-09-04"}`,
			},
			response: response{
				expectedCode: http.StatusConflict,
				expectedBody: `{"message":"outstanding unpaid obligation"}`,
			},
		},
		{
			name: "err. inventory exhausted",
			mockBehavior: func(r *service_mocks.MockLibraryService, inp input) {
				r.EXPECT().
					CreateBorrowing(gomock.Any(), gomock.Any()).
					Return(model.CheckoutResponse{}, errs.ErrExhaustedInventory)
			},
			input: input{
				username: "alice",
				body:     `{"bookId":10,"expectedReturnDate":"2026-09-04"}`,
			},
			response: response{
				expectedCode: http.StatusConflict,
				expectedBody: `{"message":"no copies of the book left in the library"}`,
			},
		},
		{
			name: "err. book not found",
			mockBehavior: func(r *service_mocks.MockLibraryService, inp input) {
				r.EXPECT().
					CreateBorrowing(gomock.Any(), gomock.Any()).
					Return(model.CheckoutResponse{}, errs.ErrNotFound)
			},
			input: input{
				username: "alice",
				body:     `{"bookId":999,"expectedReturnDate":"2026-09-04"}`,
			},
			response: response{
				expectedCode: http.StatusNotFound,
				expectedBody: `{"message":"not found"}`,
			},
		},
		{
			name: "err. return date in the past",
			mockBehavior: func(r *service_mocks.MockLibraryService, inp input) {
				r.EXPECT().
					CreateBorrowing(gomock.Any(), gomock.Any()).
					Return(model.CheckoutResponse{}, errs.ErrInvalidReturnDate)
			},
			input: input{
				username: "alice",
				body:     `{"bookId":10,"expectedReturnDate":"2020-01-01"}`,
			},
			response: response{
				expectedCode: http.StatusBadRequest,
				expectedBody: `{"message":"expected return date is before today"}`,
			},
		},
		{
			name: "err. gateway down",
			mockBehavior: func(r *service_mocks.MockLibraryService, inp input) {
				r.EXPECT().
					CreateBorrowing(gomock.Any(), gomock.Any()).
					Return(model.CheckoutResponse{}, errs.ErrGateway)
			},
			input: input{
				username: "alice",
				body:     `{"bookId":10,"expectedReturnDate":"2026-09-04"}`,
			},
			response: response{
				expectedCode: http.StatusBadGateway,
				expectedBody: `{"message":"checkout session gateway failed"}`,
			},
		},
		{
			name:         "err. no identity",
			mockBehavior: func(r *service_mocks.MockLibraryService, inp input) {},
			input: input{
				username: "",
				body:     `{"bookId":10,"expectedReturnDate":"2026-09-04"}`,
			},
			response: response{
				expectedCode: http.StatusUnauthorized,
				expectedBody: `{"message":"user-name is empty"}`,
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := gomock.NewController(t)
			defer c.Finish()
			svc := service_mocks.NewMockLibraryService(c)
			e, h := newTestEcho(svc)
			e.POST("/borrowings", h.CreateBorrowing, auth.Middleware)

			r := httptest.NewRequest(http.MethodPost, "/borrowings", strings.NewReader(tt.input.body))
			r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			if tt.input.username != "" {
				r.Header.Set(auth.XUserNameHeader, tt.input.username)
			}
			w := httptest.NewRecorder()

			tt.mockBehavior(svc, tt.input)
			e.ServeHTTP(w, r)

			require.Equal(t, tt.response.expectedCode, w.Code)
			require.Equal(t, tt.response.expectedBody, strings.Trim(w.Body.String(), "\n"))
		})
	}
}

func TestHandler_ReturnBorrowing(t *testing.T) {
	t.Parallel()

	borrowDate := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	returnDate := time.Date(2026, 9, 4, 0, 0, 0, 0, time.UTC)

	type input struct {
		username string
		role     string
		id       int
	}
	type response struct {
		expectedCode int
		expectedBody string
	}
	type mockBehavior func(r *service_mocks.MockLibraryService, inp input)

	var tests = []struct {
		name         string
		mockBehavior mockBehavior
		input        input
		response     response
	}{
		{
			name: "ok. late return with fine",
			mockBehavior: func(r *service_mocks.MockLibraryService, inp input) {
				actual := time.Date(2026, 9, 8, 0, 0, 0, 0, time.UTC)
				r.EXPECT().
					GetBorrowing(gomock.Any(), inp.id).
					Return(model.Borrowing{
						ID: inp.id, BorrowDate: borrowDate, ExpectedReturnDate: returnDate,
						BookID: 10, Username: inp.username,
					}, nil)
				r.EXPECT().
					ReturnBorrowing(gomock.Any(), inp.id).
					Return(model.CheckoutResponse{
						Borrowing: model.Borrowing{
							ID: inp.id, BorrowDate: borrowDate, ExpectedReturnDate: returnDate,
							ActualReturnDate: &actual, BookID: 10, Username: inp.username,
						},
						Payment: &model.Payment{
							ID:          9,
							Status:      model.StatusPending,
							Type:        model.TypeFine,
							BorrowingID: inp.id,
							SessionURL:  "https://checkout.test/s/cs_9",
							SessionID:   "cs_9",
							MoneyToPay:  decimal.NewFromInt(60),
						},
						SessionURL: "https://checkout.test/s/cs_9",
					}, nil)
			},
			input: input{username: "alice", id: 7},
			response: response{
				expectedCode: http.StatusOK,
				expectedBody: `{"borrowing":{"id":7,"borrowDate":"2026-09-01T00:00:00Z","expectedReturnDate":"2026-09-04T00:00:00Z","actualReturnDate":"2026-09-08T00:00:00Z","bookId":10,"username":"alice"},"payment":{"id":9,"status":"PENDING","type":"FINE","borrowingId":7,"sessionUrl":"https://checkout.test/s/cs_9","sessionId":"cs_9","moneyToPay":"60"},"sessionUrl":"https://checkout.test/s/cs_9"}`,
			},
		},
		{
			name: "ok. already returned is a no-op",
			mockBehavior: func(r *service_mocks.MockLibraryService, inp input) {
				actual := time.Date(2026, 9, 3, 0, 0, 0, 0, time.UTC)
				returned := model.Borrowing{
					ID: inp.id, BorrowDate: borrowDate, ExpectedReturnDate: returnDate,
					ActualReturnDate: &actual, BookID: 10, Username: inp.username,
				}
				r.EXPECT().GetBorrowing(gomock.Any(), inp.id).Return(returned, nil)
				r.EXPECT().
					ReturnBorrowing(gomock.Any(), inp.id).
					Return(model.CheckoutResponse{Borrowing: returned}, errs.ErrAlreadyReturned)
			},
			input: input{username: "alice", id: 7},
			response: response{
				expectedCode: http.StatusOK,
				expectedBody: `{"borrowing":{"id":7,"borrowDate":"2026-09-01T00:00:00Z","expectedReturnDate":"2026-09-04T00:00:00Z","actualReturnDate":"2026-09-03T00:00:00Z","bookId":10,"username":"alice"}}`,
			},
		},
		{
			name: "err. not the owner",
			mockBehavior: func(r *service_mocks.MockLibraryService, inp input) {
				r.EXPECT().
					GetBorrowing(gomock.Any(), inp.id).
					Return(model.Borrowing{
						ID: inp.id, BorrowDate: borrowDate, ExpectedReturnDate: returnDate,
						BookID: 10, Username: "bob",
					}, nil)
			},
			input: input{username: "alice", id: 7},
			response: response{
				expectedCode: http.StatusForbidden,
				expectedBody: `{"message":"access denied"}`,
			},
		},
		{
			name: "ok. admin returns for another user",
			mockBehavior: func(r *service_mocks.MockLibraryService, inp input) {
				returned := model.Borrowing{
					ID: inp.id, BorrowDate: borrowDate, ExpectedReturnDate: returnDate,
					BookID: 10, Username: "bob",
				}
				r.EXPECT().GetBorrowing(gomock.Any(), inp.id).Return(returned, nil)
				actual := time.Date(2026, 9, 3, 0, 0, 0, 0, time.UTC)
				returned.ActualReturnDate = &actual
				r.EXPECT().
					ReturnBorrowing(gomock.Any(), inp.id).
					Return(model.CheckoutResponse{Borrowing: returned}, nil)
			},
			input: input{username: "carol", role: auth.RoleAdmin, id: 7},
			response: response{
				expectedCode: http.StatusOK,
				expectedBody: `{"borrowing":{"id":7,"borrowDate":"2026-09-01T00:00:00Z","expectedReturnDate":"2026-09-04T00:00:00Z","actualReturnDate":"2026-09-03T00:00:00Z","bookId":10,"username":"bob"}}`,
			},
		},
		{
			name: "err. not found",
			mockBehavior: func(r *service_mocks.MockLibraryService, inp input) {
				r.EXPECT().
					GetBorrowing(gomock.Any(), inp.id).
					Return(model.Borrowing{}, errs.ErrNotFound)
			},
			input: input{username: "alice", id: 404},
			response: response{
				expectedCode: http.StatusNotFound,
				expectedBody: `{"message":"not found"}`,
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := gomock.NewController(t)
			defer c.Finish()
			svc := service_mocks.NewMockLibraryService(c)
			e, h := newTestEcho(svc)
			e.GET("/borrowings/:id/return", h.ReturnBorrowing, auth.Middleware)

			r := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/borrowings/%d/return", tt.input.id), http.NoBody)
			r.Header.Set(auth.XUserNameHeader, tt.input.username)
			if tt.input.role != "" {
				r.Header.Set(auth.XUserRoleHeader, tt.input.role)
			}
			w := httptest.NewRecorder()

			tt.mockBehavior(svc, tt.input)
			e.ServeHTTP(w, r)

			require.Equal(t, tt.response.expectedCode, w.Code)
			require.Equal(t, tt.response.expectedBody, strings.Trim(w.Body.String(), "\n"))
		})
	}
}

func TestHandler_CreateBook(t *testing.T) {
	t.Parallel()

	type input struct {
		username string
		role     string
		body     string
	}
	type response struct {
		expectedCode int
		expectedBody string
	}
	type mockBehavior func(r *service_mocks.MockLibraryService, inp input)

	var tests = []struct {
		name         string
		mockBehavior mockBehavior
		input        input
		response     response
	}{
		{
			name: "ok",
			mockBehavior: func(r *service_mocks.MockLibraryService, inp input) {
				r.EXPECT().
					CreateBook(gomock.Any(), model.CreateBookRequest{
						Title:     "The Go Programming Language",
						Author:    "Donovan, Kernighan",
						Cover:     model.CoverHard,
						Inventory: 3,
						DailyFee:  decimal.NewFromInt(10),
					}).
					Return(model.Book{
						ID: 1, Title: "The Go Programming Language", Author: "Donovan, Kernighan",
						Cover: model.CoverHard, Inventory: 3, DailyFee: decimal.NewFromInt(10),
					}, nil)
			},
			input: input{
				username: "carol",
				role:     auth.RoleAdmin,
				body:     `{"title":"The Go Programming Language","author":"Donovan, Kernighan","cover":"HARD","inventory":3,"dailyFee":10}`,
			},
			response: response{
				expectedCode: http.StatusCreated,
				expectedBody: `{"id":1,"title":"The Go Programming Language","author":"Donovan, Kernighan","cover":"HARD","inventory":3,"dailyFee":"10"}`,
			},
		},
		{
			name:         "err. not an admin",
			mockBehavior: func(r *service_mocks.MockLibraryService, inp input) {},
			input: input{
				username: "alice",
				body:     `{"title":"The Go Programming Language","author":"Donovan, Kernighan","cover":"HARD","inventory":3,"dailyFee":10}`,
			},
			response: response{
				expectedCode: http.StatusForbidden,
				expectedBody: `{"message":"access denied"}`,
			},
		},
		{
			name:         "err. invalid cover",
			mockBehavior: func(r *service_mocks.MockLibraryService, inp input) {},
			input: input{
				username: "carol",
				role:     auth.RoleAdmin,
				body:     `{"title":"x","author":"y","cover":"LEATHER","inventory":3,"dailyFee":10}`,
			},
			response: response{
				expectedCode: http.StatusBadRequest,
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := gomock.NewController(t)
			defer c.Finish()
			svc := service_mocks.NewMockLibraryService(c)
			e, h := newTestEcho(svc)
			e.POST("/books", h.CreateBook, auth.Middleware)

			r := httptest.NewRequest(http.MethodPost, "/books", strings.NewReader(tt.input.body))
			r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			r.Header.Set(auth.XUserNameHeader, tt.input.username)
			if tt.input.role != "" {
				r.Header.Set(auth.XUserRoleHeader, tt.input.role)
			}
			w := httptest.NewRecorder()

			tt.mockBehavior(svc, tt.input)
			e.ServeHTTP(w, r)

			require.Equal(t, tt.response.expectedCode, w.Code)
			if tt.response.expectedBody != "" {
				require.Equal(t, tt.response.expectedBody, strings.Trim(w.Body.String(), "\n"))
			}
		})
	}
}

func TestHandler_ListBorrowings(t *testing.T) {
	t.Parallel()

	type input struct {
		username string
		role     string
		query    string
	}
	type mockBehavior func(r *service_mocks.MockLibraryService, inp input)

	var tests = []struct {
		name         string
		mockBehavior mockBehavior
		input        input
		expectedCode int
	}{
		{
			name: "ok. user sees only own borrowings",
			mockBehavior: func(r *service_mocks.MockLibraryService, inp input) {
				r.EXPECT().
					ListBorrowings(gomock.Any(), model.BorrowingFilter{Username: "alice"}).
					Return(model.ListBorrowings{Items: []model.Borrowing{}}, nil)
			},
			input:        input{username: "alice"},
			expectedCode: http.StatusOK,
		},
		{
			name: "ok. admin filters by any user",
			mockBehavior: func(r *service_mocks.MockLibraryService, inp input) {
				isActive := true
				r.EXPECT().
					ListBorrowings(gomock.Any(), model.BorrowingFilter{Username: "bob", IsActive: &isActive, Page: 1, Size: 10}).
					Return(model.ListBorrowings{Items: []model.Borrowing{}}, nil)
			},
			input:        input{username: "carol", role: auth.RoleAdmin, query: "?username=bob&is_active=true&page=1&size=10"},
			expectedCode: http.StatusOK,
		},
		{
			name:         "err. bad is_active",
			mockBehavior: func(r *service_mocks.MockLibraryService, inp input) {},
			input:        input{username: "alice", query: "?is_active=maybe"},
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "err. negative page",
			mockBehavior: func(r *service_mocks.MockLibraryService, inp input) {},
			input:        input{username: "alice", query: "?page=-1&size=10"},
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "err. negative size",
			mockBehavior: func(r *service_mocks.MockLibraryService, inp input) {},
			input:        input{username: "alice", query: "?page=1&size=-10"},
			expectedCode: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := gomock.NewController(t)
			defer c.Finish()
			svc := service_mocks.NewMockLibraryService(c)
			e, h := newTestEcho(svc)
			e.GET("/borrowings", h.ListBorrowings, auth.Middleware)

			r := httptest.NewRequest(http.MethodGet, "/borrowings"+tt.input.query, http.NoBody)
			r.Header.Set(auth.XUserNameHeader, tt.input.username)
			if tt.input.role != "" {
				r.Header.Set(auth.XUserRoleHeader, tt.input.role)
			}
			w := httptest.NewRecorder()

			tt.mockBehavior(svc, tt.input)
			e.ServeHTTP(w, r)

			require.Equal(t, tt.expectedCode, w.Code)
		})
	}
}

func TestHandler_GetPayment(t *testing.T) {
	t.Parallel()

	c := gomock.NewController(t)
	defer c.Finish()
	svc := service_mocks.NewMockLibraryService(c)
	e, h := newTestEcho(svc)
	e.GET("/payments/:id", h.GetPayment, auth.Middleware)

	svc.EXPECT().
		GetPayment(gomock.Any(), 5).
		Return(model.Payment{
			ID: 5, Status: model.StatusPending, Type: model.TypePayment, BorrowingID: 1,
			MoneyToPay: decimal.NewFromInt(30), Username: "bob",
		}, nil)

	r := httptest.NewRequest(http.MethodGet, "/payments/5", http.NoBody)
	r.Header.Set(auth.XUserNameHeader, "alice")
	w := httptest.NewRecorder()
	e.ServeHTTP(w, r)

	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, `{"message":"access denied"}`, strings.Trim(w.Body.String(), "\n"))
}

func TestHandler_ConfirmPayment_BadID(t *testing.T) {
	t.Parallel()

	c := gomock.NewController(t)
	defer c.Finish()
	svc := service_mocks.NewMockLibraryService(c)
	e, h := newTestEcho(svc)
	e.GET("/check_payment/:paymentId", h.ConfirmPayment)

	for _, id := range []string{"abc", "-1", "0"} {
		r := httptest.NewRequest(http.MethodGet, "/check_payment/"+id, http.NoBody)
		w := httptest.NewRecorder()
		e.ServeHTTP(w, r)
		require.Equal(t, http.StatusBadRequest, w.Code)
	}
}
