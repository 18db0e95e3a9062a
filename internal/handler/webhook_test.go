package handler_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/astrv/library-rental/internal/handler"
	"github.com/astrv/library-rental/internal/model"

	service_mocks "github.com/astrv/library-rental/internal/handler/mocks"
)

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestHandler_CheckoutWebhook(t *testing.T) {
	t.Parallel()

	const secret = "whsec_test"
	const completed = `{"type":"checkout.session.completed","data":{"object":{"id":"cs_1","metadata":{"payment_id":"5","payment_type":"PAYMENT"}}}}`

	type input struct {
		body      string
		signature string
	}
	type response struct {
		expectedCode int
		expectedBody string
	}
	type mockBehavior func(r *service_mocks.MockLibraryService)

	var tests = []struct {
		name         string
		mockBehavior mockBehavior
		input        input
		response     response
	}{
		{
			name: "ok. session completed",
			mockBehavior: func(r *service_mocks.MockLibraryService) {
				r.EXPECT().
					ConfirmPayment(gomock.Any(), 5).
					Return(model.Payment{
						ID: 5, Status: model.StatusPaid, Type: model.TypePayment,
						BorrowingID: 1, MoneyToPay: decimal.NewFromInt(30),
					}, nil)
			},
			input: input{body: completed, signature: sign(secret, completed)},
			response: response{
				expectedCode: http.StatusOK,
			},
		},
		{
			name:         "err. tampered body",
			mockBehavior: func(r *service_mocks.MockLibraryService) {},
			input: input{
				body:      strings.Replace(completed, `"payment_id":"5"`, `"payment_id":"6"`, 1),
				signature: sign(secret, completed),
			},
			response: response{
				expectedCode: http.StatusBadRequest,
				expectedBody: `{"message":"missing or invalid signature"}`,
			},
		},
		{
			name:         "err. missing signature",
			mockBehavior: func(r *service_mocks.MockLibraryService) {},
			input:        input{body: completed},
			response: response{
				expectedCode: http.StatusBadRequest,
				expectedBody: `{"message":"missing or invalid signature"}`,
			},
		},
		{
			name:         "ok. foreign event ignored",
			mockBehavior: func(r *service_mocks.MockLibraryService) {},
			input: input{
				body:      `{"type":"checkout.session.expired","data":{"object":{"id":"cs_1","metadata":{"payment_id":"5"}}}}`,
				signature: sign(secret, `{"type":"checkout.session.expired","data":{"object":{"id":"cs_1","metadata":{"payment_id":"5"}}}}`),
			},
			response: response{
				expectedCode: http.StatusOK,
			},
		},
		{
			name:         "err. no payment_id in metadata",
			mockBehavior: func(r *service_mocks.MockLibraryService) {},
			input: input{
				body:      `{"type":"checkout.session.completed","data":{"object":{"id":"cs_1","metadata":{}}}}`,
				signature: sign(secret, `{"type":"checkout.session.completed","data":{"object":{"id":"cs_1","metadata":{}}}}`),
			},
			response: response{
				expectedCode: http.StatusBadRequest,
				expectedBody: `{"message":"event metadata has no payment_id"}`,
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
			e.POST("/webhook/checkout", h.CheckoutWebhook)

			r := httptest.NewRequest(http.MethodPost, "/webhook/checkout", strings.NewReader(tt.input.body))
			r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			if tt.input.signature != "" {
				r.Header.Set(handler.SignatureHeader, tt.input.signature)
			}
			w := httptest.NewRecorder()

			tt.mockBehavior(svc)
			e.ServeHTTP(w, r)

			require.Equal(t, tt.response.expectedCode, w.Code)
			if tt.response.expectedBody != "" {
				require.Equal(t, tt.response.expectedBody, strings.Trim(w.Body.String(), "\n"))
			}
		})
	}
}
