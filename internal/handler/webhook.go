package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/astrv/library-rental/internal/errs"
)

const SignatureHeader = "X-Webhook-Signature"

const eventCheckoutCompleted = "checkout.session.completed"

type checkoutEvent struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string            `json:"id"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// CheckoutWebhook processes gateway events. The payment to update is
// taken from the verified event metadata, never from the URL.
func (h *Handler) CheckoutWebhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !h.verifySignature(body, c.Request().Header.Get(SignatureHeader)) {
		return echo.NewHTTPError(http.StatusBadRequest, "missing or invalid signature")
	}

	var event checkoutEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if event.Type != eventCheckoutCompleted {
		h.log.Debug("webhook: ignoring event", zap.String("type", event.Type))
		return c.NoContent(http.StatusOK)
	}

	paymentID, err := strconv.Atoi(event.Data.Object.Metadata["payment_id"])
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "event metadata has no payment_id")
	}
	if _, err := h.librarySvc.ConfirmPayment(c.Request().Context(), paymentID); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

func (h *Handler) verifySignature(body []byte, signature string) bool {
	if signature == "" || h.cfg.WebhookSecret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.cfg.WebhookSecret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(signature))
}
