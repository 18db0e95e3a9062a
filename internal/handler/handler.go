package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	echoSwagger "github.com/swaggo/echo-swagger"
	"go.uber.org/zap"

	"github.com/astrv/library-rental/internal/errs"
	"github.com/astrv/library-rental/internal/model"
	"github.com/astrv/library-rental/pkg/auth"
	"github.com/astrv/library-rental/pkg/validate"
	_ "github.com/astrv/library-rental/swagger"
)

type Config struct {
	WebhookSecret string `envconfig:"WEBHOOK_SECRET"`
}

type Handler struct {
	librarySvc LibraryService
	cfg        Config
	log        *zap.Logger
}

func New(librarySvc LibraryService, cfg Config, log *zap.Logger) *Handler {
	return &Handler{
		librarySvc: librarySvc,
		cfg:        cfg,
		log:        log,
	}
}

func (h *Handler) NewRouter() *echo.Echo {
	e := echo.New()
	const (
		baseRPS = 10
		apiRPS  = 100
	)
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 << 10, // 4 KB
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodOptions, http.MethodHead, http.MethodPut, http.MethodPatch, http.MethodPost, http.MethodDelete},
		AllowCredentials: true,
	}))

	base := e.Group("", newRateLimiterMW(baseRPS))
	base.GET("/manage/health", h.Health)
	base.GET("/swagger/*", echoSwagger.WrapHandler)

	e.Validator = validate.NewCustomValidator()
	api := e.Group("/api/v1",
		middleware.RequestLoggerWithConfig(requestLoggerConfig()),
		middleware.RequestID(),
		newRateLimiterMW(apiRPS),
	)

	// gateway redirect targets and the signed webhook carry no user identity
	api.GET("/check_payment/:paymentId", h.ConfirmPayment)
	api.GET("/check_fine/:paymentId", h.ConfirmPayment)
	api.GET("/cancel_payment/:paymentId", h.CancelPayment)
	api.GET("/cancel_fine/:paymentId", h.CancelPayment)
	api.POST("/webhook/checkout", h.CheckoutWebhook)

	authed := api.Group("", auth.Middleware)

	authed.GET("/books", h.ListBooks)
	authed.GET("/books/:id", h.GetBook)
	authed.POST("/books", h.CreateBook)
	authed.PUT("/books/:id", h.UpdateBook)
	authed.DELETE("/books/:id", h.DeleteBook)

	authed.GET("/borrowings", h.ListBorrowings)
	authed.POST("/borrowings", h.CreateBorrowing)
	authed.GET("/borrowings/:id", h.GetBorrowing)
	authed.DELETE("/borrowings/:id", h.DeleteBorrowing)
	authed.GET("/borrowings/:id/return", h.ReturnBorrowing)
	authed.GET("/borrowings/:id/renew_session", h.RenewSession)

	authed.GET("/payments", h.ListPayments)
	authed.GET("/payments/:id", h.GetPayment)

	return e
}

func (h *Handler) Health(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (h *Handler) CreateBook(c echo.Context) error {
	if !auth.IsAdmin(c.Request().Context()) {
		return echo.NewHTTPError(http.StatusForbidden, errs.ErrForbidden.Error())
	}
	var req model.CreateBookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	book, err := h.librarySvc.CreateBook(c.Request().Context(), req)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, book)
}

func (h *Handler) GetBook(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	book, err := h.librarySvc.GetBook(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, book)
}

func (h *Handler) ListBooks(c echo.Context) error {
	page, size, err := paging(c)
	if err != nil {
		return err
	}
	books, err := h.librarySvc.ListBooks(c.Request().Context(), page, size)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, books)
}

func (h *Handler) UpdateBook(c echo.Context) error {
	if !auth.IsAdmin(c.Request().Context()) {
		return echo.NewHTTPError(http.StatusForbidden, errs.ErrForbidden.Error())
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req model.CreateBookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	book, err := h.librarySvc.UpdateBook(c.Request().Context(), id, req)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, book)
}

func (h *Handler) DeleteBook(c echo.Context) error {
	if !auth.IsAdmin(c.Request().Context()) {
		return echo.NewHTTPError(http.StatusForbidden, errs.ErrForbidden.Error())
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.librarySvc.DeleteBook(c.Request().Context(), id); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CreateBorrowing(c echo.Context) error {
	ctx := c.Request().Context()
	var req model.CreateBorrowingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Username = auth.UserName(ctx)
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	resp, err := h.librarySvc.CreateBorrowing(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrInvalidReturnDate):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, errs.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, errs.ErrConflict), errors.Is(err, errs.ErrExhaustedInventory):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		case errors.Is(err, errs.ErrGateway):
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, resp)
}

func (h *Handler) GetBorrowing(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	b, err := h.librarySvc.GetBorrowing(ctx, id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !auth.CanAccess(ctx, b) {
		return echo.NewHTTPError(http.StatusForbidden, errs.ErrForbidden.Error())
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBorrowings(c echo.Context) error {
	ctx := c.Request().Context()
	page, size, err := paging(c)
	if err != nil {
		return err
	}
	f := model.BorrowingFilter{Page: page, Size: size}
	if isActiveParam := c.QueryParam("is_active"); isActiveParam != "" {
		isActive, err := strconv.ParseBool(isActiveParam)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, errors.New("is_active is invalid"))
		}
		f.IsActive = &isActive
	}
	if auth.IsAdmin(ctx) {
		f.Username = c.QueryParam("username")
	} else {
		f.Username = auth.UserName(ctx)
	}

	list, err := h.librarySvc.ListBorrowings(ctx, f)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, list)
}

func (h *Handler) DeleteBorrowing(c echo.Context) error {
	if !auth.IsAdmin(c.Request().Context()) {
		return echo.NewHTTPError(http.StatusForbidden, errs.ErrForbidden.Error())
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.librarySvc.DeleteBorrowing(c.Request().Context(), id); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ReturnBorrowing(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	b, err := h.librarySvc.GetBorrowing(ctx, id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !auth.CanAccess(ctx, b) {
		return echo.NewHTTPError(http.StatusForbidden, errs.ErrForbidden.Error())
	}

	resp, err := h.librarySvc.ReturnBorrowing(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrAlreadyReturned):
			// double return is a no-op, not a failure
			return c.JSON(http.StatusOK, resp)
		case errors.Is(err, errs.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, errs.ErrGateway):
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) RenewSession(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	b, err := h.librarySvc.GetBorrowing(ctx, id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !auth.CanAccess(ctx, b) {
		return echo.NewHTTPError(http.StatusForbidden, errs.ErrForbidden.Error())
	}

	p, err := h.librarySvc.RenewSession(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, errs.ErrGateway):
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

// ConfirmPayment serves the gateway's success redirect; the session is
// confirmed by payment id alone, authoritative confirmation arrives via
// the signed webhook.
func (h *Handler) ConfirmPayment(c echo.Context) error {
	id, err := pathID(c, "paymentId")
	if err != nil {
		return err
	}
	p, err := h.librarySvc.ConfirmPayment(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) CancelPayment(c echo.Context) error {
	id, err := pathID(c, "paymentId")
	if err != nil {
		return err
	}
	p, err := h.librarySvc.CancelPayment(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) GetPayment(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	p, err := h.librarySvc.GetPayment(ctx, id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !auth.CanAccess(ctx, p) {
		return echo.NewHTTPError(http.StatusForbidden, errs.ErrForbidden.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPayments(c echo.Context) error {
	ctx := c.Request().Context()
	page, size, err := paging(c)
	if err != nil {
		return err
	}
	username := auth.UserName(ctx)
	if auth.IsAdmin(ctx) {
		username = c.QueryParam("username")
	}
	list, err := h.librarySvc.ListPayments(ctx, username, page, size)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, list)
}

func pathID(c echo.Context, name string) (int, error) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, errors.Errorf("%s is invalid", name).Error())
	}
	return id, nil
}

func paging(c echo.Context) (page, size int, err error) {
	if pageParam := c.QueryParam("page"); pageParam != "" {
		if page, err = strconv.Atoi(pageParam); err != nil || page < 0 {
			return 0, 0, echo.NewHTTPError(http.StatusBadRequest, errors.New("page is invalid"))
		}
	}
	if sizeParam := c.QueryParam("size"); sizeParam != "" {
		if size, err = strconv.Atoi(sizeParam); err != nil || size < 0 {
			return 0, 0, echo.NewHTTPError(http.StatusBadRequest, errors.New("size is invalid"))
		}
	}
	return page, size, nil
}
