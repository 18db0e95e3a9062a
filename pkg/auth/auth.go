package auth

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	XUserNameHeader = "X-User-Name"
	XUserRoleHeader = "X-User-Role"

	RoleAdmin = "admin"
	RoleUser  = "user"
)

type ctxKey string

const (
	userNameKey ctxKey = "userNameKey"
	userRoleKey ctxKey = "userRoleKey"
)

// Middleware pins the caller identity from the gateway-injected headers
// onto the request context.
func Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		userName := req.Header.Get(XUserNameHeader)
		if userName == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "user-name is empty")
		}
		userRole := req.Header.Get(XUserRoleHeader)
		if userRole == "" {
			userRole = RoleUser
		}
		ctx := SetAuthContext(req.Context(), userName, userRole)
		c.SetRequest(req.WithContext(ctx))
		return next(c)
	}
}

func SetAuthContext(ctx context.Context, userName, userRole string) context.Context {
	ctx = context.WithValue(ctx, userNameKey, userName)
	return context.WithValue(ctx, userRoleKey, userRole)
}

func UserName(ctx context.Context) string {
	name, _ := ctx.Value(userNameKey).(string)
	return name
}

func IsAdmin(ctx context.Context) bool {
	role, _ := ctx.Value(userRoleKey).(string)
	return role == RoleAdmin
}

// Ownable is implemented by entities that belong to a single borrower.
type Ownable interface {
	OwnerID() string
}

// CanAccess allows admins everywhere and owners on their own entities.
func CanAccess(ctx context.Context, o Ownable) bool {
	if IsAdmin(ctx) {
		return true
	}
	return o.OwnerID() == UserName(ctx)
}
