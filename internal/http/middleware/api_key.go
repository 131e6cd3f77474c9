package middleware

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"

	"github.com/mailpress/newsletter-gateway/internal/repository"
)

// AdminIDFromCtx extracts the authenticated admin id set by APIKeyMiddleware.
// That id is the actor namespacing idempotency keys.
func AdminIDFromCtx(c echo.Context) (int64, bool) {
	v := c.Get("admin_id")
	id, ok := v.(int64)
	return id, ok
}

// APIKeyMiddleware authenticates publisher requests using the X-API-Key
// header. On success it stores admin_id in context and blocks suspended
// accounts.
func APIKeyMiddleware(admins repository.AdminsRepository) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get("X-API-Key"))
			if key == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing api key"})
			}
			admin, err := admins.GetByAPIKey(c.Request().Context(), key)
			if err != nil {
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "auth error"})
			}
			if admin == nil || admin.Status != "active" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			}
			c.Set("admin_id", admin.ID)
			if admin.RateLimitRPS != nil {
				c.Set("admin_rps", *admin.RateLimitRPS)
			}
			return next(c)
		}
	}
}
