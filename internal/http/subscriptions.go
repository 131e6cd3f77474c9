package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/mailpress/newsletter-gateway/internal/service/subscribe"
)

type subscribeReq struct {
	Email string `json:"email" form:"email"`
	Name  string `json:"name" form:"name"`
}

// SubscriptionService is the sign-up/confirmation flow as seen by handlers.
type SubscriptionService interface {
	Subscribe(ctx context.Context, email, name string) error
	Confirm(ctx context.Context, token string) (bool, error)
}

func subscribeHandler(svc SubscriptionService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req subscribeReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "name is required"})
		}

		if err := svc.Subscribe(c.Request().Context(), req.Email, req.Name); err != nil {
			if errors.Is(err, subscribe.ErrInvalidEmail) {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid email"})
			}

			log.Errorf("subscribe failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusCreated, map[string]any{
			"subscribed": true,
			"status":     "pending_confirmation",
		})
	}
}

func confirmHandler(svc SubscriptionService) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := strings.TrimSpace(c.QueryParam("token"))
		if token == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "token is required"})
		}

		ok, err := svc.Confirm(c.Request().Context(), token)
		if err != nil {
			log.Errorf("confirm failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		if !ok {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown token"})
		}

		return c.JSON(http.StatusOK, map[string]any{"confirmed": true})
	}
}
