package http

import (
	"context"
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/mailpress/newsletter-gateway/internal/http/middleware"
	"github.com/mailpress/newsletter-gateway/internal/metrics"
	"github.com/mailpress/newsletter-gateway/internal/model"
	"github.com/mailpress/newsletter-gateway/internal/service/publish"
)

// HeaderIdempotencyKey is accepted as an alternative to the body field.
const HeaderIdempotencyKey = "Idempotency-Key"

type publishReq struct {
	Title          string `json:"title" form:"title"`
	Text           string `json:"text" form:"text"`
	HTML           string `json:"html" form:"html"`
	IdempotencyKey string `json:"idempotency_key" form:"idempotency_key"`
}

// Publisher is the publish coordinator as seen by the handler.
type Publisher interface {
	Publish(ctx context.Context, actorID int64, key string, in publish.Input) (model.StoredResponse, bool, error)
}

func publishNewsletterHandler(pub Publisher) echo.HandlerFunc {
	return func(c echo.Context) error {
		adminID, ok := middleware.AdminIDFromCtx(c)
		if !ok || adminID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		var req publishReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if req.IdempotencyKey == "" {
			req.IdempotencyKey = c.Request().Header.Get(HeaderIdempotencyKey)
		}

		resp, replayed, err := pub.Publish(c.Request().Context(), adminID, req.IdempotencyKey, publish.Input{
			Title:       req.Title,
			TextContent: req.Text,
			HTMLContent: req.HTML,
		})
		if err != nil {
			if errors.Is(err, publish.ErrInvalidInput) {
				metrics.PublishesTotal.WithLabelValues("rejected").Inc()
				return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
			}

			metrics.PublishesTotal.WithLabelValues("error").Inc()
			log.Errorf("publish failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "publish failed"})
		}

		if replayed {
			metrics.PublishesTotal.WithLabelValues("replayed").Inc()
		} else {
			metrics.PublishesTotal.WithLabelValues("published").Inc()
		}

		return writeStored(c, resp)
	}
}

// writeStored replays a StoredResponse verbatim, fresh or from the ledger,
// so duplicate submissions observe byte-identical results.
func writeStored(c echo.Context, resp model.StoredResponse) error {
	contentType := echo.MIMEApplicationJSON
	for k, v := range resp.Headers {
		if http.CanonicalHeaderKey(k) == "Content-Type" {
			contentType = v
			continue
		}
		c.Response().Header().Set(k, v)
	}
	return c.Blob(resp.Status, contentType, resp.Body)
}
