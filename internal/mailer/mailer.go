// Package mailer is the email-sending collaborator: an HTTP client for a
// Postmark-style transactional email API, fronted by a small circuit breaker.
// Errors split into permanent (the message can never be delivered) and
// retryable (everything else); callers decide the retry policy.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Client sends one email to one recipient.
type Client interface {
	Send(ctx context.Context, recipient, subject, htmlBody, textBody string) error
}

// PermanentError marks a send that must not be retried (the provider rejected
// the message itself, not the attempt).
type PermanentError struct {
	msg string
}

func (e *PermanentError) Error() string { return e.msg }

func permanentf(format string, args ...any) error {
	return &PermanentError{msg: fmt.Sprintf(format, args...)}
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

type HTTPClient struct {
	baseURL  string
	sendPath string
	sender   string
	token    string
	client   *http.Client
	br       *MicroBreaker
}

func NewHTTPClient(baseURL, sendPath, sender, token string, timeoutMs, failThreshold, openForMs int) *HTTPClient {
	if timeoutMs <= 0 {
		timeoutMs = 5000
	}
	if failThreshold <= 0 {
		failThreshold = 5
	}
	if openForMs <= 0 {
		openForMs = 15000
	}
	if sendPath == "" {
		sendPath = "/email"
	}

	return &HTTPClient{
		baseURL:  baseURL,
		sendPath: sendPath,
		sender:   sender,
		token:    token,
		client:   &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		br:       NewMicroBreaker(failThreshold, time.Duration(openForMs)*time.Millisecond),
	}
}

var _ Client = (*HTTPClient)(nil)

type sendRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
	TextBody string `json:"text_body"`
}

func (c *HTTPClient) Send(ctx context.Context, recipient, subject, htmlBody, textBody string) error {
	if !c.br.TryAcquire() {
		return errors.New("mailer: circuit open")
	}

	b, _ := json.Marshal(sendRequest{
		From:     c.sender,
		To:       recipient,
		Subject:  subject,
		HTMLBody: htmlBody,
		TextBody: textBody,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.sendPath, bytes.NewReader(b))
	if err != nil {
		c.br.OnFailure()
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("X-Server-Token", c.token)
	}

	res, err := c.client.Do(req)
	if err != nil {
		c.br.OnFailure()
		return err
	}

	defer res.Body.Close()

	switch {
	case res.StatusCode/100 == 2:
		c.br.OnSuccess()
		return nil
	case res.StatusCode/100 == 4 && res.StatusCode != http.StatusTooManyRequests:
		// the provider is healthy, the message is not
		c.br.OnSuccess()
		return permanentf("mailer: rejected recipient=%s status=%d", recipient, res.StatusCode)
	default:
		c.br.OnFailure()
		return fmt.Errorf("mailer: status=%d", res.StatusCode)
	}
}
