// Package subscribe handles sign-up and confirmation for newsletter
// recipients. New subscribers start pending and only join the publish
// recipient snapshot once they follow the emailed confirmation link.
package subscribe

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/mailpress/newsletter-gateway/internal/logger"
	"github.com/mailpress/newsletter-gateway/internal/mailer"
	"github.com/mailpress/newsletter-gateway/internal/repository"
	"github.com/mailpress/newsletter-gateway/internal/util"
)

var ErrInvalidEmail = errors.New("subscribe: invalid email address")

type Service struct {
	db      *sqlx.DB
	subs    repository.SubscribersRepository
	mail    mailer.Client
	baseURL string

	newToken func() string
}

func New(db *sqlx.DB, subs repository.SubscribersRepository, mail mailer.Client, baseURL string) *Service {
	return &Service{
		db:       db,
		subs:     subs,
		mail:     mail,
		baseURL:  baseURL,
		newToken: util.NewToken,
	}
}

// Subscribe stores a pending subscriber with a fresh confirmation token and
// emails the confirmation link. The email is sent after commit: a provider
// outage must not lose the sign-up, and the token can be re-issued later.
func (s *Service) Subscribe(ctx context.Context, email, name string) error {
	email = util.NormalizeEmail(email)
	if !util.ValidEmail(email) {
		return ErrInvalidEmail
	}

	token := s.newToken()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	id, err := s.subs.InsertPending(ctx, tx, email, name)
	if err != nil {
		return fmt.Errorf("insert subscriber: %w", err)
	}
	if err := s.subs.StoreToken(ctx, tx, id, token); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	link := fmt.Sprintf("%s/subscriptions/confirm?token=%s", s.baseURL, token)
	err = s.mail.Send(ctx, email,
		"Please confirm your subscription",
		fmt.Sprintf(`Welcome!<br>Click <a href="%s">here</a> to confirm your subscription.`, link),
		fmt.Sprintf("Welcome!\nVisit %s to confirm your subscription.", link),
	)
	if err != nil {
		logger.Log.Warn("confirmation email failed",
			zap.String("email", email),
			zap.Error(err),
		)
	}

	return nil
}

// Confirm flips the token's subscriber to confirmed. Returns false for an
// unknown token.
func (s *Service) Confirm(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	return s.subs.ConfirmByToken(ctx, token)
}
