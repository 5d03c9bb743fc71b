// Package auth issues single-use magic links and the session tokens they
// exchange for.
package auth

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/orderflow/backend/internal/db"
)

var (
	ErrInvalidEmail = errors.New("invalid email")
	ErrInvalidToken = errors.New("Invalid token")
	ErrTokenExpired = errors.New("Token expired")
	ErrTokenUsed    = errors.New("Token already used")
)

const DefaultLinkTTL = 15 * time.Minute

// Mailer delivers the login link. A nil Mailer skips delivery.
type Mailer interface {
	SendMagicLink(ctx context.Context, to, link string) error
}

type Config struct {
	// VerifyURL is the page the emailed link points at; the token is
	// appended as ?token=.
	VerifyURL string
	LinkTTL   time.Duration
	// Secret keys the digest stored in place of the raw token.
	Secret string
}

type Service struct {
	repos  *db.Repositories
	signer *Signer
	mailer Mailer
	logger *slog.Logger
	now    func() time.Time

	verifyURL string
	linkTTL   time.Duration
	hashKey   []byte
}

type Option func(*Service)

func WithMailer(m Mailer) Option {
	return func(s *Service) {
		s.mailer = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
		s.signer.now = now
	}
}

func NewService(repos *db.Repositories, signer *Signer, cfg Config, opts ...Option) *Service {
	key := blake2b.Sum256([]byte(cfg.Secret))
	s := &Service{
		repos:     repos,
		signer:    signer,
		logger:    slog.Default(),
		now:       time.Now,
		verifyURL: cfg.VerifyURL,
		linkTTL:   cfg.LinkTTL,
		hashKey:   key[:],
	}
	if s.linkTTL <= 0 {
		s.linkTTL = DefaultLinkTTL
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Signer() *Signer {
	return s.signer
}

// CreateMagicLink registers the email if it is new, stores a fresh link and
// returns its URL. Delivery failures are logged, not returned.
func (s *Service) CreateMagicLink(ctx context.Context, email string) (string, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return "", err
	}

	user, err := s.repos.Users.GetOrCreate(ctx, email)
	if err != nil {
		return "", err
	}

	token := uuid.NewString()
	now := s.now().UTC()
	link := &db.MagicLink{
		UserID:    user.ID,
		TokenHash: s.digest(token),
		ExpiresAt: now.Add(s.linkTTL),
		CreatedAt: now,
	}
	if err := s.repos.MagicLinks.Create(ctx, link); err != nil {
		return "", err
	}

	linkURL := s.verifyURL + "?token=" + url.QueryEscape(token)

	if s.mailer != nil {
		if err := s.mailer.SendMagicLink(ctx, email, linkURL); err != nil {
			s.logger.Warn("failed to send magic link",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("magic link created",
		slog.String("user_id", user.ID),
		slog.Time("expires_at", link.ExpiresAt),
	)
	return linkURL, nil
}

// VerifyMagicLink consumes token and returns a signed session token with the
// user's email. A token verifies at most once.
func (s *Service) VerifyMagicLink(ctx context.Context, token string) (string, string, error) {
	if token == "" {
		return "", "", ErrInvalidToken
	}

	link, err := s.repos.MagicLinks.GetByTokenHash(ctx, s.digest(token))
	if errors.Is(err, db.ErrNotFound) {
		return "", "", ErrInvalidToken
	}
	if err != nil {
		return "", "", err
	}

	now := s.now().UTC()
	if now.After(link.ExpiresAt) {
		return "", "", ErrTokenExpired
	}
	if link.UsedAt != nil {
		return "", "", ErrTokenUsed
	}

	won, err := s.repos.MagicLinks.MarkUsed(ctx, link.ID, now)
	if err != nil {
		return "", "", err
	}
	if !won {
		return "", "", ErrTokenUsed
	}

	user, err := s.repos.Users.GetByID(ctx, link.UserID)
	if err != nil {
		return "", "", fmt.Errorf("load user %s: %w", link.UserID, err)
	}

	jwtToken, err := s.signer.Sign(user.ID, user.Email)
	if err != nil {
		return "", "", fmt.Errorf("sign token: %w", err)
	}
	return jwtToken, user.Email, nil
}

func (s *Service) digest(token string) string {
	h, err := blake2b.New256(s.hashKey)
	if err != nil {
		// hashKey is always 32 bytes
		panic(err)
	}
	h.Write([]byte(token))
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(email), nil
}
