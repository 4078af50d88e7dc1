// Package auth composes the credential components into the login, recovery
// and account-security flows.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/moodmash/authcore/internal/challenge"
	"github.com/moodmash/authcore/internal/config"
	"github.com/moodmash/authcore/internal/mfa"
	"github.com/moodmash/authcore/internal/models"
	"github.com/moodmash/authcore/internal/passkey"
	"github.com/moodmash/authcore/internal/ratelimit"
	"github.com/moodmash/authcore/internal/security"
	"github.com/moodmash/authcore/internal/store"
	"github.com/moodmash/authcore/internal/tokens"
	log "github.com/sirupsen/logrus"
)

const (
	maxNameLength     = 100
	defaultTicketTTL  = 5 * time.Minute
	defaultSessionTTL = 24 * time.Hour
)

// Deps are the collaborators of a Service.
type Deps struct {
	Store      *store.Store
	Limiter    *ratelimit.Manager
	Tokens     *tokens.Service
	MFA        *mfa.Manager
	Passkeys   *passkey.Manager
	Challenges challenge.Store
	Mailer     Mailer
	JWT        config.JWTConfig
	MFATicket  time.Duration
	Now        func() time.Time
}

// Service runs the authentication flows.
type Service struct {
	users      *store.Users
	limiter    *ratelimit.Manager
	tokens     *tokens.Service
	mfa        *mfa.Manager
	passkeys   *passkey.Manager
	challenges challenge.Store
	mailer     Mailer
	jwt        config.JWTConfig
	ticketTTL  time.Duration
	nowFn      func() time.Time
}

// Session is a minted bearer token.
type Session struct {
	Token     string
	ExpiresAt time.Time
}

// LoginResult is the outcome of a first-factor login. Exactly one of Session
// or MFATicket is set.
type LoginResult struct {
	User        *models.User
	Session     *Session
	MFARequired bool
	MFATicket   string
}

// New constructs a Service.
func New(deps Deps) *Service {
	nowFn := deps.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	mailer := deps.Mailer
	if mailer == nil {
		mailer = LogMailer{}
	}
	ticketTTL := deps.MFATicket
	if ticketTTL <= 0 {
		ticketTTL = defaultTicketTTL
	}
	jwtCfg := deps.JWT
	if jwtCfg.Expiry <= 0 {
		jwtCfg.Expiry = defaultSessionTTL
	}
	return &Service{
		users:      deps.Store.Users,
		limiter:    deps.Limiter,
		tokens:     deps.Tokens,
		mfa:        deps.MFA,
		passkeys:   deps.Passkeys,
		challenges: deps.Challenges,
		mailer:     mailer,
		jwt:        jwtCfg,
		ticketTTL:  ticketTTL,
		nowFn:      nowFn,
	}
}

// Passkeys exposes the ceremony manager for credential management.
func (s *Service) Passkeys() *passkey.Manager {
	return s.passkeys
}

// Authenticate resolves a bearer session token to an active user.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.User, error) {
	claims, errParse := security.ParseSessionToken(s.jwt.Secret, strings.TrimSpace(token))
	if errParse != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, errParse)
	}
	user, errFind := s.users.FindByID(ctx, claims.UserID)
	if errFind != nil {
		if errors.Is(errFind, store.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("auth: load session user: %w", errFind)
	}
	if user.Disabled {
		return nil, ErrUnauthorized
	}
	if claims.Version != user.SessionVersion {
		return nil, fmt.Errorf("%w: session revoked", ErrUnauthorized)
	}
	return user, nil
}

// Me reloads the user behind a session.
func (s *Service) Me(ctx context.Context, userID uint64) (*models.User, error) {
	user, errFind := s.users.FindByID(ctx, userID)
	if errFind != nil {
		if errors.Is(errFind, store.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("auth: load user: %w", errFind)
	}
	return user, nil
}

func (s *Service) issueSession(user *models.User) (*Session, error) {
	token, expiresAt, errIssue := security.IssueSessionToken(s.jwt.Secret, user.ID, user.Email, user.SessionVersion, s.jwt.Expiry)
	if errIssue != nil {
		return nil, fmt.Errorf("auth: %w", errIssue)
	}
	return &Session{Token: token, ExpiresAt: expiresAt}, nil
}

func (s *Service) loggedIn(user *models.User) (*LoginResult, error) {
	session, errSession := s.issueSession(user)
	if errSession != nil {
		return nil, errSession
	}
	return &LoginResult{User: user, Session: session}, nil
}

// gate consumes one unit of the action bucket and returns a *ratelimit.LimitError when denied.
func (s *Service) gate(ctx context.Context, action ratelimit.Action, subject string) error {
	result := s.limiter.Check(ctx, action, subject)
	if result.Allowed {
		return nil
	}
	return &ratelimit.LimitError{Action: action, Result: result}
}

func normalizeEmail(raw string) (string, error) {
	email := store.NormalizeEmail(raw)
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	addr, errParse := mail.ParseAddress(email)
	if errParse != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	return email, nil
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// burnPasswordCheck spends one bcrypt comparison so unknown accounts take as long as known ones.
func burnPasswordCheck(password string) {
	dummyHashOnce.Do(func() {
		hash, errHash := security.HashPassword("moodmash-placeholder-1")
		if errHash != nil {
			log.WithError(errHash).Warn("auth: prepare placeholder hash")
			return
		}
		dummyHash = hash
	})
	if dummyHash != "" {
		_, _ = security.VerifyPassword(password, dummyHash)
	}
}

// LockoutWindow is how long a locked account stays locked.
func (s *Service) LockoutWindow() time.Duration {
	return s.limiter.LockoutWindow()
}
