package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/moodmash/authcore/internal/auth"
	"github.com/moodmash/authcore/internal/models"
	"github.com/moodmash/authcore/internal/passkey"
	"github.com/moodmash/authcore/internal/ratelimit"
	"github.com/moodmash/authcore/internal/security"
	log "github.com/sirupsen/logrus"
)

// ContextUserID is the gin context key holding the authenticated user id.
const ContextUserID = "userID"

// SetRateLimitHeaders writes the X-RateLimit-* headers, plus Retry-After when denied.
func SetRateLimitHeaders(c *gin.Context, result ratelimit.Result) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	if !result.Reset.IsZero() {
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.Reset.Unix(), 10))
	}
	if !result.Allowed {
		c.Header("Retry-After", strconv.Itoa(retrySeconds(result.RetryAfter)))
	}
}

// AbortTooManyRequests ends the request with a 429 for result.
func AbortTooManyRequests(c *gin.Context, result ratelimit.Result) {
	SetRateLimitHeaders(c, result)
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":       "too many requests",
		"retry_after": retrySeconds(result.RetryAfter),
	})
}

func retrySeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

func currentUserID(c *gin.Context) uint64 {
	return c.GetUint64(ContextUserID)
}

// respondError maps service errors onto status codes. Anything unrecognized is
// logged and reported as a 500 without detail.
func respondError(c *gin.Context, err error) {
	var limitErr *ratelimit.LimitError
	if errors.As(err, &limitErr) {
		AbortTooManyRequests(c, limitErr.Result)
		return
	}

	switch {
	case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, security.ErrWeakPassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, auth.ErrEmailTaken):
		c.JSON(http.StatusBadRequest, gin.H{"error": "email already registered"})
	case errors.Is(err, auth.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
	case errors.Is(err, auth.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, auth.ErrInvalidToken):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired token"})
	case errors.Is(err, auth.ErrInvalidMFA):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid verification code"})
	case errors.Is(err, auth.ErrMFAAlreadyEnabled):
		c.JSON(http.StatusBadRequest, gin.H{"error": "mfa already enabled"})
	case errors.Is(err, auth.ErrMFANotEnabled):
		c.JSON(http.StatusBadRequest, gin.H{"error": "mfa not enabled"})
	case errors.Is(err, auth.ErrMFANotPending):
		c.JSON(http.StatusBadRequest, gin.H{"error": "mfa setup not started"})
	case errors.Is(err, auth.ErrAuthenticationFailed):
		c.JSON(http.StatusBadRequest, gin.H{"error": "authentication failed"})
	case errors.Is(err, passkey.ErrCredentialExists):
		c.JSON(http.StatusBadRequest, gin.H{"error": "credential already registered"})
	case errors.Is(err, passkey.ErrLastCredential):
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot delete last credential"})
	case errors.Is(err, passkey.ErrInvalidName):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, passkey.ErrCredentialNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "credential not found"})
	default:
		log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func userView(user *models.User) gin.H {
	return gin.H{
		"id":             user.ID,
		"name":           user.Name,
		"email":          user.Email,
		"email_verified": user.EmailVerified(),
		"mfa_enabled":    user.MFAEnabled,
		"created_at":     user.CreatedAt,
	}
}

func sessionView(result *auth.LoginResult) gin.H {
	if result.MFARequired {
		return gin.H{"mfa_required": true, "mfa_token": result.MFATicket}
	}
	return gin.H{
		"user":       userView(result.User),
		"token":      result.Session.Token,
		"expires_at": result.Session.ExpiresAt,
	}
}
