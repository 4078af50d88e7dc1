// Package front registers the public auth API.
package front

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/moodmash/authcore/internal/auth"
	"github.com/moodmash/authcore/internal/http/api/front/handlers"
	"github.com/moodmash/authcore/internal/ratelimit"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Deps are the collaborators the routes need.
type Deps struct {
	DB      *gorm.DB
	Redis   redis.UniversalClient
	Auth    *auth.Service
	Limiter *ratelimit.Manager
}

// RegisterFrontRoutes registers the /v0/auth routes and /healthz.
func RegisterFrontRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.Auth == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Redis)
	r.GET("/healthz", healthHandler.Healthz)

	group := r.Group("/v0/auth")
	group.Use(rateLimitMiddleware(deps.Limiter, ratelimit.ActionGeneral, byIP))

	authHandler := handlers.NewAuthHandler(deps.Auth)
	mfaHandler := handlers.NewMFAHandler(deps.Auth)
	passkeyHandler := handlers.NewPasskeyHandler(deps.Auth)

	group.POST("/register", rateLimitMiddleware(deps.Limiter, ratelimit.ActionRegister, byIP), authHandler.Register)
	group.POST("/login", rateLimitMiddleware(deps.Limiter, ratelimit.ActionLogin, byIP), authHandler.Login)

	resetLimit := rateLimitMiddleware(deps.Limiter, ratelimit.ActionPasswordReset, byIP)
	group.POST("/password/forgot", resetLimit, authHandler.ForgotPassword)
	group.POST("/password/validate", authHandler.ValidateResetToken)
	group.POST("/password/reset", resetLimit, authHandler.ResetPassword)
	group.POST("/email/verify", rateLimitMiddleware(deps.Limiter, ratelimit.ActionVerifyEmail, byIP), authHandler.VerifyEmail)

	group.POST("/mfa/challenge", rateLimitMiddleware(deps.Limiter, ratelimit.ActionMFA, byIP), mfaHandler.Challenge)

	webauthnLimit := rateLimitMiddleware(deps.Limiter, ratelimit.ActionWebAuthn, byIP)
	group.GET("/webauthn/login/options", webauthnLimit, passkeyHandler.LoginOptions)
	group.POST("/webauthn/login/verify", webauthnLimit, passkeyHandler.LoginVerify)

	authed := group.Group("")
	authed.Use(sessionMiddleware(deps.Auth))
	authed.Use(rateLimitMiddleware(deps.Limiter, ratelimit.ActionAPI, byUser))

	authed.GET("/me", authHandler.Me)
	authed.POST("/email/resend", authHandler.ResendVerification)

	authed.POST("/mfa/setup", mfaHandler.Setup)
	authed.POST("/mfa/verify", mfaHandler.Verify)
	authed.POST("/mfa/disable", mfaHandler.Disable)
	authed.POST("/mfa/backup-codes", mfaHandler.RegenerateBackupCodes)

	authed.GET("/webauthn/register/options", webauthnLimit, passkeyHandler.RegisterOptions)
	authed.POST("/webauthn/register/verify", webauthnLimit, passkeyHandler.RegisterVerify)
	authed.GET("/webauthn/credentials", passkeyHandler.List)
	authed.PATCH("/webauthn/credentials/:id", passkeyHandler.Rename)
	authed.DELETE("/webauthn/credentials/:id", passkeyHandler.Delete)
}

func byIP(c *gin.Context) string {
	return c.ClientIP()
}

func byUser(c *gin.Context) string {
	if id := c.GetUint64(handlers.ContextUserID); id != 0 {
		return "user:" + strconv.FormatUint(id, 10)
	}
	return c.ClientIP()
}

// rateLimitMiddleware counts the request against action for the subject and
// rejects it with 429 once the bucket is exhausted.
func rateLimitMiddleware(limiter *ratelimit.Manager, action ratelimit.Action, subject func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		result := limiter.Check(c.Request.Context(), action, subject(c))
		if !result.Allowed {
			handlers.AbortTooManyRequests(c, result)
			return
		}
		handlers.SetRateLimitHeaders(c, result)
		c.Next()
	}
}

// sessionMiddleware validates bearer session tokens and loads the user id.
func sessionMiddleware(svc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		user, errAuth := svc.Authenticate(c.Request.Context(), token)
		if errAuth != nil {
			if !errors.Is(errAuth, auth.ErrUnauthorized) {
				log.WithError(errAuth).Error("session lookup failed")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(handlers.ContextUserID, user.ID)
		c.Next()
	}
}
