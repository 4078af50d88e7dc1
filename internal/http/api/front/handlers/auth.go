package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/moodmash/authcore/internal/auth"
)

// AuthHandler serves signup, password login and account recovery endpoints.
type AuthHandler struct {
	auth *auth.Service
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(svc *auth.Service) *AuthHandler {
	return &AuthHandler{auth: svc}
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates a password account.
func (h *AuthHandler) Register(c *gin.Context) {
	var body registerRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	user, errRegister := h.auth.Register(c.Request.Context(), auth.RegisterInput{
		Name:     body.Name,
		Email:    body.Email,
		Password: body.Password,
		IP:       c.ClientIP(),
	})
	if errRegister != nil {
		respondError(c, errRegister)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": userView(user)})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login verifies a password and returns a session or an MFA ticket.
func (h *AuthHandler) Login(c *gin.Context) {
	var body loginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	result, errLogin := h.auth.LoginPassword(c.Request.Context(), auth.LoginInput{
		Email:    body.Email,
		Password: body.Password,
		IP:       c.ClientIP(),
	})
	if errors.Is(errLogin, auth.ErrAccountLocked) {
		c.Header("Retry-After", strconv.Itoa(retrySeconds(h.auth.LockoutWindow())))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many failed attempts"})
		return
	}
	if errLogin != nil {
		respondError(c, errLogin)
		return
	}
	c.JSON(http.StatusOK, sessionView(result))
}

type emailRequest struct {
	Email string `json:"email"`
}

// ForgotPassword mails a reset link. The response never reveals whether the account exists.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var body emailRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if errForgot := h.auth.ForgotPassword(c.Request.Context(), body.Email, c.ClientIP()); errForgot != nil {
		respondError(c, errForgot)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "if the account exists, a reset link has been sent"})
}

type tokenRequest struct {
	Token string `json:"token"`
}

// ValidateResetToken checks a reset token without consuming it.
func (h *AuthHandler) ValidateResetToken(c *gin.Context) {
	var body tokenRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if errValidate := h.auth.ValidateResetToken(c.Request.Context(), body.Token); errValidate != nil {
		respondError(c, errValidate)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// ResetPassword consumes a reset token and stores the new password.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var body resetPasswordRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if errReset := h.auth.ResetPassword(c.Request.Context(), body.Token, body.Password); errReset != nil {
		respondError(c, errReset)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}

// VerifyEmail consumes a verification token.
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	var body tokenRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if errVerify := h.auth.VerifyEmail(c.Request.Context(), body.Token); errVerify != nil {
		respondError(c, errVerify)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "email verified"})
}

// ResendVerification mails a fresh verification token to the signed-in user.
func (h *AuthHandler) ResendVerification(c *gin.Context) {
	if errResend := h.auth.ResendVerification(c.Request.Context(), currentUserID(c)); errResend != nil {
		respondError(c, errResend)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "verification email sent"})
}

// Me returns the signed-in user.
func (h *AuthHandler) Me(c *gin.Context) {
	user, errMe := h.auth.Me(c.Request.Context(), currentUserID(c))
	if errMe != nil {
		respondError(c, errMe)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userView(user)})
}
