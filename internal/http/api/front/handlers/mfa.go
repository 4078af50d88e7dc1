package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/moodmash/authcore/internal/auth"
	"github.com/moodmash/authcore/internal/mfa"
)

// MFAHandler serves TOTP enrollment, management and the login challenge.
type MFAHandler struct {
	auth *auth.Service
}

// NewMFAHandler constructs an MFAHandler.
func NewMFAHandler(svc *auth.Service) *MFAHandler {
	return &MFAHandler{auth: svc}
}

type factorRequest struct {
	Code         string `json:"code"`
	IsBackupCode bool   `json:"isBackupCode"`
}

func (r factorRequest) factor() mfa.Factor {
	if strings.TrimSpace(r.Code) == "" {
		return nil
	}
	return mfa.FactorFromRequest(r.Code, r.IsBackupCode)
}

// Setup starts enrollment and returns the secret, QR code and backup codes.
func (h *MFAHandler) Setup(c *gin.Context) {
	setup, errSetup := h.auth.SetupMFA(c.Request.Context(), currentUserID(c))
	if errSetup != nil {
		respondError(c, errSetup)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"secret":      setup.Secret,
		"otpauth_url": setup.OTPAuthURL,
		"qrCodeUrl":   setup.QRCodeDataURL,
		"backupCodes": setup.BackupCodes,
	})
}

type confirmRequest struct {
	Code   string `json:"code"`
	Secret string `json:"secret"`
}

// Verify confirms enrollment with a code from the pending secret.
func (h *MFAHandler) Verify(c *gin.Context) {
	var body confirmRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.Code) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing code"})
		return
	}
	if errConfirm := h.auth.ConfirmMFA(c.Request.Context(), currentUserID(c), body.Code, body.Secret); errConfirm != nil {
		respondError(c, errConfirm)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mfa_enabled": true})
}

type challengeRequest struct {
	Email    string `json:"email"`
	MFAToken string `json:"mfa_token"`
	factorRequest
}

// Challenge completes a login that required a second factor.
func (h *MFAHandler) Challenge(c *gin.Context) {
	var body challengeRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	result, errChallenge := h.auth.ChallengeMFA(c.Request.Context(), auth.MFAChallengeInput{
		Email:  body.Email,
		Ticket: body.MFAToken,
		Factor: body.factor(),
		IP:     c.ClientIP(),
	})
	if errChallenge != nil {
		respondError(c, errChallenge)
		return
	}
	c.JSON(http.StatusOK, sessionView(result))
}

// Disable turns MFA off after a factor check.
func (h *MFAHandler) Disable(c *gin.Context) {
	var body factorRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if errDisable := h.auth.DisableMFA(c.Request.Context(), currentUserID(c), body.factor()); errDisable != nil {
		respondError(c, errDisable)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mfa_enabled": false})
}

// RegenerateBackupCodes replaces the backup-code set after a factor check.
func (h *MFAHandler) RegenerateBackupCodes(c *gin.Context) {
	var body factorRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	codes, errRegenerate := h.auth.RegenerateBackupCodes(c.Request.Context(), currentUserID(c), body.factor())
	if errRegenerate != nil {
		respondError(c, errRegenerate)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backupCodes": codes})
}
