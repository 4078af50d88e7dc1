package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/moodmash/authcore/internal/auth"
	"github.com/moodmash/authcore/internal/passkey"
)

// PasskeyHandler serves WebAuthn ceremonies and credential management.
type PasskeyHandler struct {
	auth     *auth.Service
	passkeys *passkey.Manager
}

// NewPasskeyHandler constructs a PasskeyHandler.
func NewPasskeyHandler(svc *auth.Service) *PasskeyHandler {
	return &PasskeyHandler{auth: svc, passkeys: svc.Passkeys()}
}

// RegisterOptions issues creation options for the signed-in user.
func (h *PasskeyHandler) RegisterOptions(c *gin.Context) {
	options, challengeID, errBegin := h.auth.BeginPasskeyRegistration(c.Request.Context(), currentUserID(c))
	if errBegin != nil {
		respondError(c, errBegin)
		return
	}
	c.JSON(http.StatusOK, gin.H{"options": options, "challengeId": challengeID})
}

type registerVerifyRequest struct {
	Credential  json.RawMessage `json:"credential"`
	ChallengeID string          `json:"challengeId"`
	Name        string          `json:"name"`
}

// RegisterVerify verifies an attestation and stores the credential.
func (h *PasskeyHandler) RegisterVerify(c *gin.Context) {
	var body registerVerifyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	cred, errFinish := h.auth.FinishPasskeyRegistration(c.Request.Context(), currentUserID(c), body.ChallengeID, body.Credential, body.Name)
	if errFinish != nil {
		respondError(c, errFinish)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credential": passkey.Describe(cred)})
}

// LoginOptions issues assertion options, scoped to ?email= when it resolves.
func (h *PasskeyHandler) LoginOptions(c *gin.Context) {
	options, requestID, errBegin := h.auth.BeginPasskeyLogin(c.Request.Context(), c.Query("email"), c.ClientIP())
	if errBegin != nil {
		respondError(c, errBegin)
		return
	}
	c.JSON(http.StatusOK, gin.H{"options": options, "requestId": requestID})
}

type loginVerifyRequest struct {
	Credential json.RawMessage `json:"credential"`
	RequestID  string          `json:"requestId"`
}

// LoginVerify verifies an assertion and returns a session.
func (h *PasskeyHandler) LoginVerify(c *gin.Context) {
	var body loginVerifyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	result, errFinish := h.auth.FinishPasskeyLogin(c.Request.Context(), body.RequestID, body.Credential, c.ClientIP())
	if errFinish != nil {
		respondError(c, errFinish)
		return
	}
	c.JSON(http.StatusOK, sessionView(result))
}

// List returns the signed-in user's credentials.
func (h *PasskeyHandler) List(c *gin.Context) {
	creds, errList := h.passkeys.List(c.Request.Context(), currentUserID(c))
	if errList != nil {
		respondError(c, errList)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credentials": creds})
}

type renameRequest struct {
	Name string `json:"name"`
}

// Rename sets a credential's friendly name.
func (h *PasskeyHandler) Rename(c *gin.Context) {
	id, errID := strconv.ParseUint(c.Param("id"), 10, 64)
	if errID != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var body renameRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	name, errRename := h.passkeys.Rename(c.Request.Context(), currentUserID(c), id, body.Name)
	if errRename != nil {
		respondError(c, errRename)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "name": name})
}

// Delete removes a credential. The last credential is kept.
func (h *PasskeyHandler) Delete(c *gin.Context) {
	id, errID := strconv.ParseUint(c.Param("id"), 10, 64)
	if errID != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if errDelete := h.passkeys.Delete(c.Request.Context(), currentUserID(c), id); errDelete != nil {
		respondError(c, errDelete)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
