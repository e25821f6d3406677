package server

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/framegate/framegate/internal/access"
	"github.com/framegate/framegate/internal/account"
	"github.com/framegate/framegate/internal/idgen"
	"github.com/framegate/framegate/internal/logging"
	"github.com/framegate/framegate/internal/media"
	"github.com/framegate/framegate/internal/otp"
	"github.com/framegate/framegate/internal/traces"
	"github.com/framegate/framegate/internal/validation"
)

// maxUploadSize bounds the multipart body on the resize endpoint.
const maxUploadSize = 64 << 20 // 64MB

// -----------------------------------------------------------------------------
// Registration & login
// -----------------------------------------------------------------------------

type registerRequest struct {
	Email      string `json:"email" binding:"required"`
	Credential string `json:"credential" binding:"required"`
}

func (s *Server) registerHandler(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and credential are required"})
		return
	}

	email := validation.SanitizeEmail(req.Email)
	if errs := validation.Validate(
		validation.ValidEmail("email", email),
		validation.Required("credential", req.Credential),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": errs})
		return
	}

	a := &account.Account{
		ID:                idgen.WithPrefix("acct_"),
		Email:             email,
		CredentialHash:    account.HashCredential(req.Credential),
		DeviceFingerprint: validation.SanitizeString(c.GetHeader("X-Device-Fingerprint"), 256),
		LastKnownAddress:  c.ClientIP(),
	}
	if err := s.accounts.Create(c.Request.Context(), a); err != nil {
		if errors.Is(err, account.ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
			return
		}
		logging.L(c.Request.Context()).Error("account create failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": a.ID, "email": a.Email})
}

type loginRequest struct {
	Email      string `json:"email" binding:"required"`
	Credential string `json:"credential" binding:"required"`
}

// loginHandler checks the credential and issues an OTP challenge to
// the account's email. The session token comes from the verify step.
func (s *Server) loginHandler(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and credential are required"})
		return
	}

	ctx := c.Request.Context()
	a, err := s.accounts.GetByEmail(ctx, validation.SanitizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no account for that email"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	if a.CredentialHash != account.HashCredential(req.Credential) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	if err := s.authn.Issue(ctx, a); err != nil {
		logging.L(ctx).Error("otp issue failed", "account_id", a.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not deliver verification code"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "verification code sent"})
}

type verifyRequest struct {
	Email string `json:"email" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

func (s *Server) verifyHandler(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and code are required"})
		return
	}

	ctx := c.Request.Context()
	a, err := s.accounts.GetByEmail(ctx, validation.SanitizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no account for that email"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		return
	}

	token, err := s.authn.Verify(ctx, a, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, otp.ErrCodeExpired):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "code expired, log in again"})
		case errors.Is(err, otp.ErrCodeMismatch), errors.Is(err, otp.ErrNoChallenge):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid code"})
		default:
			logging.L(ctx).Error("otp verify failed", "account_id", a.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		}
		return
	}

	s.sessions.put(token, a.ID)
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// sessionMiddleware resolves the bearer token to an account id.
func (s *Server) sessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		accountID, ok := s.sessions.resolve(auth[len(prefix):])
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired session"})
			return
		}
		c.Set("accountID", accountID)
		c.Request = c.Request.WithContext(logging.WithAccount(c.Request.Context(), accountID))
		c.Next()
	}
}

// -----------------------------------------------------------------------------
// Billable action
// -----------------------------------------------------------------------------

// resizeHandler accepts a multipart upload and runs it through the
// full authorization pipeline before transcoding.
func (s *Server) resizeHandler(c *gin.Context) {
	accountID := c.GetString("accountID")

	width, werr := strconv.Atoi(c.PostForm("width"))
	height, herr := strconv.Atoi(c.PostForm("height"))
	if werr != nil || herr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "width and height are required integers"})
		return
	}
	if errs := validation.Validate(
		validation.ValidDimension("width", width),
		validation.ValidDimension("height", height),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": errs})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}

	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
		return
	}
	inputRef := filepath.Join(s.cfg.UploadDir, idgen.Hex(8)+filepath.Ext(file.Filename))
	if err := c.SaveUploadedFile(file, inputRef); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
		return
	}

	ctx, span := traces.StartSpan(c.Request.Context(), "access.PerformAction",
		traces.AccountID(accountID),
		traces.Dimensions(width, height),
	)
	res, err := s.controller.PerformAction(ctx, accountID, inputRef, media.Params{Width: width, Height: height})
	if err != nil {
		span.SetAttributes(traces.Outcome("denied"))
		span.End()
		s.respondAccessError(c, err)
		return
	}
	span.SetAttributes(traces.Outcome("ok"))
	span.End()

	c.JSON(http.StatusOK, res)
}

// respondAccessError maps the orchestrator's error taxonomy to HTTP.
func (s *Server) respondAccessError(c *gin.Context, err error) {
	var fe *access.ForbiddenError
	var pe *access.ProcessingError
	switch {
	case errors.Is(err, access.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
	case errors.As(err, &fe):
		resp := gin.H{"error": fe.Reason}
		if fe.Until != nil {
			resp["bannedUntil"] = fe.Until
		}
		c.JSON(http.StatusForbidden, resp)
	case errors.As(err, &pe):
		c.JSON(http.StatusBadGateway, gin.H{"error": "processing failed"})
	case errors.Is(err, access.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "concurrent update, retry the request"})
	default:
		logging.L(c.Request.Context()).Error("action failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// -----------------------------------------------------------------------------
// Read projections
// -----------------------------------------------------------------------------

func (s *Server) dashboardHandler(c *gin.Context) {
	d, err := s.controller.Dashboard(c.Request.Context(), c.GetString("accountID"))
	if err != nil {
		s.respondAccessError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) riskEventsHandler(c *gin.Context) {
	events, err := s.riskEvents.ListByAccount(c.Request.Context(), c.GetString("accountID"), 50)
	if err != nil {
		logging.L(c.Request.Context()).Error("risk event list failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}
