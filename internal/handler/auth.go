package handler

import (
	"errors"
	"net/http"
	"strings"

	"whatsapp-sync/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AuthHandler serves operator accounts. The first registered operator is
// the admin; everyone after that is created by the admin out of band.
type AuthHandler interface {
	Register(c *gin.Context)
	Login(c *gin.Context)
	Logout(c *gin.Context)
	Me(c *gin.Context)
}

type authHandler struct {
	authService service.AuthService
	log         *logrus.Logger
}

func NewAuthHandler(authService service.AuthService, log *logrus.Logger) AuthHandler {
	return &authHandler{authService: authService, log: log}
}

type credentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *authHandler) bindCredentials(c *gin.Context, action string) (credentialsRequest, bool) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warnf("Invalid %s request: %v", action, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return req, false
	}
	req.Username = strings.TrimSpace(req.Username)
	return req, true
}

// Register creates the first operator account, who gets the admin role.
// It is refused once any operator exists.
func (h *authHandler) Register(c *gin.Context) {
	req, ok := h.bindCredentials(c, "registration")
	if !ok {
		return
	}

	user, err := h.authService.Register(req.Username, req.Password)
	if err != nil {
		var verr *service.ValidationError
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Message, "field": verr.Field})
		case errors.Is(err, service.ErrUserAlreadyExists):
			h.log.Warnf("Registration of %q refused: operators already exist", req.Username)
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			h.log.Errorf("Failed to register operator %q: %v", req.Username, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register operator"})
		}
		return
	}

	h.log.Infof("Operator %q registered with role %s", user.Username, user.Role)
	c.JSON(http.StatusCreated, gin.H{
		"message":  "Operator registered successfully",
		"id":       user.ID,
		"username": user.Username,
		"role":     user.Role,
	})
}

// Login issues a token and echoes the role it carries so clients can hide
// admin-only screens.
func (h *authHandler) Login(c *gin.Context) {
	req, ok := h.bindCredentials(c, "login")
	if !ok {
		return
	}

	token, expiresAt, err := h.authService.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			h.log.Warnf("Rejected login for %q", req.Username)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}
		h.log.Errorf("Failed to login operator %q: %v", req.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to login"})
		return
	}

	claims, err := h.authService.ParseToken(token)
	if err != nil {
		h.log.Errorf("Issued token for %q does not parse: %v", req.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to login"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "Login successful",
		"token":      token,
		"expires_at": expiresAt,
		"username":   claims.Username,
		"role":       claims.Role,
	})
}

func (h *authHandler) Logout(c *gin.Context) {
	scope := scopeFrom(c)
	if err := h.authService.Logout(scope.Username); err != nil {
		h.log.Errorf("Failed to logout operator %q: %v", scope.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to logout"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logout successful"})
}

// Me reports the caller's identity as read from the token.
func (h *authHandler) Me(c *gin.Context) {
	scope := scopeFrom(c)
	c.JSON(http.StatusOK, gin.H{
		"username": scope.Username,
		"role":     scope.Role,
		"is_admin": scope.IsAdmin(),
	})
}
