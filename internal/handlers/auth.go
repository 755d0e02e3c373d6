package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	iauth "github.com/JulianCR82/agenda-backend/internal/auth"
	"github.com/JulianCR82/agenda-backend/internal/models"
	"github.com/JulianCR82/agenda-backend/internal/services"
	"github.com/JulianCR82/agenda-backend/pkg/metrics"
	"github.com/JulianCR82/agenda-backend/pkg/response"
)

// AuthHandler exposes registration, login and profile endpoints.
type AuthHandler struct {
	users *services.UserService
	jwt   *iauth.JWTService
}

// NewAuthHandler constructs an auth handler.
func NewAuthHandler(db *gorm.DB, jwt *iauth.JWTService) (*AuthHandler, error) {
	users, err := services.NewUserService(db)
	if err != nil {
		return nil, err
	}
	return &AuthHandler{users: users, jwt: jwt}, nil
}

type registerRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=120"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=128"`
	Role     string `json:"role" validate:"required,oneof=teacher student"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type authPayload struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Register creates a new account and returns a signed access token.
func (h *AuthHandler) Register(c *gin.Context) {
	var payload registerRequest
	if !bindAndValidate(c, &payload) {
		return
	}

	user, err := h.users.Register(requestContext(c), services.RegisterUserInput{
		Name:     payload.Name,
		Email:    payload.Email,
		Password: payload.Password,
		Role:     payload.Role,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	token, err := h.jwt.GenerateAccessToken(iauth.AccessTokenInput{UserID: user.ID, Role: user.Role})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, authPayload{Token: token, User: user})
}

// Login verifies credentials and returns a signed access token.
func (h *AuthHandler) Login(c *gin.Context) {
	var payload loginRequest
	if !bindAndValidate(c, &payload) {
		return
	}

	user, err := h.users.Authenticate(requestContext(c), payload.Email, payload.Password)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, err)
		return
	}
	metrics.AuthAttempts.WithLabelValues("success").Inc()

	token, err := h.jwt.GenerateAccessToken(iauth.AccessTokenInput{UserID: user.ID, Role: user.Role})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, authPayload{Token: token, User: user})
}

// Me returns the authenticated user's profile.
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	user, err := h.users.GetByID(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, user)
}
