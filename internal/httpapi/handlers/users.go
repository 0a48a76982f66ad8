package handlers

import (
	"crypto/rand"
	"errors"
	"math/big"
	"net/http"
	"net/mail"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/fitmate-chat/internal/auth"
	"github.com/suPer8Hu/fitmate-chat/internal/common"
	"github.com/suPer8Hu/fitmate-chat/internal/httpapi/middleware"
	"github.com/suPer8Hu/fitmate-chat/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const minPasswordLen = 8

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

type registerReq struct {
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
}

// generate a 11 digit random username
func randomUsername11() (string, error) {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	out := make([]byte, 11)
	for i := range out {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		if err != nil {
			return "", err
		}
		out[i] = letters[n.Int64()]
	}
	return string(out), nil
}

func (h *Handler) Register(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(req.Email); err != nil {
		common.Fail(c, http.StatusBadRequest, 10002, "valid email required")
		return
	}
	if len(req.Password) < minPasswordLen {
		common.Fail(c, http.StatusBadRequest, 10003, "password must be at least 8 characters")
		return
	}
	if req.Role == "" {
		req.Role = models.RoleLearner
	}
	if !req.Role.Valid() {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid role")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20002, "failed to hash password")
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" {
		username, err = h.allocateUsername(c)
		if err != nil {
			h.Logger.Error("allocate username failed", zap.Error(err))
			common.Fail(c, http.StatusInternalServerError, 20006, "failed to allocate username")
			return
		}
	}

	user := models.User{
		Email:        req.Email,
		Username:     username,
		Role:         req.Role,
		PasswordHash: hash,
	}
	if err := h.DB.WithContext(c.Request.Context()).Create(&user).Error; err != nil {
		common.Fail(c, http.StatusConflict, 40901, "email or username already registered")
		return
	}

	if !h.issueSession(c, user.ID) {
		return
	}
	common.OK(c, user)
}

func (h *Handler) allocateUsername(c *gin.Context) (string, error) {
	for i := 0; i < 5; i++ {
		u, err := randomUsername11()
		if err != nil {
			return "", err
		}
		var cnt int64
		if err := h.DB.WithContext(c.Request.Context()).
			Model(&models.User{}).Where("username = ?", u).Count(&cnt).Error; err != nil {
			return "", err
		}
		if cnt == 0 {
			return u, nil
		}
	}
	return "", errors.New("no free username after 5 attempts")
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "email and password required")
		return
	}

	var user models.User
	if err := h.DB.WithContext(c.Request.Context()).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusUnauthorized, 40103, "invalid email or password")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		common.Fail(c, http.StatusUnauthorized, 40103, "invalid email or password")
		return
	}

	if !h.issueSession(c, user.ID) {
		return
	}
	common.OK(c, user)
}

// issueSession signs a token and stores it in the HttpOnly session cookie.
func (h *Handler) issueSession(c *gin.Context, userID uint64) bool {
	token, err := auth.SignJWT(userID, h.Cfg.JWTSecret, h.Cfg.TokenTTL)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20003, "failed to sign token")
		return false
	}
	c.SetSameSite(h.Cfg.SessionSameSite())
	c.SetCookie(h.Cfg.CookieName, token, int(h.Cfg.TokenTTL.Seconds()), "/", "", h.Cfg.SessionCookieSecure(), true)
	return true
}

func (h *Handler) Logout(c *gin.Context) {
	c.SetSameSite(h.Cfg.SessionSameSite())
	c.SetCookie(h.Cfg.CookieName, "", -1, "/", "", h.Cfg.SessionCookieSecure(), true)
	common.OK(c, nil)
}

func (h *Handler) Me(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var user models.User
	if err := h.DB.WithContext(c.Request.Context()).First(&user, uid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "user not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, user)
}
