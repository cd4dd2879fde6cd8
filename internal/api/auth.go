package api

import (
	"crypto/subtle"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	deviceIDKey   = "DeviceID"
	deviceNameKey = "DeviceName"
)

// DeviceClaims identifies the app install holding the token.
type DeviceClaims struct {
	DeviceName string `json:"device_name"`
	jwt.RegisteredClaims
}

func generateToken(deviceID, deviceName, secret string, expiresAt time.Time) (string, error) {
	claims := DeviceClaims{
		DeviceName: deviceName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   deviceID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parseToken(tokenStr, secret string) (*DeviceClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &DeviceClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*DeviceClaims); ok && token.Valid && claims.Subject != "" {
		return claims, nil
	}
	return nil, errors.New("invalid token claims")
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// AuthMiddleware enforces JWT auth for protected routes.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "MISSING_TOKEN",
				"error": "missing Authorization header",
			})
			return
		}
		tokenStr, ok := bearerToken(authHeader)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_AUTH_HEADER",
				"error": "invalid Authorization header",
			})
			return
		}

		claims, err := parseToken(tokenStr, secret)
		if err != nil {
			log.Printf("[AUTH] token rejected: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_TOKEN",
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(deviceIDKey, claims.Subject)
		c.Set(deviceNameKey, claims.DeviceName)
		c.Next()
	}
}

// CurrentDeviceID returns the authenticated device ID from context.
func CurrentDeviceID(c *gin.Context) string {
	return c.GetString(deviceIDKey)
}

type loginRequest struct {
	DeviceID   string `json:"device_id" binding:"required"`
	DeviceName string `json:"device_name"`
	AppSecret  string `json:"app_secret" binding:"required"`
}

type refreshRequest struct {
	Token string `json:"token" binding:"required"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

// login exchanges the shared app secret for a device token.
func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "device_id and app_secret are required")
		return
	}
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	if s.opts.AppSecret == "" || subtle.ConstantTimeCompare([]byte(req.AppSecret), []byte(s.opts.AppSecret)) != 1 {
		log.Printf("[AUTH] invalid app secret from device %s", req.DeviceID)
		respondError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials")
		return
	}
	s.issueToken(c, req.DeviceID, req.DeviceName)
	log.Printf("[AUTH] login ok for device %q", req.DeviceName)
}

// refresh trades a still-valid token for a fresh one.
func (s *Server) refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "token is required")
		return
	}
	claims, err := parseToken(req.Token, s.opts.JWTSecret)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "INVALID_TOKEN", "invalid token")
		return
	}
	s.issueToken(c, claims.Subject, claims.DeviceName)
}

func (s *Server) issueToken(c *gin.Context, deviceID, deviceName string) {
	token, err := generateToken(deviceID, deviceName, s.opts.JWTSecret, time.Now().Add(s.opts.JWTExpiry))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to create token")
		return
	}
	c.JSON(http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresIn: int64(s.opts.JWTExpiry / time.Second),
	})
}
