package api

import (
	"errors"
	"net/http"

	"btc-grid-core/internal/notify"

	"github.com/gin-gonic/gin"
)

type registerDeviceRequest struct {
	DeviceToken string `json:"device_token" binding:"required"`
	Platform    string `json:"platform" binding:"required"`
}

type unregisterDeviceRequest struct {
	DeviceToken string `json:"device_token" binding:"required"`
}

func (s *Server) registerDevice(c *gin.Context) {
	if s.Tokens == nil {
		respondError(c, http.StatusServiceUnavailable, "NOTIFICATIONS_UNAVAILABLE", "notifications not configured")
		return
	}
	var req registerDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "device_token and platform are required")
		return
	}
	err := s.Tokens.Register(c.Request.Context(), CurrentDeviceID(c), c.GetString(deviceNameKey), req.DeviceToken, req.Platform, useProduction(c))
	switch {
	case errors.Is(err, notify.ErrUnsupportedPlatform):
		respondError(c, http.StatusBadRequest, "UNSUPPORTED_PLATFORM", err.Error())
		return
	case err != nil:
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Device registered for notifications",
	})
}

func (s *Server) unregisterDevice(c *gin.Context) {
	if s.Tokens == nil {
		respondError(c, http.StatusServiceUnavailable, "NOTIFICATIONS_UNAVAILABLE", "notifications not configured")
		return
	}
	var req unregisterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "device_token is required")
		return
	}
	if err := s.Tokens.Unregister(c.Request.Context(), CurrentDeviceID(c), req.DeviceToken); err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Device unregistered",
	})
}

func (s *Server) sendTestNotification(c *gin.Context) {
	if s.Notifier == nil {
		respondError(c, http.StatusServiceUnavailable, "NOTIFICATIONS_UNAVAILABLE", "notifications not configured")
		return
	}
	if err := s.Notifier.SendTest(c.Request.Context()); err != nil {
		respondError(c, http.StatusBadGateway, "DELIVERY_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Test notification sent",
	})
}
