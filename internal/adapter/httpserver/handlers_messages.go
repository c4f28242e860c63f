package httpserver

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nseguin42/chatserver/internal/domain"
	apperrors "github.com/nseguin42/chatserver/internal/errors"
)

func (s *Server) registerMessageRoutes() {
	s.echo.GET("/", s.handleIndex("Main index"))
	s.echo.GET("/channel/", s.handleIndex("Channel index"))
	s.echo.GET("/channel/:channel", s.handleChannel)
	s.echo.GET("/user/:username", s.handleUser)
	s.echo.GET("/message", s.handleIndex("Messages index"))
	s.echo.GET("/messages/", s.handleIndex("Messages index"))
	s.echo.POST("/messages/echo", s.handleEcho)
	s.echo.POST("/message", s.handlePostMessage, newRateLimiter(s.config.PostRateLimit, s.config.PostRateBurst))
}

func (s *Server) handleIndex(body string) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := c.String(http.StatusOK, body); err != nil {
			return fmt.Errorf("failed to send index response: %w", err)
		}
		return nil
	}
}

func (s *Server) handleChannel(c echo.Context) error {
	channel := c.Param("channel")

	messages, err := s.app.ChannelHistory(c.Request().Context(), channel)
	if err != nil {
		return wrapRepoError(err, "failed to load channel history").WithContext("channel", channel)
	}

	if err := c.JSON(http.StatusOK, messages); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleUser(c echo.Context) error {
	username := c.Param("username")

	messages, err := s.app.UserMessages(c.Request().Context(), username)
	if err != nil {
		return wrapRepoError(err, "failed to load user messages").WithContext("username", username)
	}

	if err := c.JSON(http.StatusOK, messages); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handlePostMessage(c echo.Context) error {
	var msg domain.Message
	if err := c.Bind(&msg); err != nil {
		return apperrors.ValidationError("invalid message body")
	}

	stored, err := s.app.PostMessage(c.Request().Context(), msg)
	if err != nil {
		return wrapRepoError(err, "failed to store message").WithContext("channel", msg.Channel)
	}

	if err := c.JSON(http.StatusCreated, stored); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleEcho(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return apperrors.ValidationError("failed to read request body")
	}

	contentType := c.Request().Header.Get(echo.HeaderContentType)
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	if err := c.Blob(http.StatusOK, contentType, body); err != nil {
		return fmt.Errorf("failed to send echo response: %w", err)
	}
	return nil
}

// wrapRepoError keeps structured errors as they are and wraps anything else
// (e.g. domain.ErrNotConnected) as a database error.
func wrapRepoError(err error, message string) *apperrors.Error {
	var structured *apperrors.Error
	if errors.As(err, &structured) {
		return structured
	}
	return apperrors.DatabaseError(message, err)
}
