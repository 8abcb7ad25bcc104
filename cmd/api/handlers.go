package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/Jishnu-21/chat-app/internal/auth"
	"github.com/Jishnu-21/chat-app/internal/data"
	appmw "github.com/Jishnu-21/chat-app/internal/middleware"
)

// credentialsRequest is the body of both register and login.
type credentialsRequest struct {
	Username string `json:"username" validate:"required,min=3,max=30"`
	Password string `json:"password" validate:"required,min=8"`
}

type userResponse struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	Status    string     `json:"status"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

type authResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      userResponse `json:"user"`
}

type messageResponse struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	Timestamp time.Time `json:"timestamp"`
}

type chatResponse struct {
	UserID        string    `json:"userId"`
	LastMessage   string    `json:"lastMessage"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	Unread        int64     `json:"unread"`
}

// toUserResponse maps a user document to its API shape. The live parameter
// overrides the stored status: broadcast presence is derived from the hub,
// the document only remembers the last transition.
func toUserResponse(u *data.User, live bool) userResponse {
	resp := userResponse{
		ID:        u.ID.Hex(),
		Username:  u.Username,
		Status:    data.StatusOffline,
		CreatedAt: u.CreatedAt,
	}
	if live {
		resp.Status = data.StatusOnline
	} else if !u.LastSeen.IsZero() {
		ls := u.LastSeen
		resp.LastSeen = &ls
	}
	return resp
}

// handleRegister creates a user account: hashes the password, stores the
// user, and returns a JWT token so the client can connect immediately.
func (s *Server) handleRegister(c echo.Context) error {
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("password hashing failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create user")
	}

	user, err := s.users.CreateUser(c.Request().Context(), req.Username, hashed)
	if err != nil {
		if errors.Is(err, data.ErrUserExists) {
			return echo.NewHTTPError(http.StatusConflict, "username already taken")
		}
		s.logger.Error("create user failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create user")
	}

	token, expiresAt, err := s.auth.GenerateToken(user.ID, user.Username)
	if err != nil {
		s.logger.Error("token generation failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to generate token")
	}

	return c.JSON(http.StatusCreated, authResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      toUserResponse(user, false),
	})
}

// handleLogin authenticates a user and returns a JWT token.
func (s *Server) handleLogin(c echo.Context) error {
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	user, err := s.users.GetUserByUsername(c.Request().Context(), req.Username)
	if err != nil {
		if errors.Is(err, data.ErrUserNotFound) {
			// Same response as a bad password so the endpoint does not
			// reveal which usernames exist.
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
		}
		s.logger.Error("login lookup failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "login failed")
	}

	if err := auth.CheckPassword(user.Password, req.Password); err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}

	token, expiresAt, err := s.auth.GenerateToken(user.ID, user.Username)
	if err != nil {
		s.logger.Error("token generation failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to generate token")
	}

	return c.JSON(http.StatusOK, authResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      toUserResponse(user, s.hub.IsOnline(user.ID.Hex())),
	})
}

// handleListUsers returns every other user with their current presence.
func (s *Server) handleListUsers(c echo.Context) error {
	_, callerID, err := s.callerID(c)
	if err != nil {
		return err
	}

	users, err := s.users.ListUsers(c.Request().Context(), callerID)
	if err != nil {
		s.logger.Error("list users failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list users")
	}

	resp := make([]userResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, toUserResponse(u, s.hub.IsOnline(u.ID.Hex())))
	}
	return c.JSON(http.StatusOK, resp)
}

// handleGetConversation returns the message history with another user,
// oldest first.
func (s *Server) handleGetConversation(c echo.Context) error {
	_, callerID, err := s.callerID(c)
	if err != nil {
		return err
	}

	otherID, err := bson.ObjectIDFromHex(c.Param("userId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}

	limit := int64(100)
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			limit = n
		}
	}

	msgs, err := s.msgs.GetConversation(c.Request().Context(), callerID, otherID, limit)
	if err != nil {
		s.logger.Error("conversation lookup failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load messages")
	}

	resp := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, messageResponse{
			ID:        m.ID.Hex(),
			From:      m.FromID.Hex(),
			To:        m.ToID.Hex(),
			Message:   m.Content,
			Read:      m.Read,
			Timestamp: m.SentAt,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// handleMarkRead flips the read flag on every unread message the other user
// has sent to the caller.
func (s *Server) handleMarkRead(c echo.Context) error {
	_, callerID, err := s.callerID(c)
	if err != nil {
		return err
	}

	otherID, err := bson.ObjectIDFromHex(c.Param("userId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}

	updated, err := s.msgs.MarkRead(c.Request().Context(), callerID, otherID)
	if err != nil {
		s.logger.Error("mark read failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to mark messages read")
	}

	return c.JSON(http.StatusOK, map[string]int64{"updated": updated})
}

// handleRecentChats returns the caller's conversation partners, most
// recently active first.
func (s *Server) handleRecentChats(c echo.Context) error {
	_, callerID, err := s.callerID(c)
	if err != nil {
		return err
	}

	limit := int64(50)
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			limit = n
		}
	}

	partners, err := s.msgs.GetRecentChats(c.Request().Context(), callerID, limit)
	if err != nil {
		s.logger.Error("recent chats lookup failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load chats")
	}

	resp := make([]chatResponse, 0, len(partners))
	for _, p := range partners {
		resp = append(resp, chatResponse{
			UserID:        p.UserID.Hex(),
			LastMessage:   p.LastMessage,
			LastMessageAt: p.LastMessageTime,
			Unread:        p.UnreadCount,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// callerID extracts the authenticated user's claims and ObjectID from the
// context populated by the auth middleware.
func (s *Server) callerID(c echo.Context) (*auth.Claims, bson.ObjectID, error) {
	claims, ok := appmw.GetClaims(c)
	if !ok {
		return nil, bson.ObjectID{}, echo.NewHTTPError(http.StatusUnauthorized, "missing auth claims")
	}
	id, err := bson.ObjectIDFromHex(claims.UserID)
	if err != nil {
		return nil, bson.ObjectID{}, echo.NewHTTPError(http.StatusUnauthorized, "invalid subject id")
	}
	return claims, id, nil
}
