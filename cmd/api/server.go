package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/Jishnu-21/chat-app/internal/auth"
	"github.com/Jishnu-21/chat-app/internal/data"
	"github.com/Jishnu-21/chat-app/internal/hub"
	appmw "github.com/Jishnu-21/chat-app/internal/middleware"
)

// UserStore is the persistence surface the server needs from the users
// collection. *data.UsersStore satisfies it; tests substitute fakes.
type UserStore interface {
	CreateUser(ctx context.Context, username, hashedPassword string) (*data.User, error)
	GetUserByUsername(ctx context.Context, username string) (*data.User, error)
	GetUserByID(ctx context.Context, id bson.ObjectID) (*data.User, error)
	UserExists(ctx context.Context, id bson.ObjectID) (bool, error)
	ListUsers(ctx context.Context, exclude bson.ObjectID) ([]*data.User, error)
	UpdateStatus(ctx context.Context, id bson.ObjectID, status string, lastSeen time.Time) error
}

// MessageStore is the persistence surface for the messages collection.
type MessageStore interface {
	SaveMessage(ctx context.Context, from, to bson.ObjectID, content string, sentAt time.Time) (*data.Message, error)
	GetConversation(ctx context.Context, a, b bson.ObjectID, limit int64) ([]*data.Message, error)
	MarkRead(ctx context.Context, to, from bson.ObjectID) (int64, error)
	GetRecentChats(ctx context.Context, userID bson.ObjectID, limit int64) ([]*data.ChatPartner, error)
}

// Server holds the handlers' dependencies: stores, auth and the connection hub.
type Server struct {
	users  UserStore
	msgs   MessageStore
	auth   *auth.JWTManager
	hub    *hub.Hub
	logger *slog.Logger
}

// newServer returns a ready-to-use Server wired with stores, auth manager
// and connection hub.
func newServer(users UserStore, msgs MessageStore, authMgr *auth.JWTManager, h *hub.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{users: users, msgs: msgs, auth: authMgr, hub: h, logger: logger}
}

// apiValidator adapts go-playground/validator to echo's Validator interface.
type apiValidator struct {
	validate *validator.Validate
}

func (v *apiValidator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// newRouter builds the echo instance with all routes registered. Register
// and login sit behind the rate limiter; everything else under /api
// requires a valid token. The websocket endpoint authenticates inside the
// handler because the credential arrives as a query parameter.
func newRouter(s *Server, limiter *appmw.LimiterStore) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &apiValidator{validate: validator.New()}

	limited := appmw.RateLimit(limiter)
	e.POST("/api/auth/register", s.handleRegister, limited)
	e.POST("/api/auth/login", s.handleLogin, limited)

	api := e.Group("/api", appmw.Auth(s.auth))
	api.GET("/users", s.handleListUsers)
	api.GET("/messages/:userId", s.handleGetConversation)
	api.PUT("/messages/:userId/read", s.handleMarkRead)
	api.GET("/chats", s.handleRecentChats)

	e.GET("/ws", s.handleWebSocket)

	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})

	return e
}
