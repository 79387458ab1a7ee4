package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
	"taskboard/storage"
	"taskboard/subscription"
)

const postUserMaxSize = 16 << 10

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps carries everything the routes need.
type Deps struct {
	Service  TaskService
	Registry *subscription.Registry
	Users    domain.UserStore
	Cache    *storage.ViewCache
	Deduper  Deduper
	Health   Pinger
	Socket   SocketConfig
	Logger   *log.Logger
}

// Register wires up all routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}
	events := &eventHandler{svc: d.Service, reg: d.Registry, dedupe: d.Deduper, logger: d.Logger}

	e.GET("/", greeting)
	e.GET("/healthz", healthz(d.Health))
	e.GET("/ws", serveSocket(events, d.Registry, d.Socket, d.Logger))
	e.GET("/api/tasks/:owner", getBoard(d.Service, d.Cache, d.Logger))
	e.POST("/user", postUser(d.Users, d.Logger))
	e.GET("/users/:email", getUser(d.Users, d.Logger))
}

type messageResponse struct {
	Success *bool  `json:"success,omitempty"`
	Message string `json:"message"`
}

func failure(msg string) messageResponse {
	f := false
	return messageResponse{Success: &f, Message: msg}
}

func greeting(c echo.Context) error {
	return c.JSON(http.StatusOK, messageResponse{Message: "taskboard is running"})
}

func healthz(p Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if p == nil {
			return c.NoContent(http.StatusOK)
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusServiceUnavailable, "store unavailable")
		}
		return c.NoContent(http.StatusOK)
	}
}

// getBoard returns an owner's grouped view, from the snapshot cache when a
// recent broadcast left one there.
func getBoard(svc TaskService, cache *storage.ViewCache, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		owner := strings.TrimSpace(c.Param("owner"))
		if owner == "" {
			return c.String(http.StatusBadRequest, "owner required")
		}
		if view, ok := cache.Load(ctx, owner); ok {
			c.Response().Header().Set("X-Cache", "hit")
			return c.JSON(http.StatusOK, view)
		}
		view, err := svc.View(ctx, owner)
		if err != nil {
			logger.WithError(err).WithField("owner", owner).Error("compose view")
			return c.String(statusFor(err), clientMessage(err))
		}
		c.Response().Header().Set("X-Cache", "miss")
		return c.JSON(http.StatusOK, view)
	}
}

type userRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	PhotoURL string `json:"photoURL"`
}

// postUser records a login: the profile is stored on first sight, later calls
// only refresh lastLogin.
func postUser(users domain.UserStore, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		lr := io.LimitReader(c.Request().Body, postUserMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()

		var req userRequest
		if err := dec.Decode(&req); err != nil {
			return c.JSON(http.StatusBadRequest, failure("invalid body"))
		}
		u := domain.UserProfile{Email: strings.TrimSpace(req.Email), Name: req.Name, PhotoURL: req.PhotoURL}
		if err := domain.ValidateUser(u); err != nil {
			return c.JSON(http.StatusBadRequest, failure(err.Error()))
		}
		if err := users.UpsertUser(c.Request().Context(), u); err != nil {
			logger.WithError(err).WithField("email", u.Email).Error("upsert user")
			return c.JSON(http.StatusInternalServerError, failure("Your data was not saved. Please try again later."))
		}
		t := true
		return c.JSON(http.StatusOK, messageResponse{Success: &t, Message: "Successfully added/updated user data in DB."})
	}
}

type userResponse struct {
	Success     bool               `json:"success"`
	UserDetails domain.UserProfile `json:"userDetails"`
}

func getUser(users domain.UserStore, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		email := strings.TrimSpace(c.Param("email"))
		u, err := users.GetUser(c.Request().Context(), email)
		if errors.Is(err, domain.ErrNotFound) {
			return c.JSON(http.StatusNotFound, messageResponse{Message: "user not found"})
		}
		if err != nil {
			logger.WithError(err).WithField("email", email).Error("get user")
			return c.JSON(http.StatusInternalServerError, failure("Something went wrong. Please try again later."))
		}
		return c.JSON(http.StatusOK, userResponse{Success: true, UserDetails: u})
	}
}

func statusFor(err error) int {
	switch domain.ErrorCode(err) {
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeStore:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
