package main

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/fuelcart/vouch/platform"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
)

const webhookSecretHeader = "X-Vouch-Secret"

// Webhook accepts platform events pushed over HTTP.
type Webhook struct {
	secret     string
	dispatcher *Dispatcher
	logger     *slog.Logger
}

func NewWebhook(secret string, disp *Dispatcher, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		secret:     secret,
		dispatcher: disp,
		logger:     logger.With("component", "webhook"),
	}
}

type GenericError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (wh *Webhook) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(slogecho.New(wh.logger))
	e.Use(middleware.Recover())
	e.Use(echoprometheus.NewMiddleware("vouchd"))
	e.Use(middleware.BodyLimit("1M"))
	e.HTTPErrorHandler = wh.errorHandler

	e.GET("/_health", wh.HandleHealthCheck)
	e.POST("/events", wh.HandleEvent)
	return e
}

func (wh *Webhook) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	var errorMessage string
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		errorMessage = fmt.Sprintf("%s", he.Message)
	}
	if code >= 500 {
		wh.logger.Warn("vouchd-http-internal-error", "err", err)
	}
	if !c.Response().Committed {
		c.JSON(code, GenericError{Error: http.StatusText(code), Message: errorMessage})
	}
}

func (wh *Webhook) HandleHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (wh *Webhook) HandleEvent(c echo.Context) error {
	got := c.Request().Header.Get(webhookSecretHeader)
	if wh.secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(wh.secret)) != 1 {
		eventsRejected.WithLabelValues("webhook", "auth").Inc()
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing secret")
	}

	var evt platform.Event
	if err := c.Bind(&evt); err != nil {
		eventsRejected.WithLabelValues("webhook", "decode").Inc()
		return echo.NewHTTPError(http.StatusBadRequest, "invalid event body")
	}
	if err := validateEvent(&evt); err != nil {
		eventsRejected.WithLabelValues("webhook", "invalid").Inc()
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := wh.dispatcher.Submit(c.Request().Context(), &evt, "webhook"); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event not accepted")
	}
	return c.NoContent(http.StatusAccepted)
}

// validateEvent checks that the payload matching the event type is present.
func validateEvent(evt *platform.Event) error {
	switch evt.Type {
	case platform.EventMessageCreated:
		if evt.Message == nil {
			return errors.New("message_created event without message")
		}
	case platform.EventInteraction:
		if evt.Interaction == nil {
			return errors.New("interaction event without interaction")
		}
	default:
		return fmt.Errorf("unsupported event type %q", evt.Type)
	}
	return nil
}
