// Package host runs processors: an HTTP trigger that executes a processor
// per request, and a worker pool that drains an input queue. Both resolve
// the tenant from the inbound envelope and forward output messages through
// the queue layer.
package host

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/evocrestco/api-exchange-core-sub000/common"
	"github.com/evocrestco/api-exchange-core-sub000/message"
	"github.com/evocrestco/api-exchange-core-sub000/processor"
	"github.com/evocrestco/api-exchange-core-sub000/queue"
	"github.com/evocrestco/api-exchange-core-sub000/tenant"
	"github.com/evocrestco/api-exchange-core-sub000/version"
)

// ServerConfig configures the trigger HTTP server.
type ServerConfig struct {
	Port            int
	Debug           bool
	BodyLimit       string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:            8080,
		Debug:           false,
		BodyLimit:       "10M",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// NewEchoServer creates an Echo server with the standard middleware stack.
func NewEchoServer(config ServerConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Debug = config.Debug

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${time_rfc3339}] ${status} ${method} ${uri} (${latency_human})\n",
	}))
	e.Use(middleware.Recover())
	if config.BodyLimit != "" {
		e.Use(middleware.BodyLimit(config.BodyLimit))
	}
	e.Use(middleware.RequestID())
	return e
}

// HTTPTrigger executes a processor per HTTP request. The request body is a
// message envelope; the response body is the processing result.
//
// Status codes:
//   - 200: processed successfully
//   - 400: the body is not a valid envelope
//   - 422: processing failed and a retry will not help
//   - 503: processing failed transiently, Retry-After carries the backoff
type HTTPTrigger struct {
	handler *processor.Handler
	router  *queue.OutputRouter
	logger  *common.ContextLogger
}

// NewHTTPTrigger builds a trigger. router may be nil when the processor is
// terminal and produces no output messages.
func NewHTTPTrigger(handler *processor.Handler, router *queue.OutputRouter, logger *common.ContextLogger) *HTTPTrigger {
	if logger == nil {
		logger = common.FrameworkLogger("host")
	}
	return &HTTPTrigger{handler: handler, router: router, logger: logger}
}

// Register mounts the trigger routes.
func (t *HTTPTrigger) Register(e *echo.Echo) {
	e.POST("/process", t.handleProcess)
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"build":  version.Current(),
		})
	})
}

func (t *HTTPTrigger) handleProcess(c echo.Context) error {
	var envelope map[string]interface{}
	if err := c.Bind(&envelope); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "request body is not a JSON object",
		})
	}

	msg, err := message.FromMap(envelope)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	}

	ctx := c.Request().Context()
	if msg.EntityReference.TenantID != "" {
		ctx, err = tenant.WithTenantID(ctx, msg.EntityReference.TenantID)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
		}
	}

	result := t.handler.Execute(ctx, msg)

	if result.Success && t.router != nil {
		if err := t.router.RouteResult(ctx, result); err != nil {
			t.logger.WithError(err).Error("failed to route output messages")
			return c.JSON(http.StatusBadGateway, result)
		}
	}

	switch {
	case result.Success:
		return c.JSON(http.StatusOK, result)
	case result.CanRetry:
		c.Response().Header().Set("Retry-After", strconv.Itoa(result.RetryAfterSeconds))
		return c.JSON(http.StatusServiceUnavailable, result)
	default:
		return c.JSON(http.StatusUnprocessableEntity, result)
	}
}
