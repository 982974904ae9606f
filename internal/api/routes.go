// routes.go - Route registration
package api

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// RegisterRoutes registers the control API. A nil gatherer leaves /metrics
// out.
func RegisterRoutes(e *echo.Echo, h *Handler, gatherer prometheus.Gatherer) {
	e.GET("/api/health", h.HandleHealth)

	e.POST("/api/connect", h.HandleConnect)
	e.POST("/api/disconnect", h.HandleDisconnect)
	e.GET("/api/identity", h.HandleIdentity)
	e.POST("/api/settings", h.HandleApplySettings)
	e.POST("/api/output", h.HandleOutput)
	e.GET("/api/measure", h.HandleMeasure)

	logging := e.Group("/api/logging")
	logging.GET("", h.HandleLoggingStatus)
	logging.POST("/start", h.HandleStartLogging)
	logging.POST("/stop", h.HandleStopLogging)

	e.GET("/api/samples/latest", h.HandleLatestSample)
	e.GET("/api/ws/samples", h.HandleSampleStream)

	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}

// SetupMiddleware installs the error handler, panic recovery and request
// logging.
func SetupMiddleware(e *echo.Echo, log logrus.FieldLogger) {
	e.HTTPErrorHandler = ErrorHandler
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := log.WithFields(logrus.Fields{
				"method": v.Method,
				"uri":    v.URI,
				"status": v.Status,
			})
			if v.Error != nil {
				entry.WithField("error", v.Error).Warn("request failed")
				return nil
			}
			entry.Debug("request")
			return nil
		},
	}))
}

// NewServer returns an echo instance with middleware and routes installed.
func NewServer(h *Handler, gatherer prometheus.Gatherer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	SetupMiddleware(e, h.log)
	RegisterRoutes(e, h, gatherer)
	return e
}
