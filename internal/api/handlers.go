package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"psu-logger/internal/model"
	"psu-logger/internal/scpi"
	"psu-logger/internal/storage"
	"psu-logger/internal/utils"
)

// Device is the session surface the handlers drive.
type Device interface {
	Connect(ctx context.Context, identifier string) (string, error)
	Disconnect() error
	Connected() bool
	Port() string
	Identify(ctx context.Context) (string, error)
	ApplySettings(ctx context.Context, st model.Settings) error
	SetOutput(ctx context.Context, state model.OutputState) error
	Measure(ctx context.Context) (model.Sample, error)
}

// Sampler is the logging loop surface the handlers drive.
type Sampler interface {
	Start(ctx context.Context, label string) error
	Stop()
	Wait()
	Running() bool
	Run() storage.RunInfo
	LastError() error
	Subscribe(buffer int) (<-chan model.Sample, func())
}

// Handler serves the control API. Runs started through it live on the
// handler's context, not on the request's.
type Handler struct {
	ctx     context.Context
	dev     Device
	loop    Sampler
	latest  *utils.SampleCache
	log     logrus.FieldLogger
	buffer  int
	version string
}

// NewHandler wires dev and loop. latest is fed by the caller (usually as an
// observer of loop); Measure calls update it too.
func NewHandler(ctx context.Context, dev Device, loop Sampler, latest *utils.SampleCache, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if latest == nil {
		latest = utils.NewSampleCache(0)
	}
	return &Handler{ctx: ctx, dev: dev, loop: loop, latest: latest, log: log, buffer: 16, version: "dev"}
}

// WithVersion sets the version reported by /api/health.
func (h *Handler) WithVersion(v string) *Handler {
	h.version = v
	return h
}

// WithBuffer sets the per-client buffer of the sample stream.
func (h *Handler) WithBuffer(n int) *Handler {
	if n > 0 {
		h.buffer = n
	}
	return h
}

// SampleView is the JSON form of a sample. Missing readings are null in the
// raw fields and 0 in Display.
type SampleView struct {
	Timestamp time.Time          `json:"timestamp"`
	Voltage   *string            `json:"voltage"`
	Current   *string            `json:"current"`
	Power     *string            `json:"power"`
	Complete  bool               `json:"complete"`
	Display   map[string]float64 `json:"display"`
}

func NewSampleView(s model.Sample) SampleView {
	return SampleView{
		Timestamp: s.Timestamp,
		Voltage:   s.Voltage.Ptr(),
		Current:   s.Current.Ptr(),
		Power:     s.Power.Ptr(),
		Complete:  s.Complete(),
		Display: map[string]float64{
			"voltage": s.Voltage.OrZero(),
			"current": s.Current.OrZero(),
			"power":   s.Power.OrZero(),
		},
	}
}

type LoggingStatus struct {
	Running   bool       `json:"running"`
	RunID     string     `json:"run_id,omitempty"`
	Label     string     `json:"label,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

func (h *Handler) loggingStatus() LoggingStatus {
	st := LoggingStatus{Running: h.loop.Running()}
	run := h.loop.Run()
	if run.RunID != "" {
		st.RunID = run.RunID
		st.Label = run.Label
		started := run.StartedAt
		st.StartedAt = &started
	}
	if err := h.loop.LastError(); err != nil {
		st.LastError = err.Error()
	}
	return st
}

func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"version":   h.version,
		"connected": h.dev.Connected(),
		"port":      h.dev.Port(),
		"logging":   h.loop.Running(),
	})
}

type connectRequest struct {
	Port string `json:"port"`
}

func (h *Handler) HandleConnect(c echo.Context) error {
	var req connectRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid connect request", err)
	}
	if h.loop.Running() {
		h.loop.Stop()
		h.loop.Wait()
	}
	idn, err := h.dev.Connect(c.Request().Context(), req.Port)
	if err != nil {
		return deviceError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"port":     h.dev.Port(),
		"identity": idn,
	})
}

// HandleDisconnect stops logging before closing the port.
func (h *Handler) HandleDisconnect(c echo.Context) error {
	h.loop.Stop()
	h.loop.Wait()
	if err := h.dev.Disconnect(); err != nil {
		h.log.WithFields(logrus.Fields{"op": "disconnect", "error": err}).Warn("close failed")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) HandleIdentity(c echo.Context) error {
	idn, err := h.dev.Identify(c.Request().Context())
	if err != nil {
		return deviceError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"identity": idn})
}

// decimalText takes a JSON string verbatim or a JSON number rendered as
// plain decimal text.
type decimalText string

func (d *decimalText) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*d = decimalText(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("want a decimal string or number, got %s", b)
	}
	*d = decimalText(scpi.FormatDecimal(f))
	return nil
}

type settingsRequest struct {
	Voltage    decimalText `json:"voltage"`
	Current    decimalText `json:"current"`
	Protection decimalText `json:"protection"`
}

func (h *Handler) HandleApplySettings(c echo.Context) error {
	var req settingsRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid settings", err)
	}
	st := model.Settings{
		Voltage:    string(req.Voltage),
		Current:    string(req.Current),
		Protection: string(req.Protection),
	}
	if err := h.dev.ApplySettings(c.Request().Context(), st); err != nil {
		return deviceError(err)
	}
	return c.JSON(http.StatusOK, st)
}

type outputRequest struct {
	State string `json:"state"`
}

func (h *Handler) HandleOutput(c echo.Context) error {
	var req outputRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid output request", err)
	}
	state, err := model.ParseOutputState(req.State)
	if err != nil {
		return NewBadRequestError("invalid output state", err)
	}
	if err := h.dev.SetOutput(c.Request().Context(), state); err != nil {
		return deviceError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"state": state.String()})
}

func (h *Handler) HandleMeasure(c echo.Context) error {
	s, err := h.dev.Measure(c.Request().Context())
	if err != nil {
		return deviceError(err)
	}
	h.latest.ObserveSample(s)
	return c.JSON(http.StatusOK, NewSampleView(s))
}

type startLoggingRequest struct {
	Signal string `json:"signal"`
}

// HandleStartLogging starts a run. Starting while a run is active returns
// the active run unchanged.
func (h *Handler) HandleStartLogging(c echo.Context) error {
	var req startLoggingRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid logging request", err)
	}
	if !h.dev.Connected() {
		return NewNotConnectedError()
	}
	if err := h.loop.Start(h.ctx, req.Signal); err != nil {
		return NewInternalError("could not start logging", err)
	}
	return c.JSON(http.StatusOK, h.loggingStatus())
}

func (h *Handler) HandleStopLogging(c echo.Context) error {
	h.loop.Stop()
	h.loop.Wait()
	return c.JSON(http.StatusOK, h.loggingStatus())
}

func (h *Handler) HandleLoggingStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.loggingStatus())
}

func (h *Handler) HandleLatestSample(c echo.Context) error {
	s, ok := h.latest.Get()
	if !ok {
		return NewNotFoundError("sample")
	}
	return c.JSON(http.StatusOK, NewSampleView(s))
}
