package observability

import (
	"context"
	"net"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/i2score/internal/errors"
	"github.com/tphakala/i2score/internal/i2s"
	"github.com/tphakala/i2score/internal/logger"
	"github.com/tphakala/i2score/internal/observability/metrics"
)

// StatusSource reports the state of one device.
type StatusSource interface {
	ID() string
	Status() i2s.DeviceStatus
}

// Endpoint serves /metrics and the device status API.
type Endpoint struct {
	echo          *echo.Echo
	listenAddress string
	metrics       *Metrics

	mu      sync.RWMutex
	devices []StatusSource
	addr    net.Addr
}

// NewEndpoint builds the HTTP routes. It does not listen until Run.
func NewEndpoint(listenAddress string, m *Metrics, devices ...StatusSource) (*Endpoint, error) {
	if listenAddress == "" {
		return nil, errors.Newf("telemetry listen address is empty").
			Component("observability").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if m == nil {
		return nil, errors.Newf("metrics registry is required").
			Component("observability").
			Category(errors.CategoryConfiguration).
			Build()
	}

	e := &Endpoint{
		echo:          echo.New(),
		listenAddress: listenAddress,
		metrics:       m,
		devices:       devices,
	}
	e.echo.HideBanner = true
	e.echo.HidePort = true

	e.echo.GET("/metrics", echo.WrapHandler(m.Handler()))
	e.echo.GET("/healthz", e.health)
	api := e.echo.Group("/api/v1")
	api.GET("/devices", e.listDevices)
	api.GET("/devices/:id", e.getDevice)
	return e, nil
}

// AddDevice makes a device visible in the status API.
func (e *Endpoint) AddDevice(d StatusSource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.devices = append(e.devices, d)
}

// Handler returns the router, for tests and embedding.
func (e *Endpoint) Handler() http.Handler {
	return e.echo
}

// Addr returns the bound address once Run is listening.
func (e *Endpoint) Addr() net.Addr {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.addr
}

// Run serves until ctx ends, then shuts the server down gracefully.
func (e *Endpoint) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", e.listenAddress)
	if err != nil {
		return errors.New(err).
			Component("observability").
			Category(errors.CategoryNetwork).
			Context("listen", e.listenAddress).
			Build()
	}
	e.mu.Lock()
	e.addr = ln.Addr()
	e.mu.Unlock()
	e.echo.Listener = ln

	errCh := make(chan error, 1)
	go func() {
		log.Info("Telemetry endpoint starting", logger.String("address", ln.Addr().String()))
		errCh <- e.echo.Start("")
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.New(err).
			Component("observability").
			Category(errors.CategoryNetwork).
			Build()
	case <-ctx.Done():
	}

	log.Info("Stopping telemetry server")
	sctx, cancel := context.WithTimeout(context.Background(), metrics.ShutdownTimeout)
	defer cancel()
	if err := e.echo.Shutdown(sctx); err != nil {
		log.Error("Telemetry server shutdown error", logger.Error(err))
		return err
	}
	<-errCh
	_ = ln.Close()
	return nil
}

func (e *Endpoint) snapshot() []i2s.DeviceStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]i2s.DeviceStatus, 0, len(e.devices))
	for _, d := range e.devices {
		out = append(out, d.Status())
	}
	return out
}

func (e *Endpoint) listDevices(c echo.Context) error {
	return c.JSON(http.StatusOK, e.snapshot())
}

func (e *Endpoint) getDevice(c echo.Context) error {
	id := c.Param("id")
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, d := range e.devices {
		if d.ID() == id {
			return c.JSON(http.StatusOK, d.Status())
		}
	}
	return echo.NewHTTPError(http.StatusNotFound, "device not found")
}

// health reports 503 when any device has failed.
func (e *Endpoint) health(c echo.Context) error {
	for _, st := range e.snapshot() {
		if st.Error != "" {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"device": st.ID,
				"error":  st.Error,
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
