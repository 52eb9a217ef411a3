package metrics

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"isc.org/leasekeeper/dhcpclient"
)

// Collects the metrics of the DHCP clients. It observes the client
// notifications and the events dropped by the event bridge.
type Collector struct {
	metrics *metrics
	mutex   sync.Mutex
	bound   map[*dhcpclient.Client]bool
	server  *http.Server
	wg      sync.WaitGroup
}

var _ dhcpclient.Observer = (*Collector)(nil)

// Creates the metrics collector.
func NewCollector() *Collector {
	return &Collector{
		metrics: newMetrics(),
		bound:   make(map[*dhcpclient.Client]bool),
	}
}

// Updates the metrics on the client notification.
func (c *Collector) OnNotification(notification dhcpclient.Notification) {
	client := notification.Client
	family := strconv.Itoa(int(client.Family()))

	switch notification.Kind {
	case dhcpclient.NotificationPrefixDelegated:
		c.metrics.PrefixDelegatedTotal.With(prometheus.Labels{"interface": client.Interface()}).Inc()
		return
	case dhcpclient.NotificationStateChanged:
		c.metrics.StateTransitionTotal.With(prometheus.Labels{
			"backend": client.BackendName(),
			"family":  family,
			"state":   notification.State.String(),
		}).Inc()
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	wasBound := c.bound[client]
	isBound := notification.State == dhcpclient.StateBound
	switch {
	case isBound && !wasBound:
		c.metrics.BoundLeases.With(prometheus.Labels{"family": family}).Inc()
	case !isBound && wasBound:
		c.metrics.BoundLeases.With(prometheus.Labels{"family": family}).Dec()
	}
	if isBound {
		c.bound[client] = true
	} else {
		delete(c.bound, client)
	}
	if notification.State == dhcpclient.StateTerminated {
		c.metrics.ClientTotal.Dec()
	}
}

// Counts the started client.
func (c *Collector) OnClientStarted() {
	c.metrics.ClientTotal.Inc()
}

// Counts the dropped event.
func (c *Collector) OnEventDropped(iface string, reason dhcpclient.DropReason) {
	c.metrics.EventDroppedTotal.With(prometheus.Labels{"reason": string(reason)}).Inc()
}

// Returns the registry holding the metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.metrics.Registry
}

// Creates the standard Prometheus HTTP handler.
func (c *Collector) GetHTTPHandler() http.Handler {
	return promhttp.HandlerFor(c.metrics.Registry, promhttp.HandlerOpts{
		ErrorLog: log.StandardLogger(),
	})
}

// Starts the HTTP server exposing the metrics on the /metrics endpoint.
func (c *Collector) Start(address string, port int) (net.Addr, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.GetHTTPHandler())

	listener, err := net.Listen("tcp", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot listen for metrics requests on %s:%d", address, port)
	}
	c.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.WithField("address", listener.Addr()).Info("Metrics endpoint listening")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Problem serving the metrics")
		}
	}()
	return listener.Addr(), nil
}

// Stops the HTTP server and unregisters all metrics.
func (c *Collector) Shutdown() {
	if c.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.server.SetKeepAlivesEnabled(false)
		if err := c.server.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("Cannot shut down the metrics server")
		}
		c.wg.Wait()
		c.server = nil
	}
	c.metrics.UnregisterAll()
}
