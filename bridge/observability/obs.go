package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/celerway/rosmqttbridge/log"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var counterOpts = map[StatusMessage]prometheus.CounterOpts{
	RosReceived:     {Name: "ros_received", Help: "Number of samples received from the middleware"},
	MqttPublished:   {Name: "mqtt_published", Help: "Number of messages published to the broker"},
	MqttReceived:    {Name: "mqtt_received", Help: "Number of received MQTT messages"},
	RosPublished:    {Name: "ros_published", Help: "Number of messages published to the middleware"},
	UnknownTopic:    {Name: "unknown_topic", Help: "Messages dropped because their topic is not bridged"},
	SchemaViolation: {Name: "schema_violations", Help: "Inbound payloads that failed schema validation"},
	ConversionError: {Name: "conversion_errors", Help: "Inbound payloads that failed conversion"},
	MqttError:       {Name: "mqtt_errors", Help: "No of errors encountered with MQTT"},
	RosError:        {Name: "ros_errors", Help: "No of errors encountered with the middleware"},
	RosDropped:      {Name: "ros_dropped", Help: "Samples discarded by keep-last history before they were forwarded"},
}

// Initialize sets up the counters in a private registry. Nothing is served until Run.
func Initialize(params Params) *Observability {
	reg := prometheus.NewRegistry()
	obs := &Observability{
		channel:    params.Channel,
		logger:     log.NewWithPrefix(os.Stdout, os.Stderr, "[observability]"),
		healthPort: params.HealthPort,
		promReg:    reg,
		counters:   make(map[StatusMessage]prometheus.Counter, len(counterOpts)),
	}
	obs.logger.SetLevel(params.LogLevel)
	for msg, opts := range counterOpts {
		obs.counters[msg] = promauto.With(reg).NewCounter(opts)
	}
	obs.state = promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Name: "bridge_state",
		Help: "Bridge state (0 starting, 1 running, 2 draining, 3 stopped)",
	})
	return obs
}

// Run consumes the status channel and serves /metrics and /healthz until ctx is done.
// The channel is drained even when the port can't be bound, so reporters never stall.
func (obs *Observability) Run(ctx context.Context) {
	obs.logger.Debug("Observability worker is running")
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", obs.healthPort))
	if err != nil {
		obs.logger.Errorf("Observability listen on port %d: %s", obs.healthPort, err)
	}
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case msg := <-obs.channel:
				obs.handleChannelMessage(msg)
			case <-ctx.Done():
				return
			}
		}
	}()
	if ln != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			obs.runHttpServer(ctx, ln) // will return when context is cancelled.
		}()
	}
	wg.Wait()
	obs.logger.Info("Observability worker is done")
}

func (obs *Observability) Router() *mux.Router {
	router := mux.NewRouter().StrictSlash(true)
	router.Handle("/metrics", promhttp.HandlerFor(obs.promReg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/healthz", obs.HealthzHandler).Methods(http.MethodGet)
	return router
}

// runHttpServer blocks until the context is cancelled.
func (obs *Observability) runHttpServer(ctx context.Context, ln net.Listener) {
	obs.logger.Infof("Observability service listening on %s", ln.Addr())
	srv := &http.Server{
		Handler:           obs.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obs.logger.Errorf("Observability service: %s", err)
		}
	}()
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		obs.logger.Errorf("Observability service shutdown error: %s", err)
	}
	wg.Wait()
}

func (obs *Observability) handleChannelMessage(msg StatusMessage) {
	obs.logger.Tracef("Observability received %s", msg)
	c, ok := obs.counters[msg]
	if !ok {
		obs.logger.Errorf("Observability: Unknown message received: %d", int(msg))
		return
	}
	c.Inc()
}

func GetChannel(size int) Channel {
	return make(Channel, size)
}

func (obs *Observability) HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	if obs.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	} else {
		w.WriteHeader(http.StatusLocked)
		_, _ = w.Write([]byte("not ready"))
	}
}

// SetState records the bridge state as a gauge and flips the health check.
func (obs *Observability) SetState(state int, ready bool) {
	obs.state.Set(float64(state))
	obs.ready.Store(ready)
}
