package observability

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	is2 "github.com/matryer/is"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const obsPort = 2000

type metricsMap map[string]float64

var metricNames = []string{"ros_received", "mqtt_published", "mqtt_received", "ros_published",
	"unknown_topic", "schema_violations", "conversion_errors", "mqtt_errors", "ros_errors", "ros_dropped", "bridge_state"}

func Test_observability_Run(t *testing.T) {
	is := is2.New(t)
	ch := make(Channel)
	obs := Initialize(Params{
		Channel:    ch,
		HealthPort: obsPort,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		obs.Run(ctx)
	}()
	time.Sleep(50 * time.Millisecond)
	metrics, err := getMetrics(obsPort)
	is.NoErr(err)
	for _, name := range metricNames {
		v, ok := metrics[name]
		is.True(ok) // metric is exported
		is.Equal(v, float64(0))
	}
	// ch is unbuffered, so a completed send means the previous message was handled.
	ch <- RosReceived
	ch <- MqttPublished
	ch <- SchemaViolation
	ch <- SchemaViolation
	ch <- MqttError
	ch <- RosDropped
	ch <- RosDropped
	ch <- RosPublished // flushes the last RosDropped
	metrics, err = getMetrics(obsPort)
	is.NoErr(err)
	is.Equal(metrics["ros_received"], float64(1))
	is.Equal(metrics["mqtt_published"], float64(1))
	is.Equal(metrics["schema_violations"], float64(2))
	is.Equal(metrics["mqtt_errors"], float64(1))
	is.Equal(metrics["ros_errors"], float64(0))
	is.Equal(metrics["ros_dropped"], float64(2))

	obs.SetState(1, true)
	metrics, err = getMetrics(obsPort)
	is.NoErr(err)
	is.Equal(metrics["bridge_state"], float64(1))
	cancel()
	wg.Wait()
}

func Test_Healthz(t *testing.T) {
	is := is2.New(t)
	obs := Initialize(Params{Channel: make(Channel)})
	srv := httptest.NewServer(obs.Router())
	defer srv.Close()

	status := func() int {
		resp, err := http.Get(srv.URL + "/healthz")
		is.NoErr(err)
		defer resp.Body.Close()
		return resp.StatusCode
	}
	is.Equal(status(), http.StatusLocked) // not ready before the bridge runs
	obs.SetState(1, true)
	is.Equal(status(), http.StatusOK)
	obs.SetState(2, false)
	is.Equal(status(), http.StatusLocked)
	obs.SetState(3, false)
	is.Equal(status(), http.StatusLocked)
}

// A taken port must not stop the counters from being fed.
func Test_RunWithoutListener(t *testing.T) {
	is := is2.New(t)
	blocker, err := net.Listen("tcp", ":0")
	is.NoErr(err)
	defer blocker.Close()
	port := blocker.Addr().(*net.TCPAddr).Port
	ch := make(Channel)
	obs := Initialize(Params{Channel: ch, HealthPort: port})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		obs.Run(ctx)
	}()
	select {
	case ch <- MqttReceived:
	case <-time.After(time.Second):
		is.Fail() // channel not consumed
	}
	cancel()
	<-done
}

func Test_StatusMessageString(t *testing.T) {
	is := is2.New(t)
	is.Equal(UnknownTopic.String(), "UnknownTopic")
	is.Equal(RosDropped.String(), "RosDropped")
	is.Equal(StatusMessage(99).String(), "Unknown")
}

// getMetrics fetches the metrics from the /metrics endpoint and returns a map of metric name to value.
func getMetrics(port int) (metricsMap, error) {
	req, err := http.NewRequest("GET", fmt.Sprintf("http://localhost:%d/metrics", port), nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	promMetrics, err := parseMF(resp.Body)
	if err != nil {
		return nil, err
	}
	metrics := make(metricsMap)
	for k, v := range promMetrics {
		switch v.GetType() {
		case dto.MetricType_GAUGE:
			metrics[k] = v.Metric[0].GetGauge().GetValue()
		default:
			metrics[k] = v.Metric[0].GetCounter().GetValue()
		}
	}
	return metrics, nil
}

func parseMF(reader io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mf, err := parser.TextToMetricFamilies(reader)
	if err != nil {
		return nil, err
	}
	return mf, nil
}
