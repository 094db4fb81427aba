//go:build integration

package integration

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"testing"
	"time"

	"github.com/celerway/rosmqttbridge/bridge"
	"github.com/celerway/rosmqttbridge/log"
	paho "github.com/eclipse/paho.mqtt.golang"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

type counters struct {
	mqttReceived     int
	rosPublished     int
	schemaViolations int
	unknownTopic     int
}

func verifyCounter(t *testing.T, mf map[string]*dto.MetricFamily, name string, expected int) {
	t.Helper()
	family, ok := mf[name]
	if !ok {
		t.Errorf("Counter %s not exported", name)
		return
	}
	value := family.Metric[0].GetCounter().GetValue()
	if int(value) != expected {
		t.Errorf("Observed counter %s mismatch, expected %d, got %d (%f)",
			name, expected, int(value), value)
	}
}

func verifyObsdata(t *testing.T, port int, want counters) {
	t.Helper()
	url := fmt.Sprintf("http://localhost:%d/metrics", port)
	log.Debugf("Querying metrics on %s", url)
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("Could not get metrics (%s): %s", url, err)
	}
	defer resp.Body.Close()
	var parser expfmt.TextParser
	mf, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		t.Fatalf("TextToMetricFamilies failed: %s", err)
	}
	verifyCounter(t, mf, "mqtt_received", want.mqttReceived)
	verifyCounter(t, mf, "ros_published", want.rosPublished)
	verifyCounter(t, mf, "schema_violations", want.schemaViolations)
	verifyCounter(t, mf, "unknown_topic", want.unknownTopic)
}

func makeConfig(mqttPort, healthPort int) bridge.Params {
	return bridge.Params{
		MqttBroker:          "localhost",
		MqttPort:            mqttPort,
		MqttTls:             false,
		MqttClientId:        "rosmqttbridge-" + getRandomString(8),
		RosNamespace:        "integration",
		MiddlewareTransport: "loopback",
		HealthPort:          healthPort,
		LogLevel:            log.DebugLevel,
		GracePeriod:         2 * time.Second,
	}
}

func waitForBridge(t *testing.T, port int) {
	t.Helper()
	url := fmt.Sprintf("http://localhost:%d/healthz", port)
	log.Debugf("Waiting for bridge to come up on %s", url)
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				log.Debug("Bridge OK.")
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("bridge never became healthy on %s", url)
}

// waitForCounter polls /metrics until name reaches at least want.
func waitForCounter(t *testing.T, port int, name string, want int) {
	t.Helper()
	url := fmt.Sprintf("http://localhost:%d/metrics", port)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			var parser expfmt.TextParser
			mf, perr := parser.TextToMetricFamilies(resp.Body)
			_ = resp.Body.Close()
			if perr == nil {
				if f, ok := mf[name]; ok && int(f.Metric[0].GetCounter().GetValue()) >= want {
					return
				}
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("counter %s never reached %d", name, want)
}

// Random high port; collisions are unlikely enough for a test run.
func getRandomPort() int {
	return rand.Intn(10000) + 50000
}

func getRandomString(length int) string {
	var letters = []rune("0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
	b := make([]rune, length)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}

func getMqttClient(t *testing.T, port int) paho.Client {
	t.Helper()
	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://localhost:%d", port))
	opts.SetClientID("go_mqtt_client_" + getRandomString(6))
	opts.SetOrderMatters(true)
	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		t.Fatalf("connecting test client: %s", token.Error())
	}
	return client
}

func publishMqtt(t *testing.T, client paho.Client, topic string, payloads ...string) {
	t.Helper()
	for i, p := range payloads {
		token := client.Publish(topic, 1, false, []byte(p))
		if !token.WaitTimeout(2*time.Second) || token.Error() != nil {
			t.Fatalf("publishing message %d on %s: %v", i, topic, token.Error())
		}
		log.Tracef("Published message %d on MQTT", i)
	}
}

func runBridge(ctx context.Context, params bridge.Params) <-chan error {
	result := make(chan error, 1)
	go func() {
		result <- bridge.Run(ctx, params)
	}()
	return result
}
