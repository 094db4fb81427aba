package bridge

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"runtime"
	"syscall"

	"github.com/celerway/rosmqttbridge/bridge/mqtt"
	"github.com/celerway/rosmqttbridge/bridge/observability"
	"github.com/celerway/rosmqttbridge/bridge/ros"
	"github.com/celerway/rosmqttbridge/bridge/ros/kafka"
	"github.com/celerway/rosmqttbridge/bridge/shutdown"
	"github.com/celerway/rosmqttbridge/bridge/topics"
	"github.com/celerway/rosmqttbridge/log"
)

func NewTlsConfig(caFile, clientCertFile, clientKeyFile string) (*tls.Config, error) {
	certpool := x509.NewCertPool()
	ca, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("reading root CA: %w", err)
	}
	if !certpool.AppendCertsFromPEM(ca) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}
	// Import client certificate/key pair
	clientKeyPair, err := tls.LoadX509KeyPair(clientCertFile, clientKeyFile)
	if err != nil {
		return nil, fmt.Errorf("tls.LoadX509KeyPair(%s,%s): %w", clientCertFile, clientKeyFile, err)
	}
	log.Debugf("Initialized TLS Client config with CA (%s) Client cert/key (%s/%s)",
		caFile, clientCertFile, clientKeyFile)
	return &tls.Config{
		RootCAs:      certpool,
		Certificates: []tls.Certificate{clientKeyPair},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// Run runs the bridge until SIGINT/SIGTERM or ctx is cancelled.
func Run(ctx context.Context, params Params) error {
	var tlsConfig *tls.Config
	if params.MqttTls {
		var err error
		tlsConfig, err = NewTlsConfig(params.TlsRootCrtFile, params.MqttClientCertFile, params.MqttClientKeyFile)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStartup, err)
		}
	}
	coordinator := shutdown.New()
	stop := coordinator.NotifyOnSignal(os.Interrupt, syscall.SIGTERM)
	defer stop()

	obsChannel := observability.GetChannel(100)
	obs := observability.Initialize(observability.Params{
		Channel:    obsChannel,
		HealthPort: params.HealthPort,
		LogLevel:   params.LogLevel,
	})
	// Observability outlives the actor so reports made while draining are consumed.
	obsCtx, obsCancel := context.WithCancel(context.Background())
	obsDone := make(chan struct{})
	go func() {
		defer close(obsDone)
		obs.Run(obsCtx)
	}()
	defer func() {
		obsCancel()
		<-obsDone
	}()

	actor := NewActor(ActorParams{
		Registry:      topics.Default(),
		Coordinator:   coordinator,
		NodeFactory:   nodeFactory(params),
		BrokerFactory: brokerFactory(params, tlsConfig, obsChannel),
		GracePeriod:   params.GracePeriod,
		ObsChannel:    obsChannel,
		OnStateChange: func(s State) {
			obs.SetState(int(s), s == Running)
		},
		LogLevel: params.LogLevel,
	})
	err := actor.Run(ctx)
	log.Infof("Bridge done. There are currently %d goroutines", runtime.NumGoroutine())
	return err
}

func nodeFactory(params Params) NodeFactory {
	return func(ctx context.Context) (Node, error) {
		switch params.MiddlewareTransport {
		case "kafka":
			n, err := kafka.Initialize(ctx, kafka.Params{
				Brokers:     params.KafkaBrokers,
				TopicPrefix: params.KafkaTopicPrefix,
				Namespace:   params.RosNamespace,
				LogLevel:    params.LogLevel,
			})
			if err != nil {
				return nil, err
			}
			return n, nil
		case "loopback", "":
			return ros.NewLoopbackNode(params.RosNamespace), nil
		}
		return nil, errors.New("unknown middleware transport: " + params.MiddlewareTransport)
	}
}

func brokerFactory(params Params, tlsConfig *tls.Config, obsChannel observability.Channel) BrokerFactory {
	return func(ctx context.Context) (Broker, error) {
		c, err := mqtt.Connect(ctx, mqtt.Params{
			Broker:     params.MqttBroker,
			Port:       params.MqttPort,
			Clientid:   params.MqttClientId,
			Tls:        params.MqttTls,
			TlsConfig:  tlsConfig,
			ObsChannel: obsChannel,
			LogLevel:   params.LogLevel,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}
