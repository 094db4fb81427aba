package main

import (
	"context"
	"flag"
	"os"
	"strconv"
	"strings"

	"github.com/celerway/rosmqttbridge/bridge"
	"github.com/celerway/rosmqttbridge/log"
	"github.com/joho/godotenv"
)

func setOptionStr(paramPtr *string, defaultValue, name, env string, mandatory bool) (string, bool) {
	var ret string
	if *paramPtr == "" {
		ret = os.Getenv(env)
	} else {
		ret = *paramPtr
	}
	if ret == "" {
		ret = defaultValue
	}
	if ret == "" && mandatory {
		log.Errorf("Mandatory option %s not given in ENV{%s} or by flag", name, env)
		return "", false
	}
	log.Debugf("Option '%s' set to '%s'", name, ret)
	return ret, true
}

func setOptionInt(paramPtr *int, defaultValue int, name, env string) (int, bool) {
	var ret int
	var err error
	if *paramPtr == 0 {
		val, ok := os.LookupEnv(env)
		if ok {
			ret, err = strconv.Atoi(val)
			if err != nil {
				log.Errorf("Could not make sense of ENV{%s}: %s", env, val)
				return 0, false
			}
		}
	} else {
		ret = *paramPtr
	}
	if ret == 0 {
		ret = defaultValue
	}
	if ret == 0 {
		log.Errorf("Mandatory option %s not given in ENV{%s} or by flag", name, env)
		return 0, false
	}
	log.Debugf("Option '%s' set to %d", name, ret)
	return ret, true
}

func setOptionBool(paramPtr *bool, defaultValue bool, name, env string) bool {
	var ret bool
	if !*paramPtr {
		val, ok := os.LookupEnv(env)
		if ok && strings.ToUpper(val) == "TRUE" {
			ret = true
		}
	} else {
		ret = *paramPtr
	}
	if !ret {
		ret = defaultValue
	}
	log.Debugf("Option '%s' is set to '%v'", name, ret)
	return ret
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	os.Exit(run())
}

// run returns the exit code: 0 after a clean shutdown, 1 on any error.
func run() int {
	err := godotenv.Load()
	log.Info("rosmqttbridge starting up.")
	if err != nil {
		log.Infof("Error loading .env file, assuming production: %s", err.Error())
	}

	logLevelPtr := flag.String("loglevel", "", "Log level (trace|debug|info|warn|error)")
	namespacePtr := flag.String("ros-namespace", "", "ROS namespace for the bridge node")
	caRootCertFilePtr := flag.String("ca", "", "Path to root CA certificate (pubkey)")
	caClientCertFilePtr := flag.String("client-cert", "", "Path to client cert (pubkey)")
	caClientKeyFilePtr := flag.String("client-key", "", "Path to client key (privkey)")
	noTlsPtr := flag.Bool("mqtt-no-tls", false, "Disable TLS")
	mqttBrokerPtr := flag.String("mqtt-broker", "", "What MQTT broker to use")
	mqttPortPtr := flag.Int("mqtt-port", 0, "Mqtt port to use.")
	mqttClientIdPtr := flag.String("mqtt-client-id", "", "MQTT client id")
	transportPtr := flag.String("middleware-transport", "", "How to reach the middleware (kafka|loopback)")
	kafkaBrokersPtr := flag.String("kafka-brokers", "", "Comma separated list of kafka brokers (host:port)")
	kafkaPrefixPtr := flag.String("kafka-topic-prefix", "", "Prefix for the gateway's kafka topics")
	healthPortPtr := flag.Int("health-port", 0, "Port for /healthz and /metrics")
	flag.Parse()

	logLevelStr, _ := setOptionStr(logLevelPtr, "info", "log level", "LOG_LEVEL", false)
	if err := log.SetLevelFromString(logLevelStr); err != nil {
		log.Error(err)
		return 1
	}
	logLevel := log.GetLevel()

	// ROS_NAMESPACE may well be empty, which is the root namespace.
	namespace, _ := setOptionStr(namespacePtr, "", "ROS namespace", "ROS_NAMESPACE", false)

	ok := true
	optStr := func(ptr *string, def, name, env string) string {
		v, good := setOptionStr(ptr, def, name, env, true)
		ok = ok && good
		return v
	}
	optInt := func(ptr *int, def int, name, env string) int {
		v, good := setOptionInt(ptr, def, name, env)
		ok = ok && good
		return v
	}

	tls := !setOptionBool(noTlsPtr, false, "no TLS", "MQTT_NO_TLS") // Notice the logical flip.
	var caRootCertFile, caClientCertFile, caClientKeyFile string
	if tls {
		caRootCertFile = optStr(caRootCertFilePtr, "", "Root CA Cert", "ROOT_CA")
		caClientCertFile = optStr(caClientCertFilePtr, "", "Client TLS Cert", "CLIENT_CERT")
		caClientKeyFile = optStr(caClientKeyFilePtr, "", "Client TLS key", "CLIENT_KEY")
	}
	mqttBroker := optStr(mqttBrokerPtr, "", "mqtt broker", "MQTT_BROKER")
	mqttPort := optInt(mqttPortPtr, 8883, "mqtt port", "MQTT_PORT")
	hostname, _ := os.Hostname()
	mqttClientId := optStr(mqttClientIdPtr, "rosmqttbridge-"+hostname, "mqtt client id", "MQTT_CLIENT_ID")
	healthPort := optInt(healthPortPtr, 8080, "health port", "HEALTH_PORT")

	transport := optStr(transportPtr, "kafka", "middleware transport", "MIDDLEWARE_TRANSPORT")
	var kafkaBrokers []string
	var kafkaPrefix string
	switch transport {
	case "kafka":
		kafkaBrokers = splitList(optStr(kafkaBrokersPtr, "", "kafka brokers", "KAFKA_BROKERS"))
		kafkaPrefix, _ = setOptionStr(kafkaPrefixPtr, "ros.", "kafka topic prefix", "KAFKA_TOPIC_PREFIX", false)
	case "loopback":
		log.Warn("Running with a loopback middleware node, nothing reaches a robot")
	default:
		log.Errorf("Unknown middleware transport '%s'", transport)
		ok = false
	}
	if !ok {
		return 1
	}

	runConfig := bridge.Params{
		MqttBroker:          mqttBroker,
		MqttPort:            mqttPort,
		MqttTls:             tls,
		MqttClientId:        mqttClientId,
		TlsRootCrtFile:      caRootCertFile,
		MqttClientCertFile:  caClientCertFile,
		MqttClientKeyFile:   caClientKeyFile,
		RosNamespace:        namespace,
		MiddlewareTransport: transport,
		KafkaBrokers:        kafkaBrokers,
		KafkaTopicPrefix:    kafkaPrefix,
		HealthPort:          healthPort,
		LogLevel:            logLevel,
	}
	log.Debug("Starting bridge")
	if err := bridge.Run(context.Background(), runConfig); err != nil {
		log.Errorf("Bridge failed: %s", err)
		return 1
	}
	log.Info("Clean shutdown")
	return 0
}
