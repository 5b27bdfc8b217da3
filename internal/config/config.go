package config

import (
	"os"
	"strconv"
	"time"
)

// AppConfig holds all application configuration
type AppConfig struct {
	// Hub connection
	BrokerAddr string
	BrokerPort string
	// GRPCPort is the port the hub listens on. Agents dial BrokerPort.
	GRPCPort string

	// Mailbox behaviour
	Backend        string
	CallbackPolicy string
	ReceiveTimeout time.Duration

	// Observability
	JaegerEndpoint      string
	TracingEnabled      bool
	MetricsTickInterval time.Duration

	// Health check ports
	BrokerHealthPort    string
	PublisherHealthPort string
	EchoAgentHealthPort string

	// Service metadata
	ServiceName    string
	ServiceVersion string
	Environment    string
	LogLevel       string
	LogFormat      string

	// Demo agents
	PublisherCount int
}

// Load loads configuration from environment variables with defaults
func Load() *AppConfig {
	return &AppConfig{
		BrokerAddr: getEnv("AGENTHUB_BROKER_ADDR", "localhost"),
		BrokerPort: getEnv("AGENTHUB_BROKER_PORT", "50051"),
		GRPCPort:   getEnv("AGENTHUB_GRPC_PORT", getEnv("AGENTHUB_BROKER_PORT", "50051")),

		Backend:        getEnv("A2A_BACKEND", "inmemory"),
		CallbackPolicy: getEnv("A2A_CALLBACK_POLICY", "propagate"),
		ReceiveTimeout: getEnvAsDuration("A2A_RECEIVE_TIMEOUT", time.Second),

		JaegerEndpoint:      getEnv("JAEGER_ENDPOINT", "127.0.0.1:4317"),
		TracingEnabled:      getEnvAsBool("TRACING_ENABLED", true),
		MetricsTickInterval: getEnvAsDuration("METRICS_TICK_INTERVAL", 10*time.Second),

		BrokerHealthPort:    getEnv("BROKER_HEALTH_PORT", "8080"),
		PublisherHealthPort: getEnv("PUBLISHER_HEALTH_PORT", "8081"),
		EchoAgentHealthPort: getEnv("ECHO_AGENT_HEALTH_PORT", "8082"),

		ServiceName:    getEnv("SERVICE_NAME", "agentmail-service"),
		ServiceVersion: getEnv("SERVICE_VERSION", "1.0.0"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "INFO"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),

		PublisherCount: max(getEnvAsInt("PUBLISHER_COUNT", 5), 0),
	}
}

// GetBrokerAddress returns the address agents dial to reach the hub
func (c *AppConfig) GetBrokerAddress() string {
	return c.BrokerAddr + ":" + c.BrokerPort
}

// GetListenAddress returns the address the hub binds its gRPC server to
func (c *AppConfig) GetListenAddress() string {
	return ":" + c.GRPCPort
}

// GetHealthPort returns the health port for a given service type
func (c *AppConfig) GetHealthPort(serviceType string) string {
	switch serviceType {
	case "broker":
		return c.BrokerHealthPort
	case "publisher":
		return c.PublisherHealthPort
	case "echo_agent":
		return c.EchoAgentHealthPort
	default:
		return "8080"
	}
}

// getEnv gets an environment variable with a default fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as integer with a default fallback
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBool gets an environment variable as boolean with a default fallback
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("250ms", "2s") or a bare number of
// seconds ("0.5").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}
