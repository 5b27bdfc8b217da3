// Package config loads the configuration of the hub and its agents from
// environment variables. Every value has a default, so services run without
// any environment set.
//
//	cfg := config.Load()
//	conn, err := grpc.NewClient(cfg.GetBrokerAddress(), ...)
//
// # Variables
//
// Hub connection:
//   - AGENTHUB_BROKER_ADDR: hub hostname agents dial (default "localhost")
//   - AGENTHUB_BROKER_PORT: hub port agents dial (default "50051")
//   - AGENTHUB_GRPC_PORT: port the hub listens on (default AGENTHUB_BROKER_PORT)
//
// Mailbox:
//   - A2A_BACKEND: "inmemory" or "grpc" (default "inmemory")
//   - A2A_CALLBACK_POLICY: "propagate" or "log" (default "propagate")
//   - A2A_RECEIVE_TIMEOUT: receive poll timeout, "250ms" or seconds (default 1s)
//
// Observability:
//   - JAEGER_ENDPOINT: OTLP gRPC endpoint (default "127.0.0.1:4317")
//   - TRACING_ENABLED: export spans (default true)
//   - METRICS_TICK_INTERVAL: system and queue depth sampling (default 10s)
//   - BROKER_HEALTH_PORT, PUBLISHER_HEALTH_PORT, ECHO_AGENT_HEALTH_PORT
//     (defaults 8080, 8081, 8082)
//
// Service:
//   - SERVICE_NAME, SERVICE_VERSION, ENVIRONMENT
//   - LOG_LEVEL: DEBUG, INFO, WARN or ERROR (default INFO)
//   - LOG_FORMAT: "json" or "text" (default "json")
//   - PUBLISHER_COUNT: number of tasks the demo publisher sends (default 5)
//
// Malformed numeric, boolean and duration values fall back to the default.
package config
