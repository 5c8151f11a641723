// Package config loads process configuration from environment variables,
// following the env-var-with-typed-defaults convention used across this
// codebase rather than a config-file parser.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/openlane/agentbus/internal/models"
)

// LoadDeliverer loads the outbound deliverer's configuration.
func LoadDeliverer() (*models.DelivererConfig, error) {
	prefix := getEnv("TOPIC_PREFIX", "acapy")
	cfg := &models.DelivererConfig{
		RedisServerURL: getEnv("REDIS_SERVER_URL", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvAsInt("REDIS_DB", 0),

		TopicPrefix:        prefix,
		OutboundTopic:      prefix + "_outbound",
		OutboundRetryTopic: prefix + "_outbound_retry",

		RetryBackoffFactor: getEnvAsFloat("RETRY_BACKOFF_FACTOR", 0.25),
		RetryIntervalS:     getEnvAsFloat("RETRY_INTERVAL_S", 5.0),
		MaxRetries:         getEnvAsInt("MAX_RETRIES", 5),
		RetryTimedelayS:    getEnvAsFloat("RETRY_TIMEDELAY_S", 1.0),

		StatusEndpointHost:   getEnv("STATUS_ENDPOINT_HOST", ""),
		StatusEndpointPort:   getEnv("STATUS_ENDPOINT_PORT", ""),
		StatusEndpointAPIKey: getEnv("STATUS_ENDPOINT_API_KEY", ""),

		ShutdownSecs:  getEnvAsInt("SHUTDOWN_TIMEOUT_S", 10),
		DispatchIdleS: getEnvAsFloat("DISPATCH_IDLE_S", 1.0),
	}

	if err := validateDeliverer(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadRelay loads the inbound relay's configuration.
func LoadRelay() (*models.RelayConfig, error) {
	prefix := getEnv("TOPIC_PREFIX", "acapy")

	transports, err := parseInboundTransportConfig(getEnv("INBOUND_TRANSPORT_CONFIG", ""))
	if err != nil {
		return nil, err
	}

	cfg := &models.RelayConfig{
		RedisServerURL: getEnv("REDIS_SERVER_URL", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvAsInt("REDIS_DB", 0),

		TopicPrefix:         prefix,
		InboundTopic:        prefix + "_inbound",
		DirectResponseTopic: prefix + "_inbound_direct_response",
		OutboundTopic:       prefix + "_outbound",
		OutboundRetryTopic:  prefix + "_outbound_retry",

		InboundTransports: transports,

		DirectResponseTimeoutS: getEnvAsFloat("DIRECT_RESPONSE_TIMEOUT_S", 15.0),
		DirectResponsePollS:    getEnvAsFloat("DIRECT_RESPONSE_POLL_S", 1.0),

		StatusEndpointHost:   getEnv("STATUS_ENDPOINT_HOST", ""),
		StatusEndpointPort:   getEnv("STATUS_ENDPOINT_PORT", ""),
		StatusEndpointAPIKey: getEnv("STATUS_ENDPOINT_API_KEY", ""),

		ShutdownSecs: getEnvAsInt("SHUTDOWN_TIMEOUT_S", 10),

		AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		AdminJWTSecret:    getEnv("ADMIN_JWT_SECRET", ""),
		AdminTokenTTLS:    getEnvAsInt("ADMIN_TOKEN_TTL_S", 3600),
		AdminPort:         getEnv("ADMIN_PORT", "8092"),

		MediatorMode: getEnvAsBool("MEDIATOR_MODE", false),
	}

	if err := validateRelay(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadAgentSim loads the demo agent-worker simulator's configuration.
func LoadAgentSim() (*models.AgentSimConfig, error) {
	prefix := getEnv("TOPIC_PREFIX", "acapy")
	cfg := &models.AgentSimConfig{
		RedisServerURL: getEnv("REDIS_SERVER_URL", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvAsInt("REDIS_DB", 0),

		TopicPrefix:   prefix,
		InboundTopic:  prefix + "_inbound",
		OutboundTopic: prefix + "_outbound",
	}
	if cfg.RedisServerURL == "" {
		return nil, models.NewRelayError(models.ErrCodeInvalidConfig, "REDIS_SERVER_URL is required", nil)
	}
	return cfg, nil
}

// parseInboundTransportConfig parses INBOUND_TRANSPORT_CONFIG, a JSON array
// of [transport, host, port] triples, into one listener per entry. An
// unrecognized transport value is a configuration error (spec.md 6: "other
// values -> exit 1").
func parseInboundTransportConfig(raw string) ([]models.TransportListener, error) {
	if raw == "" {
		return nil, models.NewRelayError(models.ErrCodeInvalidConfig, "INBOUND_TRANSPORT_CONFIG is required", nil)
	}

	var triples [][]interface{}
	if err := json.Unmarshal([]byte(raw), &triples); err != nil {
		return nil, models.NewRelayError(models.ErrCodeInvalidConfig, "INBOUND_TRANSPORT_CONFIG is not valid JSON", err)
	}

	listeners := make([]models.TransportListener, 0, len(triples))
	for _, triple := range triples {
		if len(triple) != 3 {
			return nil, models.NewRelayError(models.ErrCodeInvalidConfig,
				"INBOUND_TRANSPORT_CONFIG entries must be [transport, host, port] triples", nil)
		}
		transport, _ := triple[0].(string)
		host, _ := triple[1].(string)
		port := transportPortString(triple[2])

		if transport != "http" && transport != "ws" {
			return nil, models.NewRelayError(models.ErrCodeInvalidConfig,
				fmt.Sprintf("unsupported inbound transport %q, only ws and http are supported", transport), nil)
		}
		listeners = append(listeners, models.TransportListener{Transport: transport, Host: host, Port: port})
	}
	return listeners, nil
}

func transportPortString(v interface{}) string {
	switch p := v.(type) {
	case string:
		return p
	case float64:
		return strconv.FormatFloat(p, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", p)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func validateDeliverer(cfg *models.DelivererConfig) error {
	var errs []string

	if cfg.RedisServerURL == "" {
		errs = append(errs, "REDIS_SERVER_URL is required")
	}
	if cfg.MaxRetries < 0 {
		errs = append(errs, "MAX_RETRIES must be non-negative")
	}
	if cfg.RetryIntervalS <= 0 {
		errs = append(errs, "RETRY_INTERVAL_S must be positive")
	}
	if cfg.RetryBackoffFactor < 0 {
		errs = append(errs, "RETRY_BACKOFF_FACTOR must be non-negative")
	}

	if len(errs) > 0 {
		return models.NewRelayError(models.ErrCodeInvalidConfig, "configuration validation failed",
			fmt.Errorf("%s", strings.Join(errs, "; ")))
	}
	return nil
}

func validateRelay(cfg *models.RelayConfig) error {
	var errs []string

	if cfg.RedisServerURL == "" {
		errs = append(errs, "REDIS_SERVER_URL is required")
	}
	if len(cfg.InboundTransports) == 0 {
		errs = append(errs, "INBOUND_TRANSPORT_CONFIG must configure at least one listener")
	}
	if cfg.DirectResponseTimeoutS <= 0 {
		errs = append(errs, "DIRECT_RESPONSE_TIMEOUT_S must be positive")
	}
	if cfg.AdminPasswordHash != "" && cfg.AdminJWTSecret == "" {
		errs = append(errs, "ADMIN_JWT_SECRET is required when ADMIN_PASSWORD_HASH is set")
	}

	if len(errs) > 0 {
		return models.NewRelayError(models.ErrCodeInvalidConfig, "configuration validation failed",
			fmt.Errorf("%s", strings.Join(errs, "; ")))
	}
	return nil
}
