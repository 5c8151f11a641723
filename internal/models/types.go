// Package models holds the wire and config types shared across the
// deliverer, relay, and mediator components.
package models

import "time"

// OutboundJob is the envelope an agent pushes onto the outbound queue for
// the deliverer to dispatch to a recipient's service endpoint.
type OutboundJob struct {
	Service ServiceRef        `json:"service"`
	Payload []byte            `json:"payload"`
	Headers map[string]string `json:"headers,omitempty"`
	Retries int               `json:"retries"`
}

// ServiceRef names the dispatch target.
type ServiceRef struct {
	URL string `json:"url"`
}

// InboundEnvelope is what the relay pushes onto the inbound queue after
// receiving a message on one of its transports.
type InboundEnvelope struct {
	Payload       []byte `json:"payload"`
	TxnID         string `json:"txn_id,omitempty"`
	TransportType string `json:"transport_type"`
}

// DirectResponseRecord correlates a synchronous reply back to the relay
// connection that is blocked waiting for it.
type DirectResponseRecord struct {
	TxnID        string       `json:"txn_id"`
	ResponseData ResponseData `json:"response_data"`
}

// ResponseData carries the actual reply bytes.
type ResponseData struct {
	Response    []byte `json:"response"`
	ContentType string `json:"content-type"`
}

// RetryEntry wraps an outbound job under a "job" key. The delayed-retry
// sorted set does not use this wrapper: its members are jobs encoded by
// codec.EncodeOutboundJob.
type RetryEntry struct {
	Job OutboundJob `json:"job"`
}

// TransportListener is one entry of INBOUND_TRANSPORT_CONFIG: a single
// [transport, host, port] triple driving one relay listener.
type TransportListener struct {
	Transport string // "http" or "ws"
	Host      string
	Port      string
}

// DelivererConfig configures the outbound deliverer process. Env var names
// and derivation rules follow the reference agent framework's deliverer.
type DelivererConfig struct {
	RedisServerURL string `env:"REDIS_SERVER_URL"`
	RedisPassword  string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB        int    `env:"REDIS_DB" envDefault:"0"`

	// TopicPrefix is read from TOPIC_PREFIX (default "acapy");
	// OutboundTopic/OutboundRetryTopic are derived from it, never set
	// independently.
	TopicPrefix        string
	OutboundTopic      string
	OutboundRetryTopic string

	RetryBackoffFactor float64
	RetryIntervalS     float64
	MaxRetries         int
	RetryTimedelayS    float64

	// Status server is started only when all three STATUS_ENDPOINT_* vars
	// are present.
	StatusEndpointHost   string `env:"STATUS_ENDPOINT_HOST" envDefault:""`
	StatusEndpointPort   string `env:"STATUS_ENDPOINT_PORT" envDefault:""`
	StatusEndpointAPIKey string `env:"STATUS_ENDPOINT_API_KEY" envDefault:""`

	ShutdownSecs  int `env:"SHUTDOWN_TIMEOUT_S" envDefault:"10"`
	DispatchIdleS float64
}

// RelayConfig configures the inbound relay process.
type RelayConfig struct {
	RedisServerURL string `env:"REDIS_SERVER_URL"`
	RedisPassword  string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB        int    `env:"REDIS_DB" envDefault:"0"`

	// TopicPrefix is read from TOPIC_PREFIX (default "acapy"); every topic
	// below is derived from it. OutboundTopic/OutboundRetryTopic are not
	// consumed by the relay itself but are reported by the admin API.
	TopicPrefix         string
	InboundTopic        string
	DirectResponseTopic string
	OutboundTopic       string
	OutboundRetryTopic  string

	// InboundTransports comes from INBOUND_TRANSPORT_CONFIG: one listener
	// per [transport, host, port] triple.
	InboundTransports []TransportListener

	DirectResponseTimeoutS float64
	DirectResponsePollS    float64

	// Status server is started only when all three STATUS_ENDPOINT_* vars
	// are present.
	StatusEndpointHost   string `env:"STATUS_ENDPOINT_HOST" envDefault:""`
	StatusEndpointPort   string `env:"STATUS_ENDPOINT_PORT" envDefault:""`
	StatusEndpointAPIKey string `env:"STATUS_ENDPOINT_API_KEY" envDefault:""`

	ShutdownSecs int `env:"SHUTDOWN_TIMEOUT_S" envDefault:"10"`

	// Admin introspection API, see SPEC_FULL.md 4.5. Mounted only if
	// AdminPasswordHash is set.
	AdminUsername     string `env:"ADMIN_USERNAME" envDefault:"admin"`
	AdminPasswordHash string `env:"ADMIN_PASSWORD_HASH" envDefault:""`
	AdminJWTSecret    string `env:"ADMIN_JWT_SECRET" envDefault:""`
	AdminTokenTTLS    int    `env:"ADMIN_TOKEN_TTL_S" envDefault:"3600"`
	AdminPort         string `env:"ADMIN_PORT" envDefault:"8092"`

	MediatorMode bool `env:"MEDIATOR_MODE" envDefault:"false"`
}

// AgentSimConfig configures the demo agent-worker simulator. Not part of
// spec.md 6's external interface; it shares TopicPrefix with the relay and
// deliverer so a simulated worker lands on the same queues they use.
type AgentSimConfig struct {
	RedisServerURL string `env:"REDIS_SERVER_URL"`
	RedisPassword  string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB        int    `env:"REDIS_DB" envDefault:"0"`

	TopicPrefix   string
	InboundTopic  string
	OutboundTopic string
}

// Metrics holds lightweight runtime counters. The deliverer updates them and
// returns a snapshot from Deliverer.Metrics(); nothing reports them on a
// timer and no exporter is wired up; see DESIGN.md for why.
type Metrics struct {
	Dispatched    int64
	DispatchFails int64
	RetriesQueued int64
	RetriesDrops  int64
	Received      int64
	LastEventTime time.Time
}

// RelayError is a domain error carrying a stable code alongside the
// underlying cause.
type RelayError struct {
	Code    string
	Message string
	Err     error
}

func (e *RelayError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *RelayError) Unwrap() error {
	return e.Err
}

// Error codes.
const (
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodeAuthentication  = "AUTHENTICATION_FAILED"
	ErrCodeRedisConnection = "REDIS_CONNECTION_ERROR"
	ErrCodeDispatch        = "DISPATCH_ERROR"
	ErrCodeInvalidConfig   = "INVALID_CONFIG"
	ErrCodeInvalidEnvelope = "INVALID_ENVELOPE"
)

// NewRelayError creates a new RelayError.
func NewRelayError(code, message string, err error) *RelayError {
	return &RelayError{Code: code, Message: message, Err: err}
}
