package calcmq

import (
	"os"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Transport kinds accepted by Config.Transport
const (
	TransportMemory = "memory"
	TransportZMQ    = "zmq"
	TransportNATS   = "nats"
)

// Config is the queue manager configuration shared by the server and client
// binaries. It is read once, when the connection is built. A zero Port selects
// the transport's default port.
type Config struct {
	QueueManagerName string `yaml:"queue_manager_name"`
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	Channel          string `yaml:"channel"`
	UserID           string `yaml:"user_id"`
	Password         string `yaml:"password"`
	UseTLS           bool   `yaml:"use_tls"`
	ApplicationName  string `yaml:"application_name"`

	RequestQueue  string `yaml:"request_queue"`
	ResponseQueue string `yaml:"response_queue"`
	// UniqueReplyQueue appends a per-process suffix to ResponseQueue
	UniqueReplyQueue bool `yaml:"unique_reply_queue"`

	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	ErrorBackoff      time.Duration `yaml:"error_backoff"`
	ShutdownGrace     time.Duration `yaml:"shutdown_grace"`

	// Transport selects the strategy: memory, zmq or nats
	Transport string `yaml:"transport"`

	// zmq
	BrokerEndpoint  string `yaml:"broker_endpoint"`
	BrokerServiceID string `yaml:"broker_service_id"`
	RegistryPath    string `yaml:"registry_path"`

	// nats
	NATSSubjectPrefix string `yaml:"nats_subject_prefix"`

	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns built-in defaults
func DefaultConfig() Config {
	return Config{
		QueueManagerName:  "QM1",
		Host:              "localhost",
		Channel:           "DEV.APP.SVRCONN",
		ApplicationName:   "calcmq",
		RequestQueue:      DefaultRequestQueue,
		ResponseQueue:     DefaultResponseQueue,
		ConnectionTimeout: DefaultConnectionTimeout,
		RequestTimeout:    DefaultRequestTimeout,
		PollInterval:      DefaultPollInterval,
		ErrorBackoff:      DefaultErrorBackoff,
		ShutdownGrace:     DefaultShutdownGrace,
		Transport:         TransportZMQ,
		BrokerServiceID:   "calcmq-broker",
		NATSSubjectPrefix: DefaultNATSSubjectPrefix,
		LogLevel:          "info",
	}
}

// LoadConfig reads a YAML file over the defaults. An empty path returns the
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, newConfigError(path, "is not valid YAML: "+err.Error())
	}
	return cfg, nil
}

// ApplyEnv overrides fields from CALCMQ_* environment variables
func (c *Config) ApplyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return newConfigError(key, "is not a duration")
		}
		*dst = d
		return nil
	}

	str("CALCMQ_HOST", &c.Host)
	str("CALCMQ_QUEUE_MANAGER", &c.QueueManagerName)
	str("CALCMQ_CHANNEL", &c.Channel)
	str("CALCMQ_USER", &c.UserID)
	str("CALCMQ_PASSWORD", &c.Password)
	str("CALCMQ_REQUEST_QUEUE", &c.RequestQueue)
	str("CALCMQ_RESPONSE_QUEUE", &c.ResponseQueue)
	str("CALCMQ_TRANSPORT", &c.Transport)
	str("CALCMQ_BROKER_ENDPOINT", &c.BrokerEndpoint)
	str("CALCMQ_BROKER_SERVICE_ID", &c.BrokerServiceID)
	str("CALCMQ_LOG_LEVEL", &c.LogLevel)

	if v, ok := os.LookupEnv("CALCMQ_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return newConfigError("CALCMQ_PORT", "is not a number")
		}
		c.Port = port
	}
	if v, ok := os.LookupEnv("CALCMQ_USE_TLS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return newConfigError("CALCMQ_USE_TLS", "is not a boolean")
		}
		c.UseTLS = b
	}

	for key, dst := range map[string]*time.Duration{
		"CALCMQ_CONNECTION_TIMEOUT": &c.ConnectionTimeout,
		"CALCMQ_REQUEST_TIMEOUT":    &c.RequestTimeout,
		"CALCMQ_POLL_INTERVAL":      &c.PollInterval,
		"CALCMQ_ERROR_BACKOFF":      &c.ErrorBackoff,
		"CALCMQ_SHUTDOWN_GRACE":     &c.ShutdownGrace,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the configuration for values that cannot work
func (c Config) Validate() error {
	if c.RequestQueue == "" {
		return newConfigError("request_queue", "is required")
	}
	if c.ResponseQueue == "" {
		return newConfigError("response_queue", "is required")
	}
	if c.RequestQueue == c.ResponseQueue {
		return newConfigError("response_queue", "must differ from request_queue")
	}
	switch c.Transport {
	case TransportMemory, TransportNATS:
	case TransportZMQ:
		if c.BrokerEndpoint == "" && c.BrokerServiceID == "" {
			return newConfigError("broker_endpoint", "or broker_service_id is required for zmq")
		}
	default:
		return newConfigError("transport", "must be memory, zmq or nats")
	}
	if c.Port < 0 || c.Port > 65535 {
		return newConfigError("port", "is out of range")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return newConfigError("log_level", "is not a log level")
	}
	return nil
}

// NATSURL returns the NATS server URL built from Host and Port
func (c Config) NATSURL() string {
	scheme := "nats"
	if c.UseTLS {
		scheme = "tls"
	}
	port := c.Port
	if port == 0 {
		port = nats.DefaultPort
	}
	return scheme + "://" + c.Host + ":" + strconv.Itoa(port)
}

// NewTransport builds the transport strategy selected by c.Transport. queues
// is only used by the memory transport and may be nil otherwise.
func NewTransport(c Config, queues *MemoryQueues, log zerolog.Logger) (Transport, error) {
	switch c.Transport {
	case TransportMemory:
		if queues == nil {
			queues = NewMemoryQueues()
		}
		return NewMemoryTransport(queues), nil
	case TransportZMQ:
		return NewZMQTransport(ZMQTransportConfig{
			Endpoint:       c.BrokerEndpoint,
			ServiceID:      c.BrokerServiceID,
			Registry:       NewServiceRegistry(c.RegistryPath),
			RequestTimeout: c.ConnectionTimeout,
		}, log), nil
	case TransportNATS:
		return NewNATSTransport(NATSTransportConfig{
			URL:           c.NATSURL(),
			Name:          c.ApplicationName,
			User:          c.UserID,
			Password:      c.Password,
			SubjectPrefix: c.NATSSubjectPrefix,
		}, log), nil
	}
	return nil, newConfigError("transport", "must be memory, zmq or nats")
}

// NewConnectionFromConfig builds the configured transport and wraps it in a
// Connection
func NewConnectionFromConfig(c Config, queues *MemoryQueues, log zerolog.Logger) (*Connection, error) {
	transport, err := NewTransport(c, queues, log)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("queue_manager", c.QueueManagerName).
		Str("transport", c.Transport).
		Str("host", c.Host).
		Int("port", c.Port).
		Str("channel", c.Channel).
		Bool("tls", c.UseTLS).
		Str("request_queue", c.RequestQueue).
		Str("response_queue", c.ResponseQueue).
		Msg("queue manager configuration")

	return NewConnection(transport, log, WithConnectionTimeout(c.ConnectionTimeout)), nil
}

// ConsumerConfigFrom extracts the consumer settings from c
func ConsumerConfigFrom(c Config) ConsumerConfig {
	return ConsumerConfig{
		RequestQueue: c.RequestQueue,
		PollInterval: c.PollInterval,
		ErrorBackoff: c.ErrorBackoff,
	}
}

// ServiceConfigFrom extracts the service settings from c
func ServiceConfigFrom(c Config) ServiceConfig {
	return ServiceConfig{
		Consumer:      ConsumerConfigFrom(c),
		ShutdownGrace: c.ShutdownGrace,
	}
}

// ProducerConfigFrom extracts the producer settings from c
func ProducerConfigFrom(c Config) ProducerConfig {
	responseQueue := c.ResponseQueue
	if c.UniqueReplyQueue {
		responseQueue = NewReplyQueueName(responseQueue)
	}
	return ProducerConfig{
		RequestQueue:   c.RequestQueue,
		ResponseQueue:  responseQueue,
		PollInterval:   c.PollInterval,
		RequestTimeout: c.RequestTimeout,
	}
}
