package config

import "time"

// Default configuration values.
const (
	DefaultHTTPAddr         = "127.0.0.1:5080"
	DefaultHTTPReadTimeout  = 10 * time.Second
	DefaultHTTPWriteTimeout = 15 * time.Second
	DefaultHTTPRateLimit    = 50
	DefaultHTTPRateBurst    = 100
	DefaultShutdownTimeout  = 15 * time.Second

	DefaultGatewayPath         = "/ws"
	DefaultGatewayReadTimeout  = 60 * time.Second
	DefaultGatewayPingInterval = 25 * time.Second
	DefaultGatewayMaxMessage   = 64 << 10
	DefaultGatewayRateLimit    = 30
	DefaultGatewayRateBurst    = 60

	DefaultStorageDriver = "badger"
	DefaultDataDir       = "/var/lib/syncroom-server/data"
	DefaultGCInterval    = 10 * time.Minute

	DefaultGossipPort = 7946

	DefaultRequestTimeout   = 30 * time.Second
	DefaultDisconnectPolicy = "release"

	DefaultEventBusDriver = "local"
	DefaultSubjectPrefix  = "syncroom"
	DefaultBufferSize     = 256

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			HTTP: HTTPConfig{
				Addr:         DefaultHTTPAddr,
				ReadTimeout:  DefaultHTTPReadTimeout,
				WriteTimeout: DefaultHTTPWriteTimeout,
				RateLimit:    DefaultHTTPRateLimit,
				RateBurst:    DefaultHTTPRateBurst,
			},
			Gateway: GatewayConfig{
				Path:            DefaultGatewayPath,
				ReadTimeout:     DefaultGatewayReadTimeout,
				PingInterval:    DefaultGatewayPingInterval,
				MaxMessageBytes: DefaultGatewayMaxMessage,
				RateLimit:       DefaultGatewayRateLimit,
				RateBurst:       DefaultGatewayRateBurst,
			},
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Storage: StorageSection{
			Driver:     DefaultStorageDriver,
			DataDir:    DefaultDataDir,
			GCInterval: DefaultGCInterval,
		},
		Cluster: ClusterSection{
			GossipAddr: "0.0.0.0",
			GossipPort: DefaultGossipPort,
		},
		Arbiter: ArbiterSection{
			RequestTimeout:   DefaultRequestTimeout,
			DisconnectPolicy: DefaultDisconnectPolicy,
		},
		EventBus: EventBusSection{
			Driver:        DefaultEventBusDriver,
			SubjectPrefix: DefaultSubjectPrefix,
			BufferSize:    DefaultBufferSize,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
