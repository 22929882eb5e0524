package config

import "time"

// ServerConfig is the root configuration for syncroom-server.
type ServerConfig struct {
	Server   ServerSection   `koanf:"server"`
	Storage  StorageSection  `koanf:"storage"`
	Cluster  ClusterSection  `koanf:"cluster"`
	Arbiter  ArbiterSection  `koanf:"arbiter"`
	EventBus EventBusSection `koanf:"eventbus"`
	Log      LogSection      `koanf:"log"`
}

// ServerSection configures server endpoints.
type ServerSection struct {
	HTTP    HTTPConfig    `koanf:"http"`
	Gateway GatewayConfig `koanf:"gateway"`

	// ShutdownTimeout bounds the whole graceful shutdown sequence.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// HTTPConfig configures the admin/read HTTP API.
type HTTPConfig struct {
	Addr         string        `koanf:"addr" validate:"required,hostname_port"`
	ReadTimeout  time.Duration `koanf:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"gte=0"`

	// RateLimit is the per-client request rate (req/s). Zero disables it.
	RateLimit float64 `koanf:"rate_limit" validate:"gte=0"`
	RateBurst int     `koanf:"rate_burst" validate:"gte=0"`

	// AllowList restricts the mutating connector endpoints to these IPs
	// or CIDRs. Empty allows every client.
	AllowList   []string `koanf:"allow_list" validate:"dive,ip|cidr"`
	CORSOrigins []string `koanf:"cors_origins"`

	// TLSCertFile and TLSKeyFile enable HTTPS. Both files are reloaded
	// when they change on disk.
	TLSCertFile string `koanf:"tls_cert_file" validate:"required_with=TLSKeyFile"`
	TLSKeyFile  string `koanf:"tls_key_file" validate:"required_with=TLSCertFile"`
}

// GatewayConfig configures the websocket gateway served on the HTTP
// listener.
type GatewayConfig struct {
	Path string `koanf:"path" validate:"required,startswith=/"`

	// ReadTimeout closes sockets that send nothing, not even a pong, for
	// this long.
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	PingInterval    time.Duration `koanf:"ping_interval" validate:"gt=0,ltfield=ReadTimeout"`
	MaxMessageBytes int64         `koanf:"max_message_bytes" validate:"gt=0"`

	// RateLimit is the inbound message rate per socket (msg/s).
	RateLimit float64 `koanf:"rate_limit" validate:"gt=0"`
	RateBurst int     `koanf:"rate_burst" validate:"gt=0"`
}

// StorageSection configures the connector store.
type StorageSection struct {
	Driver      string        `koanf:"driver" validate:"oneof=badger postgres memory"`
	DataDir     string        `koanf:"data_dir"`
	PostgresDSN string        `koanf:"postgres_dsn"`
	GCInterval  time.Duration `koanf:"gc_interval" validate:"gte=0"`
}

// ClusterSection configures gossip membership.
type ClusterSection struct {
	Enabled bool `koanf:"enabled"`

	// NodeID is the unique node name. Generated at startup when empty.
	NodeID string `koanf:"node_id"`

	GossipAddr string `koanf:"gossip_addr" validate:"omitempty,ip"`
	GossipPort int    `koanf:"gossip_port" validate:"gte=0,lte=65535"`

	// AdvertiseAddr is announced to peers when the bind address is not
	// routable (containers, NAT).
	AdvertiseAddr string `koanf:"advertise_addr" validate:"omitempty,ip"`

	// Seeds lists gossip addresses of existing members, e.g.
	// ["10.0.0.10:7946", "10.0.0.11:7946"]. Empty bootstraps a new cluster.
	Seeds []string `koanf:"seeds" validate:"dive,hostname_port"`

	// VirtualNodes is the number of ring positions each node takes when
	// rooms are assigned to nodes. Zero uses the default.
	VirtualNodes int `koanf:"virtual_nodes" validate:"gte=0,lte=4096"`
}

// ArbiterSection configures control arbitration.
type ArbiterSection struct {
	// RequestTimeout is how long a controller has to answer a request
	// before control passes to the requester.
	RequestTimeout   time.Duration `koanf:"request_timeout" validate:"gt=0"`
	DisconnectPolicy string        `koanf:"disconnect_policy" validate:"oneof=release retain"`
}

// EventBusSection configures event fan-out.
type EventBusSection struct {
	Driver        string `koanf:"driver" validate:"oneof=local nats"`
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
	// NATSCAFile is a PEM bundle of extra roots trusted for the NATS
	// connection. Setting it enables TLS.
	NATSCAFile string `koanf:"nats_ca_file"`
	// BufferSize is the per-subscription queue length.
	BufferSize int `koanf:"buffer_size" validate:"gt=0"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn warning error"`
	Format string `koanf:"format" validate:"oneof=json text console"`
}
