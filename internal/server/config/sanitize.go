package config

import "github.com/yndnr/syncroom-go/internal/telemetry/logger"

// Sanitize returns a copy of the config with credentials masked, for
// logging.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	sanitized := *cfg
	sanitized.Cluster.Seeds = append([]string(nil), cfg.Cluster.Seeds...)
	sanitized.Server.HTTP.AllowList = append([]string(nil), cfg.Server.HTTP.AllowList...)
	sanitized.Server.HTTP.CORSOrigins = append([]string(nil), cfg.Server.HTTP.CORSOrigins...)

	if sanitized.Storage.PostgresDSN != "" {
		sanitized.Storage.PostgresDSN = logger.RedactString(sanitized.Storage.PostgresDSN)
	}
	if sanitized.EventBus.NATSURL != "" {
		sanitized.EventBus.NATSURL = logger.RedactString(sanitized.EventBus.NATSURL)
	}
	return &sanitized
}
