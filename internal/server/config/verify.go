package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := f.Tag.Get("koanf")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Verify validates field ranges and the rules that span sections. It
// creates the badger data directory when it does not exist.
func Verify(cfg *ServerConfig) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := validate.Struct(cfg); err != nil {
		return describe(err)
	}
	if err := verifyStorage(&cfg.Storage); err != nil {
		return err
	}
	if err := verifyEventBus(&cfg.EventBus); err != nil {
		return err
	}
	if cfg.Cluster.Enabled && cfg.Cluster.GossipPort == 0 && len(cfg.Cluster.Seeds) > 0 {
		return errors.New("cluster.gossip_port must be fixed when joining seeds")
	}
	return nil
}

func verifyStorage(cfg *StorageSection) error {
	switch cfg.Driver {
	case "badger":
		if cfg.DataDir == "" {
			return errors.New("storage.data_dir is required for the badger driver")
		}
		if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
			return fmt.Errorf("cannot create data directory: %w", err)
		}
	case "postgres":
		if cfg.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn is required for the postgres driver")
		}
	}
	return nil
}

func verifyEventBus(cfg *EventBusSection) error {
	if cfg.Driver == "nats" && cfg.NATSURL == "" {
		return errors.New("eventbus.nats_url is required for the nats driver")
	}
	return nil
}

// describe turns validator errors into messages naming the config keys.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", keyOf(fe.Namespace()), fe.Tag(), fe.Value()))
	}
	return errors.New("invalid config: " + strings.Join(msgs, "; "))
}

// keyOf strips the root type from "ServerConfig.server.http.addr".
func keyOf(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
