package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// HandshakePolicy controls token defaults and the binding configuration handed to devices.
type HandshakePolicy struct {
	DefaultValidHours int    `mapstructure:"default_valid_hours"`
	DefaultMaxUses    int    `mapstructure:"default_max_uses"`
	MaxValidHours     int    `mapstructure:"max_valid_hours"`
	IngestEndpoint    string `mapstructure:"ingest_endpoint"`
	AuthMode          string `mapstructure:"auth_mode"`
	PayloadFormat     string `mapstructure:"payload_format"`
}

func DefaultHandshakePolicy() HandshakePolicy {
	return HandshakePolicy{
		DefaultValidHours: 24,
		DefaultMaxUses:    1,
		MaxValidHours:     24 * 30,
		IngestEndpoint:    "http://localhost:8080/ingestCounts",
		AuthMode:          "apikey",
		PayloadFormat:     "aiod05",
	}
}

func (p HandshakePolicy) DefaultValidity() time.Duration {
	return time.Duration(p.DefaultValidHours) * time.Hour
}

type HandshakePolicyHolder struct {
	current atomic.Value // holds HandshakePolicy
}

// NewStaticHandshakePolicy returns a holder that never reloads.
func NewStaticHandshakePolicy(policy HandshakePolicy) *HandshakePolicyHolder {
	holder := &HandshakePolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func NewHandshakePolicyHolder(log *zap.Logger) (*HandshakePolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("handshake")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/edgecount/config")
	v.AddConfigPath("/etc/edgecount")
	v.AddConfigPath(".")

	v.SetEnvPrefix("EDGECOUNT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultHandshakePolicy()
	v.SetDefault("handshake.default_valid_hours", defaults.DefaultValidHours)
	v.SetDefault("handshake.default_max_uses", defaults.DefaultMaxUses)
	v.SetDefault("handshake.max_valid_hours", defaults.MaxValidHours)
	v.SetDefault("handshake.ingest_endpoint", defaults.IngestEndpoint)
	v.SetDefault("handshake.auth_mode", defaults.AuthMode)
	v.SetDefault("handshake.payload_format", defaults.PayloadFormat)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var policy HandshakePolicy
	if err := v.UnmarshalKey("handshake", &policy); err != nil {
		return nil, err
	}
	if err := validateHandshakePolicy(policy); err != nil {
		return nil, err
	}

	holder := NewStaticHandshakePolicy(policy)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated HandshakePolicy
		if err := v.UnmarshalKey("handshake", &updated); err != nil {
			log.Warn("handshake policy reload failed", zap.Error(err))
			return
		}
		if err := validateHandshakePolicy(updated); err != nil {
			log.Warn("handshake policy invalid, keeping previous", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("handshake policy reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *HandshakePolicyHolder) Get() HandshakePolicy {
	return h.current.Load().(HandshakePolicy)
}

func validateHandshakePolicy(p HandshakePolicy) error {
	if p.DefaultValidHours <= 0 {
		return errors.New("handshake.default_valid_hours must be positive")
	}
	if p.DefaultMaxUses <= 0 {
		return errors.New("handshake.default_max_uses must be positive")
	}
	if p.MaxValidHours < p.DefaultValidHours {
		return errors.New("handshake.max_valid_hours must be >= default_valid_hours")
	}
	if strings.TrimSpace(p.IngestEndpoint) == "" {
		return errors.New("handshake.ingest_endpoint cannot be empty")
	}
	if strings.TrimSpace(p.PayloadFormat) == "" {
		return errors.New("handshake.payload_format cannot be empty")
	}
	return nil
}
