// Package config loads vcontrold-mqttd's configuration from (in increasing
// precedence) built-in defaults, an optional YAML file, and environment
// variables, via viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// TLS holds the MQTT TLS settings, mirroring the original's TlsConfig.
type TLS struct {
	CAFile   string
	CADir    string
	CertFile string
	KeyFile  string
	Insecure bool
}

// MQTT holds broker connection settings.
type MQTT struct {
	Host           string
	Port           int
	Topic          string
	User           string
	Password       string
	ClientIDPrefix string
	TLSEnabled     bool
	TLS            TLS
}

// Config is the fully resolved application configuration.
type Config struct {
	MaxLength     int
	MQTTSubscribe bool
	MQTT          MQTT
	Interval      time.Duration
	Commands      []string
	Debug         bool
}

// Load reads configuration from defaults, then the YAML file at path (if
// non-empty and present), then environment variables, matching the
// original's from_env() semantics but with a config file as an additional,
// lower-precedence layer beneath the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("vcontrold_mqttd")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config file %s: %w", path, err)
			}
		}
	}

	if v.GetString("mqtt.host") == "" {
		return nil, fmt.Errorf("missing required configuration: mqtt.host")
	}
	if v.GetString("mqtt.topic") == "" {
		return nil, fmt.Errorf("missing required configuration: mqtt.topic")
	}

	cfg := &Config{
		MaxLength:     v.GetInt("max_length"),
		MQTTSubscribe: v.GetBool("mqtt_subscribe"),
		MQTT: MQTT{
			Host:           v.GetString("mqtt.host"),
			Port:           v.GetInt("mqtt.port"),
			Topic:          v.GetString("mqtt.topic"),
			User:           v.GetString("mqtt.user"),
			Password:       v.GetString("mqtt.password"),
			ClientIDPrefix: v.GetString("mqtt.client_id_prefix"),
			TLSEnabled:     v.GetBool("mqtt.tls.enabled"),
			TLS: TLS{
				CAFile:   v.GetString("mqtt.tls.ca_file"),
				CADir:    v.GetString("mqtt.tls.ca_dir"),
				CertFile: v.GetString("mqtt.tls.cert_file"),
				KeyFile:  v.GetString("mqtt.tls.key_file"),
				Insecure: v.GetBool("mqtt.tls.insecure"),
			},
		},
		Interval: time.Duration(v.GetInt64("interval")) * time.Second,
		Commands: parseCommands(v.GetString("commands")),
		Debug:    v.GetBool("debug"),
	}

	return cfg, nil
}

func parseCommands(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	commands := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			commands = append(commands, p)
		}
	}
	return commands
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("max_length", 512)
	v.SetDefault("mqtt_subscribe", false)
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id_prefix", "vcontrold")
	v.SetDefault("mqtt.tls.enabled", false)
	v.SetDefault("interval", 60)
	v.SetDefault("commands", "")
	v.SetDefault("debug", false)
}
