package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresHostAndTopic(t *testing.T) {
	t.Setenv("VCONTROLD_MQTTD_MQTT_HOST", "")
	t.Setenv("VCONTROLD_MQTTD_MQTT_TOPIC", "")
	_, err := Load("")
	require.Error(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("VCONTROLD_MQTTD_MQTT_HOST", "broker.local")
	t.Setenv("VCONTROLD_MQTTD_MQTT_TOPIC", "home/heating")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.MaxLength)
	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.Equal(t, "vcontrold", cfg.MQTT.ClientIDPrefix)
	assert.Equal(t, 60*time.Second, cfg.Interval)
	assert.False(t, cfg.MQTTSubscribe)
	assert.Empty(t, cfg.Commands)
}

func TestLoadParsesCommandsList(t *testing.T) {
	t.Setenv("VCONTROLD_MQTTD_MQTT_HOST", "broker.local")
	t.Setenv("VCONTROLD_MQTTD_MQTT_TOPIC", "home/heating")
	t.Setenv("VCONTROLD_MQTTD_COMMANDS", "getTempA, getTempB ,getTempC")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"getTempA", "getTempB", "getTempC"}, cfg.Commands)
}

func TestLoadEnvOverridesYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mqtt:\n  host: from-yaml\n  topic: from-yaml-topic\n  port: 8883\n"), 0o644))

	t.Setenv("VCONTROLD_MQTTD_MQTT_HOST", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.MQTT.Host)
	assert.Equal(t, "from-yaml-topic", cfg.MQTT.Topic)
	assert.Equal(t, 8883, cfg.MQTT.Port)
}

func TestLoadTLSSettings(t *testing.T) {
	t.Setenv("VCONTROLD_MQTTD_MQTT_HOST", "broker.local")
	t.Setenv("VCONTROLD_MQTTD_MQTT_TOPIC", "home/heating")
	t.Setenv("VCONTROLD_MQTTD_MQTT_TLS_ENABLED", "true")
	t.Setenv("VCONTROLD_MQTTD_MQTT_TLS_INSECURE", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.MQTT.TLSEnabled)
	assert.True(t, cfg.MQTT.TLS.Insecure)
}
