// Package config loads an overlay node's runtime configuration: the
// environment knobs of spec.md §6 (via a .env file plus os.Getenv
// fallbacks) and the names.json/topo.json topology envelopes.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/overlaymesh/router/packet"
)

// Config is an overlay node's fully-resolved runtime configuration.
type Config struct {
	Node      packet.NodeID
	Section   string
	TopoID    string
	NamesPath string
	TopoPath  string

	HelloInterval time.Duration
	InfoInterval  time.Duration
	HelloTimeout  time.Duration
	TTLDefault    int

	Proto         packet.Proto
	TransportKind string
	LogLevel      slog.Level
	LogFormat     string

	Redis RedisConfig
	MQTT  MQTTConfig
}

// RedisConfig holds the Redis transport's connection settings.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

// MQTTConfig holds the MQTT transport's connection settings.
type MQTTConfig struct {
	Broker      string
	Username    string
	Password    string
	UseTLS      bool
	ClientID    string
	TopicPrefix string
}

// Load reads path with godotenv (a missing file is tolerated — overlay
// nodes are frequently launched with the environment pre-populated by an
// orchestrator) and populates a Config from the environment knobs named in
// spec.md §6, applying the defaults from spec.md §5.
func Load(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: loading %s: %w", path, err)
		}
	} else {
		_ = godotenv.Load()
	}

	helloInterval, err := getDurationSeconds("HELLO_INTERVAL_SEC", 5*time.Second)
	if err != nil {
		return nil, err
	}
	infoInterval, err := getDurationSeconds("INFO_INTERVAL_SEC", 12*time.Second)
	if err != nil {
		return nil, err
	}
	helloTimeout, err := getDurationSeconds("HELLO_TIMEOUT_SEC", 20*time.Second)
	if err != nil {
		return nil, err
	}
	ttlDefault, err := getInt("TTL_DEFAULT", 5)
	if err != nil {
		return nil, err
	}

	redisPort, err := getInt("REDIS_PORT", 6379)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Node:      packet.NodeID(getString("NODE", "A")),
		Section:   getString("SECTION", "sec10"),
		TopoID:    getString("TOPO", "topo1"),
		NamesPath: getString("NAMES_PATH", "./configs/names.json"),
		TopoPath:  getString("TOPO_PATH", "./configs/topo.json"),

		HelloInterval: helloInterval,
		InfoInterval:  infoInterval,
		HelloTimeout:  helloTimeout,
		TTLDefault:    ttlDefault,

		Proto:         packet.Proto(getString("PROTO", "lsr")),
		TransportKind: getString("TRANSPORT", "redis"),
		LogLevel:      parseLogLevel(getString("LOG_LEVEL", "INFO")),
		LogFormat:     getString("LOG_FORMAT", "text"),

		Redis: RedisConfig{
			Host:     getString("REDIS_HOST", "localhost"),
			Port:     redisPort,
			Password: getString("REDIS_PWD", ""),
		},
		MQTT: MQTTConfig{
			Broker:      getString("MQTT_BROKER", ""),
			Username:    getString("MQTT_USERNAME", ""),
			Password:    getString("MQTT_PASSWORD", ""),
			UseTLS:      getBool("MQTT_TLS", false),
			ClientID:    getString("MQTT_CLIENT_ID", ""),
			TopicPrefix: getString("MQTT_TOPIC_PREFIX", "overlaynode"),
		},
	}
	return cfg, nil
}

// MyChannel resolves a node's own transport channel: its entry in names.json
// if present, otherwise the "section.topo.node" convention (spec.md §6,
// grounded on the original implementation's `_my_channel`).
func MyChannel(names map[packet.NodeID]packet.Channel, section, topo string, self packet.NodeID) packet.Channel {
	if ch, ok := names[self]; ok && ch != "" {
		return ch
	}
	return packet.Channel(section + "." + topo + "." + self.String())
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q: %w", key, v, err)
	}
	return n, nil
}

func getDurationSeconds(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q: %w", key, v, err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func parseLogLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
