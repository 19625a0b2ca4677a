package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	MQTTBrokerURL  string
	MQTTClientID   string
	MQTTUsername   string
	MQTTPassword   string
	MQTTQoS        byte
	MQTTShareGroup string

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	PostgresDSN     string
	PostgresMaxConn int
	PostgresMaxIdle int

	GeocodingAPIURL string
	OpenMeteoAPIURL string
	BrightSkyAPIURL string
	PostalCodes     []int

	RetryInterval   time.Duration
	WeatherInterval time.Duration
	BufferTTL       time.Duration

	LogLevel  string
	LogFormat string
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getenvQoS(key string, fallback byte) byte {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 2 {
			return byte(n)
		}
	}
	return fallback
}

// Load reads the whole configuration from the environment. Missing required
// values are a startup error: the workers must not come up half-configured.
func Load() (*Config, error) {
	cfg := &Config{
		MQTTBrokerURL:  getenv("MQTT_BROKER_URL", "tcp://localhost:1883"),
		MQTTClientID:   getenv("MQTT_CLIENT_ID", "isopruefi-ingestion"),
		MQTTUsername:   os.Getenv("MQTT_USERNAME"),
		MQTTPassword:   os.Getenv("MQTT_PASSWORD"),
		MQTTQoS:        getenvQoS("MQTT_QOS", 1),
		MQTTShareGroup: getenv("MQTT_SHARE_GROUP", "isopruefi-ingestion"),

		InfluxURL:    os.Getenv("INFLUX_URL"),
		InfluxToken:  os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:    getenv("INFLUX_ORG", "isopruefi"),
		InfluxBucket: getenv("INFLUX_BUCKET", "isopruefi"),

		PostgresDSN:     os.Getenv("POSTGRES_DSN"),
		PostgresMaxConn: getenvInt("POSTGRES_MAX_CONNS", 10),
		PostgresMaxIdle: getenvInt("POSTGRES_MAX_IDLE", 5),

		GeocodingAPIURL: getenv("GEOCODING_API_URL",
			"https://nominatim.openstreetmap.org/search?format=jsonv2&postalcode="),
		OpenMeteoAPIURL: getenv("OPENMETEO_API_URL",
			"https://api.open-meteo.com/v1/forecast?latitude={lat}&longitude={lon}&current=temperature_2m"),
		BrightSkyAPIURL: getenv("BRIGHTSKY_API_URL",
			"https://api.brightsky.dev/current_weather?lat={lat}&lon={lon}"),

		RetryInterval:   getenvDuration("INFLUX_RETRY_INTERVAL", 5*time.Minute),
		WeatherInterval: getenvDuration("WEATHER_INTERVAL", 10*time.Second),
		BufferTTL:       getenvDuration("INFLUX_BUFFER_TTL", 24*time.Hour),

		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogFormat: getenv("LOG_FORMAT", "json"),
	}

	var err error
	cfg.PostalCodes, err = parsePostalCodes(os.Getenv("POSTAL_CODES"))
	if err != nil {
		return nil, err
	}

	if cfg.InfluxURL == "" {
		return nil, errors.New("INFLUX_URL must not be empty")
	}
	if cfg.InfluxToken == "" {
		return nil, errors.New("INFLUX_TOKEN must not be empty")
	}
	if cfg.PostgresDSN == "" {
		return nil, errors.New("POSTGRES_DSN must not be empty")
	}

	return cfg, nil
}

func parsePostalCodes(raw string) ([]int, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	codes := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, errors.New("POSTAL_CODES must be a comma-separated list of integers")
		}
		codes = append(codes, n)
	}
	return codes, nil
}
