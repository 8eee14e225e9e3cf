package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// DisplayConfig controls how table values are rendered.
type DisplayConfig struct {
	// NanosecondPrecision shows start times with 9 digits and durations with 6.
	// Otherwise 6 and 4 are used.
	NanosecondPrecision bool `yaml:"nanosecond_precision"`
	AbsoluteStart       bool `yaml:"absolute_start"`
	ResolveNames        bool `yaml:"resolve_names"`
	// SortColumn and SortDescending set the initial ordering of printed tables.
	SortColumn     string `yaml:"sort_column"`
	SortDescending bool   `yaml:"sort_descending"`
	Limit          int    `yaml:"limit"`
}

// TablesConfig selects which protocol tables are built and how packets reach them.
type TablesConfig struct {
	Types               []string `yaml:"types"`
	NumWorkers          int      `yaml:"num_workers"`
	SizeOfPacketChannel int      `yaml:"size_of_packet_channel"`
}

// GeoIPConfig points at MaxMind databases.
type GeoIPConfig struct {
	Enabled bool   `yaml:"enabled"`
	CityDB  string `yaml:"city_db"`
	ASNDB   string `yaml:"asn_db"`
}

// NamesConfig lists the name tables used when names are resolved. Entries
// given here win over the files.
type NamesConfig struct {
	// HostsFile is in hosts(5) format, e.g. /etc/hosts.
	HostsFile string `yaml:"hosts_file"`
	// ServicesFile is in services(5) format, e.g. /etc/services.
	ServicesFile string `yaml:"services_file"`
	// Hosts maps numeric IP or MAC addresses to names.
	Hosts map[string]string `yaml:"hosts"`
	// Services maps "port/proto" keys such as "8080/tcp" to names.
	Services map[string]string `yaml:"services"`
}

// ExportConfig controls the endpoint map.
type ExportConfig struct {
	OmitCity     bool   `yaml:"omit_city"`
	TemplatePath string `yaml:"template_path"`
	MapPath      string `yaml:"map_path"`
}

// ProbeConfig holds the NATS settings used to ship table batches.
type ProbeConfig struct {
	Enabled bool   `yaml:"enabled"`
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// ClickHouseConfig holds the connection settings for the snapshot writer.
type ClickHouseConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	Database         string `yaml:"database"`
	Username         string `yaml:"username"`
	Password         string `yaml:"password"`
	SnapshotInterval string `yaml:"snapshot_interval"`
}

// SnapshotConfig holds the settings of the gob file snapshot writer.
type SnapshotConfig struct {
	Enabled  bool   `yaml:"enabled"`
	RootPath string `yaml:"root_path"`
	Interval string `yaml:"interval"`
}

// APIConfig holds the HTTP surface settings.
type APIConfig struct {
	ListenAddr  string `yaml:"listen_addr"`
	MetricsPath string `yaml:"metrics_path"`
	// RequestsPerSecond limits each client. Zero disables the limit.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// LoggingConfig selects the log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Debug          bool             `yaml:"debug"`
	RedrawInterval string           `yaml:"redraw_interval"`
	Display        DisplayConfig    `yaml:"display"`
	Tables         TablesConfig     `yaml:"tables"`
	Names          NamesConfig      `yaml:"names"`
	GeoIP          GeoIPConfig      `yaml:"geoip"`
	Export         ExportConfig     `yaml:"export"`
	Probe          ProbeConfig      `yaml:"probe"`
	ClickHouse     ClickHouseConfig `yaml:"clickhouse"`
	Snapshot       SnapshotConfig   `yaml:"snapshot"`
	API            APIConfig        `yaml:"api"`
	Logging        LoggingConfig    `yaml:"logging"`
}

// DefaultConfig returns a configuration that works without a config file.
func DefaultConfig() *Config {
	return &Config{
		RedrawInterval: "500ms",
		Display: DisplayConfig{
			SortColumn: "bytes",
		},
		Tables: TablesConfig{
			Types:               []string{"eth", "ipv4", "ipv6", "tcp", "udp"},
			NumWorkers:          4,
			SizeOfPacketChannel: 10000,
		},
		Export: ExportConfig{
			MapPath: "ipmap.html",
		},
		Probe: ProbeConfig{
			NATSURL: "nats://127.0.0.1:4222",
			Subject: "netspectra.tables",
		},
		ClickHouse: ClickHouseConfig{
			Host:             "127.0.0.1",
			Port:             9000,
			Database:         "default",
			Username:         "default",
			SnapshotInterval: "30s",
		},
		Snapshot: SnapshotConfig{
			RootPath: "snapshots",
			Interval: "1m",
		},
		API: APIConfig{
			ListenAddr:  ":8080",
			MetricsPath: "/metrics",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads the configuration from a YAML file on top of DefaultConfig
// and validates it.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values LoadConfig cannot check through types alone.
func (c *Config) Validate() error {
	if _, err := c.Redraw(); err != nil {
		return err
	}
	if len(c.Tables.Types) == 0 {
		return fmt.Errorf("%w: tables.types must name at least one table", ErrInvalidConfig)
	}
	if c.Tables.NumWorkers <= 0 {
		return fmt.Errorf("%w: tables.num_workers must be positive, got %d", ErrInvalidConfig, c.Tables.NumWorkers)
	}
	if c.Tables.SizeOfPacketChannel < 0 {
		return fmt.Errorf("%w: tables.size_of_packet_channel must not be negative", ErrInvalidConfig)
	}
	if c.Display.Limit < 0 {
		return fmt.Errorf("%w: display.limit must not be negative", ErrInvalidConfig)
	}
	for key := range c.Names.Hosts {
		if net.ParseIP(key) == nil {
			if _, err := net.ParseMAC(key); err != nil {
				return fmt.Errorf("%w: names.hosts key %q is neither an IP nor a MAC address", ErrInvalidConfig, key)
			}
		}
	}
	for key := range c.Names.Services {
		if _, _, err := ParseServiceKey(key); err != nil {
			return err
		}
	}
	if c.GeoIP.Enabled && c.GeoIP.CityDB == "" && c.GeoIP.ASNDB == "" {
		return fmt.Errorf("%w: geoip is enabled but neither city_db nor asn_db is set", ErrInvalidConfig)
	}
	if c.Probe.Enabled && (c.Probe.NATSURL == "" || c.Probe.Subject == "") {
		return fmt.Errorf("%w: probe needs nats_url and subject", ErrInvalidConfig)
	}
	if c.ClickHouse.Enabled {
		if _, err := c.SnapshotInterval(); err != nil {
			return err
		}
		if c.ClickHouse.Host == "" || c.ClickHouse.Port <= 0 {
			return fmt.Errorf("%w: clickhouse needs host and port", ErrInvalidConfig)
		}
	}
	if c.API.RequestsPerSecond < 0 || c.API.Burst < 0 {
		return fmt.Errorf("%w: api rate limit must not be negative", ErrInvalidConfig)
	}
	if c.API.RequestsPerSecond > 0 && c.API.Burst == 0 {
		return fmt.Errorf("%w: api.burst must be positive when requests_per_second is set", ErrInvalidConfig)
	}
	if c.Snapshot.Enabled {
		if _, err := positiveDuration("snapshot.interval", c.Snapshot.Interval); err != nil {
			return err
		}
		if c.Snapshot.RootPath == "" {
			return fmt.Errorf("%w: snapshot.root_path must be set", ErrInvalidConfig)
		}
	}
	return nil
}

// ParseServiceKey splits a "port/proto" key. proto is tcp or udp.
func ParseServiceKey(key string) (port uint32, proto string, err error) {
	p, proto, ok := strings.Cut(key, "/")
	if ok {
		proto = strings.ToLower(proto)
	}
	n, perr := strconv.ParseUint(p, 10, 16)
	if !ok || perr != nil || (proto != "tcp" && proto != "udp") {
		return 0, "", fmt.Errorf("%w: service key %q must look like 8080/tcp", ErrInvalidConfig, key)
	}
	return uint32(n), proto, nil
}

// FileSnapshotInterval returns the parsed gob snapshot interval.
func (c *Config) FileSnapshotInterval() (time.Duration, error) {
	return positiveDuration("snapshot.interval", c.Snapshot.Interval)
}

// Redraw returns the parsed redraw interval.
func (c *Config) Redraw() (time.Duration, error) {
	return positiveDuration("redraw_interval", c.RedrawInterval)
}

// SnapshotInterval returns the parsed ClickHouse snapshot interval.
func (c *Config) SnapshotInterval() (time.Duration, error) {
	return positiveDuration("clickhouse.snapshot_interval", c.ClickHouse.SnapshotInterval)
}

func positiveDuration(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q: %v", ErrInvalidConfig, name, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive duration", ErrInvalidConfig, name)
	}
	return d, nil
}
