package config

import (
	"net"
	"strconv"
	"time"

	"github.com/domonda/go-sqldb"
)

const (
	DefaultHTTPListen        = ":8080"
	DefaultNumWorkerThreads  = 2
	DefaultMaxAgeDoneJobs    = 30 * time.Minute
	DefaultCleanupInterval   = 30 * time.Second
	DefaultReconnectInterval = 5 * time.Second
)

// Config holds all settings of a layersync process.
type Config struct {
	HTTP HTTP `yaml:"http" envPrefix:"HTTP_"`

	NumWorkerThreads int           `yaml:"num_worker_threads" env:"NUM_WORKER_THREADS"`
	MaxAgeDoneJobs   time.Duration `yaml:"max_age_done_jobs"  env:"MAX_AGE_DONE_JOBS"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval"   env:"CLEANUP_INTERVAL"`

	Database Database `yaml:"database" envPrefix:"DATABASE_"`

	// PersistentConnections keeps the database connection
	// of idle workers open.
	PersistentConnections bool          `yaml:"persistent_connections" env:"PERSISTENT_CONNECTIONS"`
	ReconnectInterval     time.Duration `yaml:"reconnect_interval"     env:"RECONNECT_INTERVAL"`

	LayerList []Layer `yaml:"layers"`

	// Layers is built from LayerList by Validate.
	Layers Layers `yaml:"-"`
}

type HTTP struct {
	// Listen address, an empty string disables the HTTP listener.
	Listen string `yaml:"listen" env:"LISTEN"`
}

// Database holds the connection settings of the target database.
// URL takes precedence over the other fields.
type Database struct {
	URL      string            `yaml:"url"      env:"URL"`
	Host     string            `yaml:"host"     env:"HOST"`
	Port     uint16            `yaml:"port"     env:"PORT"`
	User     string            `yaml:"user"     env:"USER"`
	Password string            `yaml:"password" env:"PASSWORD"`
	Database string            `yaml:"database" env:"NAME"`
	Extra    map[string]string `yaml:"extra"`
}

// SQLDBConfig returns the settings as sqldb.Config
// for the postgres driver.
func (d *Database) SQLDBConfig() *sqldb.Config {
	return &sqldb.Config{
		Driver:   "postgres",
		Host:     d.Host,
		Port:     d.Port,
		User:     d.User,
		Password: d.Password,
		Database: d.Database,
		Extra:    d.Extra,
	}
}

// ConnectURL returns URL if set,
// else the connect URL of SQLDBConfig.
func (d *Database) ConnectURL() string {
	if d.URL != "" {
		return d.URL
	}
	return d.SQLDBConfig().ConnectURL()
}

// Defaults returns a Config with all default values set.
func Defaults() *Config {
	return &Config{
		HTTP:                  HTTP{Listen: DefaultHTTPListen},
		NumWorkerThreads:      DefaultNumWorkerThreads,
		MaxAgeDoneJobs:        DefaultMaxAgeDoneJobs,
		CleanupInterval:       DefaultCleanupInterval,
		PersistentConnections: true,
		ReconnectInterval:     DefaultReconnectInterval,
		Database: Database{
			Host: "localhost",
			Port: 5432,
		},
	}
}

// Validate checks all settings and builds Layers from LayerList.
func (c *Config) Validate() error {
	if c.NumWorkerThreads < 1 {
		return configErrorf("num_worker_threads must be at least 1, got %d", c.NumWorkerThreads)
	}
	if c.MaxAgeDoneJobs <= 0 {
		return configErrorf("max_age_done_jobs must be positive, got %s", c.MaxAgeDoneJobs)
	}
	if c.CleanupInterval <= 0 {
		return configErrorf("cleanup_interval must be positive, got %s", c.CleanupInterval)
	}
	if c.ReconnectInterval <= 0 {
		return configErrorf("reconnect_interval must be positive, got %s", c.ReconnectInterval)
	}
	if c.HTTP.Listen != "" {
		_, port, err := net.SplitHostPort(c.HTTP.Listen)
		if err != nil {
			return configErrorf("invalid http.listen address %q: %s", c.HTTP.Listen, err)
		}
		if _, err := strconv.ParseUint(port, 10, 16); err != nil {
			return configErrorf("invalid http.listen port %q", port)
		}
	}
	if c.Database.URL == "" && c.Database.Database == "" {
		return configErrorf("database.url or database.database is required")
	}
	layers, err := NewLayers(c.LayerList)
	if err != nil {
		return err
	}
	c.Layers = layers
	return nil
}
