package fserve

import (
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/jsfix-ci/fenris/fbundle"
	"github.com/jsfix-ci/fenris/frender"
	"github.com/jsfix-ci/fenris/fvelope"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultPort is used when neither Config.Port nor $PORT is set.
const DefaultPort = 3000

// DefaultShutdownGrace is how long in-flight requests get once the
// server is asked to stop.
const DefaultShutdownGrace = 5 * time.Second

// EnvironmentVariable names the variable that EnvironmentFromEnv reads.
const EnvironmentVariable = "NODE_ENV"

// Config is what Start needs.  The yaml-tagged fields can come from a
// file via LoadConfig; the rest are set in code.
type Config struct {
	// Component is what the catch-all route renders.
	Component frender.Component `yaml:"-"`
	// Render builds the catch-all handler.  Defaults to frender.Document.
	Render frender.Renderer `yaml:"-"`
	// RenderExtra is handed to the renderer as Options.Extra.
	RenderExtra map[string]interface{} `yaml:"render"`

	// Port to listen on.  Zero means $PORT, then DefaultPort.
	Port int `yaml:"port"`
	// Host to listen on.  Empty means all interfaces.
	Host string `yaml:"host"`
	// Listener, when set, is served instead of binding Host and Port.
	Listener net.Listener `yaml:"-"`

	// Production skips the bundler.  Outside production Bundler is required.
	Production bool            `yaml:"production"`
	Bundler    *fbundle.Config `yaml:"bundler"`

	// OutputDir holds the built client files.  They are served as static
	// files.  Relative paths are resolved against the server's location.
	OutputDir string `yaml:"outputDir"`
	// OutputFile is the client bundle's file name.
	OutputFile string `yaml:"outputFile"`

	// CSRF protects unsafe requests.  When it is nil and CSRFKey is set,
	// double-submit tokens are used; otherwise the standard library's
	// cross-origin protection.  Set DisableCSRF to turn it off.
	CSRF        fvelope.Middleware `yaml:"-"`
	CSRFKey     string             `yaml:"csrfKey"`
	DisableCSRF bool               `yaml:"disableCSRF"`
	// TrustedOrigins may send unsafe requests from another origin.
	TrustedOrigins []string `yaml:"trustedOrigins"`

	// CompressionLevel is the gzip level for responses; zero means 5.
	CompressionLevel int `yaml:"compressionLevel"`
	// BodyLimit is the largest JSON request body accepted.
	BodyLimit int64 `yaml:"bodyLimit"`
	// TrustProxy makes the client address come from X-Forwarded-For and
	// friends.
	TrustProxy    bool          `yaml:"trustProxy"`
	ShutdownGrace time.Duration `yaml:"shutdownGrace"`

	Logger *slog.Logger `yaml:"-"`
	// Notify is called with every error the supervisor handles.
	Notify func(error) `yaml:"-"`
}

// LoadConfig reads a YAML configuration file.  Production defaults to
// IsProduction(); a production key in the file overrides it.
func LoadConfig(path string) (Config, error) {
	cfg := Config{Production: IsProduction()}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// EnvironmentFromEnv returns the value of $NODE_ENV, or "default".
func EnvironmentFromEnv() string {
	if env := os.Getenv(EnvironmentVariable); env != "" {
		return env
	}
	return "default"
}

// IsProduction reports whether $NODE_ENV selects production.
func IsProduction() bool {
	return EnvironmentFromEnv() == "production"
}

// ResolvePort picks the port: cfg.Port, else $PORT, else DefaultPort.
func (cfg Config) ResolvePort() (int, error) {
	if cfg.Port > 0 {
		return cfg.Port, nil
	}
	if p := os.Getenv("PORT"); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 0 || port > 65535 {
			return 0, errors.Errorf("invalid PORT %q", p)
		}
		return port, nil
	}
	return DefaultPort, nil
}

// Address is the host:port to listen on.
func (cfg Config) Address() (string, error) {
	port, err := cfg.ResolvePort()
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(cfg.Host, strconv.Itoa(port)), nil
}

func (cfg Config) logger() *slog.Logger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	return slog.Default()
}

func (cfg Config) grace() time.Duration {
	if cfg.ShutdownGrace > 0 {
		return cfg.ShutdownGrace
	}
	return DefaultShutdownGrace
}

func (cfg Config) compressionLevel() int {
	if cfg.CompressionLevel > 0 {
		return cfg.CompressionLevel
	}
	return 5
}
