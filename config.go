package shardclient

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the backend-connection configuration of a routing process.
type Config struct {
	// Sharded says whether this process routes for a sharded cluster, as
	// opposed to acting as a plain unsharded client.
	Sharded bool `yaml:"sharded"`

	InternalUser InternalUserConfig `yaml:"internal_user"`
	Dial         DialConfig         `yaml:"dial"`
	Ssl          SslConfig          `yaml:"ssl"`

	// FastReads allows reads over sync-set connections to be satisfied by
	// the fastest-responding member.
	FastReads bool `yaml:"fast_reads"`
}

// InternalUserConfig holds the cluster-internal credentials. An empty user
// disables authentication.
type InternalUserConfig struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// DialConfig holds transport timeouts.
type DialConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	IoTimeout time.Duration `yaml:"io_timeout"`
}

// SslConfig holds the encrypted transport settings. An empty key file means
// plain transport.
type SslConfig struct {
	KeyFile  string `yaml:"key_file"`
	CertFile string `yaml:"cert_file"`
	CaFile   string `yaml:"ca_file"`
	Ciphers  string `yaml:"ciphers"`
}

// LoadConfig reads a YAML config file and expands ${VAR} environment
// variables, then applies defaults and validates.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Dial.Timeout == 0 {
		c.Dial.Timeout = 10 * time.Second
	}
	if c.Dial.IoTimeout == 0 {
		c.Dial.IoTimeout = 30 * time.Second
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.InternalUser.User == "" && c.InternalUser.Password != "" {
		return fmt.Errorf("internal_user: password set without a user")
	}
	if c.Ssl.KeyFile == "" && c.Ssl.CertFile != "" {
		return fmt.Errorf("ssl: cert_file set without a key_file")
	}
	if c.Ssl.KeyFile != "" && c.Ssl.CertFile == "" {
		return fmt.Errorf("ssl: key_file set without a cert_file")
	}
	if c.Dial.Timeout < 0 || c.Dial.IoTimeout < 0 {
		return fmt.Errorf("dial: timeouts must not be negative")
	}
	return nil
}

// DialOpts derives transport options from the configuration.
func (c *Config) DialOpts() DialOpts {
	return DialOpts{
		DialTimeout: c.Dial.Timeout,
		IoTimeout:   c.Dial.IoTimeout,
	}
}

// Dialer picks the transport the configuration asks for.
func (c *Config) Dialer() Dialer {
	if c.Ssl.KeyFile != "" {
		return OpenSSLDialer{Ssl: SslOpts{
			KeyFile:  c.Ssl.KeyFile,
			CertFile: c.Ssl.CertFile,
			CaFile:   c.Ssl.CaFile,
			Ciphers:  c.Ssl.Ciphers,
		}}
	}
	return NetDialer{}
}

// Authenticator builds the internal user authenticator the configuration
// describes.
func (c *Config) Authenticator() Authenticator {
	return NewInternalAuthenticator(c.InternalUser.User, c.InternalUser.Password)
}
