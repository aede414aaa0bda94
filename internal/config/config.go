// Package config assembles runtime settings from defaults, an optional .env
// file, environment variables and command-line flags, in that order of
// increasing precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable of the API and its tools.
type Config struct {
	HTTPAddr string
	GRPCAddr string

	DatabaseDSN   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SessionSecret string
	SessionTTL    time.Duration
	SetupTTL      time.Duration
	CookieSecure  bool

	AdminEmail    string
	AdminPassword string

	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	MapsAPIKey string

	MemberCacheTTL time.Duration
	AuthRateLimit  float64
	AuthRateBurst  int
	CORSOrigins    []string
	// TrustedProxies are the peers whose X-Forwarded-For header is believed.
	TrustedProxies []netip.Prefix
	LogLevel       string

	Version string
	Commit  string

	// Args are the positional arguments left after flag parsing.
	Args []string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPAddr:       ":8080",
		GRPCAddr:       ":9090",
		SessionTTL:     7 * 24 * time.Hour,
		SetupTTL:       15 * time.Minute,
		SMTPPort:       587,
		MemberCacheTTL: 5 * time.Second,
		AuthRateLimit:  1,
		AuthRateBurst:  10,
		CORSOrigins:    []string{"*"},
		LogLevel:       "info",
		Version:        "dev",
		Commit:         "none",
	}
}

// Load builds the configuration. The .env file named by FAM_ENV_FILE (default
// ".env") is optional and never overrides variables already set.
func Load(args []string) (*Config, error) {
	envFile := strings.TrimSpace(os.Getenv("FAM_ENV_FILE"))
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load %s: %w", envFile, err)
	}

	cfg := Default()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.parseFlags(args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
				*dst = strings.TrimSpace(v)
				return
			}
		}
	}
	var errs []error
	num := func(dst *int, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(dst *time.Duration, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str(&c.HTTPAddr, "FAM_HTTP_ADDR")
	str(&c.GRPCAddr, "FAM_GRPC_ADDR")
	str(&c.DatabaseDSN, "FAM_DATABASE_DSN", "DATABASE_URL")
	str(&c.RedisAddr, "FAM_REDIS_ADDR")
	str(&c.RedisPassword, "FAM_REDIS_PASSWORD")
	num(&c.RedisDB, "FAM_REDIS_DB")
	str(&c.SessionSecret, "FAM_SESSION_SECRET")
	dur(&c.SessionTTL, "FAM_SESSION_TTL")
	dur(&c.SetupTTL, "FAM_SETUP_TTL")
	str(&c.AdminEmail, "ADMIN_EMAIL")
	str(&c.AdminPassword, "ADMIN_PASSWORD")
	str(&c.SMTPHost, "EMAIL_HOST")
	num(&c.SMTPPort, "EMAIL_PORT")
	str(&c.SMTPUser, "EMAIL_USER")
	str(&c.SMTPPass, "EMAIL_PASS")
	str(&c.SMTPFrom, "EMAIL_FROM")
	str(&c.MapsAPIKey, "MAPS_API_KEY", "NEXT_PUBLIC_GOOGLE_MAPS_API_KEY")
	dur(&c.MemberCacheTTL, "FAM_MEMBER_CACHE_TTL")
	str(&c.LogLevel, "FAM_LOG_LEVEL")
	str(&c.Version, "FAM_VERSION")
	str(&c.Commit, "FAM_COMMIT")
	num(&c.AuthRateBurst, "FAM_AUTH_RATE_BURST")

	if v, ok := lookup("FAM_AUTH_RATE_LIMIT"); ok && strings.TrimSpace(v) != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: FAM_AUTH_RATE_LIMIT: %w", err))
		} else {
			c.AuthRateLimit = f
		}
	}
	if v, ok := lookup("FAM_COOKIE_SECURE"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("config: FAM_COOKIE_SECURE: %w", err))
		} else {
			c.CookieSecure = b
		}
	}
	if v, ok := lookup("FAM_CORS_ORIGINS"); ok && strings.TrimSpace(v) != "" {
		c.CORSOrigins = splitList(v)
	}
	if v, ok := lookup("FAM_TRUSTED_PROXIES"); ok && strings.TrimSpace(v) != "" {
		prefixes, err := ParsePrefixes(splitList(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("config: FAM_TRUSTED_PROXIES: %w", err))
		} else {
			c.TrustedProxies = prefixes
		}
	}
	return errors.Join(errs...)
}

func (c *Config) parseFlags(args []string) error {
	set := flag.NewFlagSet("famlocator", flag.ContinueOnError)
	set.StringVar(&c.HTTPAddr, "http", c.HTTPAddr, "HTTP listen address")
	set.StringVar(&c.GRPCAddr, "grpc", c.GRPCAddr, "gRPC listen address (empty disables)")
	set.StringVar(&c.DatabaseDSN, "dsn", c.DatabaseDSN, "PostgreSQL DSN (empty uses the in-memory store)")
	set.StringVar(&c.RedisAddr, "redis", c.RedisAddr, "Redis address for live fan-out and caching (optional)")
	set.DurationVar(&c.SessionTTL, "session-ttl", c.SessionTTL, "session lifetime")
	set.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level")
	origins := set.String("cors-origins", strings.Join(c.CORSOrigins, ","), "comma separated allowed origins")
	proxies := set.String("trusted-proxies", formatPrefixes(c.TrustedProxies), "comma separated proxy addresses or CIDRs allowed to set X-Forwarded-For")
	if err := set.Parse(args); err != nil {
		return err
	}
	c.CORSOrigins = splitList(*origins)
	prefixes, err := ParsePrefixes(splitList(*proxies))
	if err != nil {
		return fmt.Errorf("config: -trusted-proxies: %w", err)
	}
	c.TrustedProxies = prefixes
	c.Args = set.Args()
	return nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("config: session ttl must be positive"))
	}
	if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
		errs = append(errs, fmt.Errorf("config: invalid smtp port %d", c.SMTPPort))
	}
	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		errs = append(errs, errors.New("config: ADMIN_EMAIL and ADMIN_PASSWORD must be set together"))
	}
	if c.AuthRateLimit < 0 || c.AuthRateBurst < 0 {
		errs = append(errs, errors.New("config: rate limits must not be negative"))
	}
	return errors.Join(errs...)
}

// SMTPEnabled reports whether outgoing mail should go through SMTP.
func (c *Config) SMTPEnabled() bool { return c.SMTPHost != "" }

// ParsePrefixes accepts bare addresses and CIDR blocks. A bare address becomes
// a single-host prefix.
func ParsePrefixes(items []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, item := range items {
		if strings.Contains(item, "/") {
			p, err := netip.ParsePrefix(item)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(item)
		if err != nil {
			return nil, err
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func formatPrefixes(prefixes []netip.Prefix) string {
	parts := make([]string, len(prefixes))
	for i, p := range prefixes {
		parts[i] = p.String()
	}
	return strings.Join(parts, ",")
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
