// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/netSkope/sharepoint-extractor/internal/secrets"
	"gopkg.in/yaml.v3"
)

// Keys of the credentials file and the generated env file.
const (
	KeyClientID     = "CLIENT_ID"
	KeyClientSecret = "CLIENT_SECRET"
	KeyTenantID     = "TENANT_ID"
	KeyHostname     = "SHAREPOINT_HOSTNAME"
	KeySiteName     = "SHAREPOINT_SITE_NAME"
	KeyListName     = "SHAREPOINT_LIST_NAME"
	KeyListFields   = "SHAREPOINT_LIST_FIELDS"
	KeyOutputFile   = "OUTPUT_FILENAME"
)

const (
	DefaultConfigFile    = "extractor-config.yaml"
	DefaultOutputFile    = "output.csv"
	DefaultEnvFile       = ".env"
	DefaultAuthorityBase = "https://login.microsoftonline.com"
	DefaultGraphRoot     = "https://graph.microsoft.com/v1.0"
	DefaultGraphScope    = "https://graph.microsoft.com/.default"
	DefaultCSVDelimiter  = ","
	DefaultMySQLPort     = 3306
	DefaultMySQLDatabase = "sharepoint"
)

// Config holds all configuration for the extractor.
type Config struct {
	// Entra ID application
	ClientID     string
	ClientSecret string
	TenantID     string

	// SharePoint target
	Hostname   string
	SiteName   string
	ListName   string
	ListFields string // comma separated, in output column order
	OutputFile string

	// Endpoints
	AuthorityBase string
	GraphRoot     string
	GraphScope    string
	HTTPTimeout   int // seconds, 0 keeps the client default

	// CSV Options
	CSVDelimiter string

	// Secrets hand-off
	CredentialsFile string // explicit credentials file, skips the secure location
	EnvFile         string
	KeepEnv         bool

	// Logging
	LogDir    string
	LogName   string
	Debug     bool
	LogStdout bool

	// Optional: S3 copy of the export
	S3Bucket    string
	S3Prefix    string
	AWSRegion   string
	AWSEndpoint string

	// Optional: static AWS keys, otherwise the SDK default chain
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSSessionToken    string

	// Optional: client secret from AWS Secrets Manager
	ClientSecretID string
	SecretRegion   string

	// Optional: MySQL mirror of the export
	MySQLHost     string
	MySQLPort     int
	MySQLUser     string
	MySQLPassword string
	MySQLDatabase string
	MySQLTable    string

	overrides map[string]string
}

// Binding ties a configuration key to its environment variable, YAML key and
// CLI flag.
type Binding struct {
	Env   string
	Flag  string
	Usage string
	set   setter
}

type setter struct {
	apply  func(c *Config, v string) error
	isBool bool
}

// YAMLKey is the key used for the binding in the YAML config file.
func (b Binding) YAMLKey() string {
	return strings.ToLower(b.Env)
}

// IsBool reports whether the binding holds a boolean.
func (b Binding) IsBool() bool {
	return b.set.isBool
}

func str(dst func(*Config) *string) setter {
	return setter{apply: func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}}
}

func num(dst func(*Config) *int) setter {
	return setter{apply: func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("not an integer: %q", v)
		}
		*dst(c) = n
		return nil
	}}
}

func boolean(dst func(*Config) *bool) setter {
	return setter{isBool: true, apply: func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("not a boolean: %q", v)
		}
		*dst(c) = b
		return nil
	}}
}

// Bindings lists every configuration key in the order flags are registered.
var Bindings = []Binding{
	{KeyClientID, "client-id", "Entra ID application (client) ID", str(func(c *Config) *string { return &c.ClientID })},
	{KeyClientSecret, "client-secret", "Entra ID client secret", str(func(c *Config) *string { return &c.ClientSecret })},
	{KeyTenantID, "tenant-id", "Entra ID tenant ID", str(func(c *Config) *string { return &c.TenantID })},
	{KeyHostname, "hostname", "SharePoint hostname (e.g. contoso.sharepoint.com)", str(func(c *Config) *string { return &c.Hostname })},
	{KeySiteName, "site-name", "SharePoint site display name", str(func(c *Config) *string { return &c.SiteName })},
	{KeyListName, "list-name", "SharePoint list name", str(func(c *Config) *string { return &c.ListName })},
	{KeyListFields, "fields", "Comma separated list fields to export", str(func(c *Config) *string { return &c.ListFields })},
	{KeyOutputFile, "output", "Output CSV file (default: output.csv)", str(func(c *Config) *string { return &c.OutputFile })},

	{"SPX_AUTHORITY", "authority", "Identity authority base URL", str(func(c *Config) *string { return &c.AuthorityBase })},
	{"SPX_GRAPH_ROOT", "graph-root", "Microsoft Graph API root", str(func(c *Config) *string { return &c.GraphRoot })},
	{"SPX_GRAPH_SCOPE", "graph-scope", "Token scope", str(func(c *Config) *string { return &c.GraphScope })},
	{"SPX_HTTP_TIMEOUT", "http-timeout", "HTTP timeout in seconds (0: client default)", num(func(c *Config) *int { return &c.HTTPTimeout })},
	{"SPX_CSV_DELIMITER", "csv-delimiter", "CSV delimiter (default: ,)", str(func(c *Config) *string { return &c.CSVDelimiter })},

	{"SPX_CREDENTIALS_FILE", "credentials", "Credentials file (default: secure per-user location)", str(func(c *Config) *string { return &c.CredentialsFile })},
	{"SPX_ENV_FILE", "env-file", "Generated env file (default: .env)", str(func(c *Config) *string { return &c.EnvFile })},
	{"SPX_KEEP_ENV", "keep-env", "Keep the generated env file after the run", boolean(func(c *Config) *bool { return &c.KeepEnv })},

	{"SPX_LOG_DIR", "log-dir", "Log directory (default: temp dir)", str(func(c *Config) *string { return &c.LogDir })},
	{"SPX_LOG_NAME", "log-name", "Log file name without extension", str(func(c *Config) *string { return &c.LogName })},
	{"SPX_DEBUG", "debug", "Enable debug logging", boolean(func(c *Config) *bool { return &c.Debug })},
	{"SPX_LOG_STDOUT", "log-stdout", "Write JSON logs to stdout instead of a file", boolean(func(c *Config) *bool { return &c.LogStdout })},

	{"SPX_S3_BUCKET", "s3-bucket", "Copy the export to this S3 bucket", str(func(c *Config) *string { return &c.S3Bucket })},
	{"SPX_S3_PREFIX", "s3-prefix", "S3 key prefix", str(func(c *Config) *string { return &c.S3Prefix })},
	{"SPX_AWS_REGION", "aws-region", "AWS region", str(func(c *Config) *string { return &c.AWSRegion })},
	{"AWS_ENDPOINT_URL", "aws-endpoint", "Custom AWS endpoint (LocalStack)", str(func(c *Config) *string { return &c.AWSEndpoint })},

	{"SPX_AWS_ACCESS_KEY_ID", "aws-access-key-id", "AWS access key ID (default: SDK credential chain)", str(func(c *Config) *string { return &c.AWSAccessKeyID })},
	{"SPX_AWS_SECRET_ACCESS_KEY", "aws-secret-access-key", "AWS secret access key", str(func(c *Config) *string { return &c.AWSSecretAccessKey })},
	{"SPX_AWS_SESSION_TOKEN", "aws-session-token", "AWS session token", str(func(c *Config) *string { return &c.AWSSessionToken })},

	{"SPX_CLIENT_SECRET_ID", "client-secret-id", "AWS Secrets Manager secret holding the client secret", str(func(c *Config) *string { return &c.ClientSecretID })},
	{"SPX_SECRET_REGION", "secret-region", "AWS region for Secrets Manager", str(func(c *Config) *string { return &c.SecretRegion })},

	{"SPX_MYSQL_HOST", "mysql-host", "Mirror the export into MySQL at this host", str(func(c *Config) *string { return &c.MySQLHost })},
	{"SPX_MYSQL_PORT", "mysql-port", "MySQL port (default: 3306)", num(func(c *Config) *int { return &c.MySQLPort })},
	{"SPX_MYSQL_USER", "mysql-user", "MySQL username", str(func(c *Config) *string { return &c.MySQLUser })},
	{"SPX_MYSQL_PASSWORD", "mysql-password", "MySQL password", str(func(c *Config) *string { return &c.MySQLPassword })},
	{"SPX_MYSQL_DATABASE", "mysql-database", "MySQL database (default: sharepoint)", str(func(c *Config) *string { return &c.MySQLDatabase })},
	{"SPX_MYSQL_TABLE", "mysql-table", "MySQL table (default: list name)", str(func(c *Config) *string { return &c.MySQLTable })},
}

// Options controls LoadConfig.
type Options struct {
	ConfigFile string
	// Overrides maps binding env keys to values set on the command line.
	Overrides map[string]string
	// Getenv defaults to os.LookupEnv.
	Getenv func(string) (string, bool)
}

// LoadConfig loads configuration from CLI overrides, environment variables and
// a YAML file. Priority: CLI flags > environment variables > YAML file > defaults.
// The credentials file is merged later with ApplySecrets.
func LoadConfig(opts Options) (*Config, error) {
	cfg := &Config{overrides: opts.Overrides}

	configFile := opts.ConfigFile
	if configFile == "" {
		configFile = DefaultConfigFile
	}
	if err := loadFromYAML(cfg, configFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	lookup := opts.Getenv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := cfg.apply(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Apply(opts.Overrides); err != nil {
		return nil, err
	}

	cfg.setDefaults()
	return cfg, nil
}

// ApplySecrets merges values from the generated env file. They replace
// YAML and environment values; CLI overrides still win.
func (c *Config) ApplySecrets(values map[string]string) error {
	if err := c.Apply(values); err != nil {
		return err
	}
	if err := c.Apply(c.overrides); err != nil {
		return err
	}
	c.setDefaults()
	return nil
}

// ApplyEnvFile reads a generated env file and merges it with ApplySecrets.
func (c *Config) ApplyEnvFile(path string) error {
	values, err := secrets.Read(path)
	if err != nil {
		return err
	}
	return c.ApplySecrets(values)
}

// Apply sets every binding present in values.
func (c *Config) Apply(values map[string]string) error {
	return c.apply(func(k string) (string, bool) {
		v, ok := values[k]
		return v, ok
	})
}

func (c *Config) apply(lookup func(string) (string, bool)) error {
	for _, b := range Bindings {
		v, ok := lookup(b.Env)
		if !ok || v == "" {
			continue
		}
		if err := b.set.apply(c, v); err != nil {
			return fmt.Errorf("%s: %w", b.Env, err)
		}
	}
	return nil
}

// loadFromYAML loads configuration from a YAML file keyed by lower-cased
// binding names (client_id, sharepoint_site_name, spx_s3_bucket, ...).
func loadFromYAML(cfg *Config, filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return err
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}

	values := make(map[string]string, len(raw))
	for _, b := range Bindings {
		if v, ok := raw[b.YAMLKey()]; ok && v != nil {
			values[b.Env] = fmt.Sprint(v)
		}
	}
	return cfg.Apply(values)
}

func (c *Config) setDefaults() {
	if c.OutputFile == "" {
		c.OutputFile = DefaultOutputFile
	}
	if c.AuthorityBase == "" {
		c.AuthorityBase = DefaultAuthorityBase
	}
	if c.GraphRoot == "" {
		c.GraphRoot = DefaultGraphRoot
	}
	if c.GraphScope == "" {
		c.GraphScope = DefaultGraphScope
	}
	if c.CSVDelimiter == "" {
		c.CSVDelimiter = DefaultCSVDelimiter
	}
	if c.EnvFile == "" {
		c.EnvFile = DefaultEnvFile
	}
	if c.MySQLPort == 0 {
		c.MySQLPort = DefaultMySQLPort
	}
	if c.MySQLDatabase == "" {
		c.MySQLDatabase = DefaultMySQLDatabase
	}
	if c.SecretRegion == "" {
		c.SecretRegion = c.AWSRegion
	}
}

// Fields returns the requested list fields, trimmed. Empty entries are kept
// as empty columns; a setting without any named field yields nil.
func (c *Config) Fields() []string {
	fields := strings.Split(c.ListFields, ",")
	named := false
	for i, f := range fields {
		fields[i] = strings.TrimSpace(f)
		named = named || fields[i] != ""
	}
	if !named {
		return nil
	}
	return fields
}

// Authority returns the identity authority URL for the tenant.
func (c *Config) Authority() string {
	return strings.TrimRight(c.AuthorityBase, "/") + "/" + c.TenantID
}

// Timeout returns the configured HTTP timeout, zero when unset.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.HTTPTimeout) * time.Second
}

// Lookup returns the current value for a binding env key.
func (c *Config) Lookup(key string) string {
	switch key {
	case KeyClientID:
		return c.ClientID
	case KeyClientSecret:
		return c.ClientSecret
	case KeyTenantID:
		return c.TenantID
	case KeyHostname:
		return c.Hostname
	case KeySiteName:
		return c.SiteName
	case KeyListName:
		return c.ListName
	case KeyListFields:
		return c.ListFields
	case KeyOutputFile:
		return c.OutputFile
	}
	return ""
}

// Missing returns the keys whose values are empty.
func (c *Config) Missing(keys ...string) []string {
	var missing []string
	for _, k := range keys {
		if strings.TrimSpace(c.Lookup(k)) == "" {
			missing = append(missing, k)
		}
	}
	return missing
}

// SiteKeys are required before the site can be resolved.
var SiteKeys = []string{KeyClientID, KeyClientSecret, KeyTenantID, KeyHostname, KeySiteName}

// ListKeys are required before the list can be extracted.
var ListKeys = []string{KeyListName, KeyListFields}

// RequiredKeys must all be non-empty before a run touches the network.
var RequiredKeys = append(append([]string{}, SiteKeys...), ListKeys...)

// Validate returns an error naming every missing required key.
func (c *Config) Validate() error {
	if missing := c.Missing(RequiredKeys...); len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if len(c.Fields()) == 0 {
		return fmt.Errorf("%s names no fields", KeyListFields)
	}
	return nil
}

// GetMySQLDSN returns the MySQL connection string.
func (c *Config) GetMySQLDSN() string {
	host := c.MySQLHost
	if c.MySQLPort > 0 && c.MySQLPort != DefaultMySQLPort {
		host = fmt.Sprintf("%s:%d", c.MySQLHost, c.MySQLPort)
	}

	dsn := fmt.Sprintf("tcp(%s)/%s?parseTime=true", host, c.MySQLDatabase)
	if c.MySQLUser != "" {
		if c.MySQLPassword != "" {
			dsn = fmt.Sprintf("%s:%s@%s", c.MySQLUser, c.MySQLPassword, dsn)
		} else {
			dsn = fmt.Sprintf("%s@%s", c.MySQLUser, dsn)
		}
	}
	return dsn
}
