package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
)

// CloudKindSQL and CloudKindKV identify the two kinds of addressable cluster.
const (
	CloudKindSQL = "sql"
	CloudKindKV  = "kv"
)

// DatabaseConfig declares one logical database hosted by a SQL cloud.
type DatabaseConfig struct {
	// Name is the logical database name operators select in requests. It is
	// also the database connected to, so it must be a real database on the
	// cluster.
	Name string `json:"name" validate:"required"`
}

// SQLCloud declares one relational cluster.
type SQLCloud struct {
	CloudName     string           `json:"cloudName" validate:"required"`
	Host          string           `json:"host" validate:"required"`
	Port          int              `json:"port" validate:"required,min=1,max=65535"`
	User          string           `json:"user" validate:"required"`
	Password      string           `json:"password" validate:"required"`
	Database      string           `json:"database" validate:"required"`
	Schemas       []string         `json:"schemas" validate:"required,min=1,dive,required"`
	DefaultSchema string           `json:"defaultSchema" validate:"required"`
	Databases     []DatabaseConfig `json:"db_configs" validate:"required,min=1,dive"`
}

// HasDatabase reports whether the cloud declares the named logical database.
func (c *SQLCloud) HasDatabase(name string) bool {
	for _, db := range c.Databases {
		if db.Name == name {
			return true
		}
	}
	return false
}

// KVCloud declares one key-value cluster by its seed endpoint.
type KVCloud struct {
	CloudName string `json:"cloudName" validate:"required"`
	Host      string `json:"host" validate:"required"`
	Port      int    `json:"port" validate:"required,min=1,max=65535"`
}

// CloudConfig is the full declarative cloud topology loaded at startup.
type CloudConfig struct {
	Primary     SQLCloud   `json:"primary" validate:"required"`
	Secondaries []SQLCloud `json:"secondaries" validate:"dive"`
	KVClouds    []KVCloud  `json:"kvClouds" validate:"dive"`
}

// SQLClouds returns the primary followed by every secondary cloud.
func (c *CloudConfig) SQLClouds() []SQLCloud {
	clouds := make([]SQLCloud, 0, 1+len(c.Secondaries))
	clouds = append(clouds, c.Primary)
	clouds = append(clouds, c.Secondaries...)
	return clouds
}

// SQLCloud returns the named SQL cloud, or nil if it is not declared.
func (c *CloudConfig) SQLCloud(name string) *SQLCloud {
	if c.Primary.CloudName == name {
		return &c.Primary
	}
	for i := range c.Secondaries {
		if c.Secondaries[i].CloudName == name {
			return &c.Secondaries[i]
		}
	}
	return nil
}

// KVCloud returns the named key-value cloud, or nil if it is not declared.
func (c *CloudConfig) KVCloud(name string) *KVCloud {
	for i := range c.KVClouds {
		if c.KVClouds[i].CloudName == name {
			return &c.KVClouds[i]
		}
	}
	return nil
}

// validate is the shared validator instance; struct tag rules are static.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads, substitutes and validates the cloud configuration file.
func Load(path string) (*CloudConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(raw)
}

// Parse substitutes ${VAR} and ${SECRET:name:key} references in raw JSON and
// unmarshals and validates the result.
func Parse(raw []byte) (*CloudConfig, error) {
	expanded, err := ExpandPlaceholders(raw, os.LookupEnv, DefaultSecretsDir)
	if err != nil {
		return nil, err
	}

	var cfg CloudConfig
	if err := json.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate applies struct tag rules plus cross-field checks the tags cannot
// express: cloud names must be unique across both kinds, and logical database
// names must be unique within a cloud.
func (c *CloudConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	seen := map[string]struct{}{}
	for _, cloud := range c.SQLClouds() {
		if _, dup := seen[cloud.CloudName]; dup {
			return fmt.Errorf("duplicate cloud name %q", cloud.CloudName)
		}
		seen[cloud.CloudName] = struct{}{}

		dbSeen := map[string]struct{}{}
		for _, db := range cloud.Databases {
			if _, dup := dbSeen[db.Name]; dup {
				return fmt.Errorf("cloud %q declares database %q twice", cloud.CloudName, db.Name)
			}
			dbSeen[db.Name] = struct{}{}
		}
	}
	for _, cloud := range c.KVClouds {
		if _, dup := seen[cloud.CloudName]; dup {
			return fmt.Errorf("duplicate cloud name %q", cloud.CloudName)
		}
		seen[cloud.CloudName] = struct{}{}
	}
	return nil
}
