package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dmitrijs2005/fedid/internal/flagx"
	"github.com/dmitrijs2005/fedid/internal/timex"
)

// FileRateLimitPolicy is the on-disk form of RateLimitPolicy.
type FileRateLimitPolicy struct {
	Window *timex.Duration `json:"window" toml:"window"`
	Max    *int            `json:"max" toml:"max"`
}

// FileConfig is an intermediate DTO used only for reading configuration
// files. Pointer fields distinguish "absent" from "zero", so a file only
// overrides what it mentions. Durations accept strings such as "24h".
type FileConfig struct {
	EndpointAddrHTTP              *string         `json:"endpoint_addr_http" toml:"endpoint_addr_http"`
	EndpointAddrGRPC              *string         `json:"endpoint_addr_grpc" toml:"endpoint_addr_grpc"`
	DatabaseDSN                   *string         `json:"database_dsn" toml:"database_dsn"`
	ServerName                    *string         `json:"server_name" toml:"server_name"`
	LogFormat                     *string         `json:"log_format" toml:"log_format"`
	PepperRotationInterval        *timex.Duration `json:"pepper_rotation_interval" toml:"pepper_rotation_interval"`
	DirectoryRefreshInterval      *timex.Duration `json:"directory_refresh_interval" toml:"directory_refresh_interval"`
	AdditionalFeatures            *bool           `json:"additional_features" toml:"additional_features"`
	TrustedServers                []string        `json:"trusted_servers_addresses" toml:"trusted_servers_addresses"`
	TrustXForwardedFor            *bool           `json:"trust_x_forwarded_for" toml:"trust_x_forwarded_for"`
	MaxAddressesPerLookup         *int            `json:"max_addresses_per_lookup" toml:"max_addresses_per_lookup"`
	FederationServers             []string        `json:"federation_servers" toml:"federation_servers"`
	FederationAcceptUnknownPepper *bool           `json:"federation_accept_unknown_pepper" toml:"federation_accept_unknown_pepper"`
	FederationPushTimeout         *timex.Duration `json:"federation_push_timeout" toml:"federation_push_timeout"`
	FederationAccessToken         *string         `json:"federation_access_token" toml:"federation_access_token"`
	RedisAddr                     *string         `json:"redis_addr" toml:"redis_addr"`

	RateLimits struct {
		HashDetails FileRateLimitPolicy `json:"hash_details" toml:"hash_details"`
		Lookup      FileRateLimitPolicy `json:"lookup" toml:"lookup"`
		Lookups     FileRateLimitPolicy `json:"lookups" toml:"lookups"`
	} `json:"rate_limits" toml:"rate_limits"`

	Directory struct {
		Source         *string `json:"source" toml:"source"`
		SQLQuery       *string `json:"sql_query" toml:"sql_query"`
		S3Bucket       *string `json:"s3_bucket" toml:"s3_bucket"`
		S3Key          *string `json:"s3_key" toml:"s3_key"`
		S3Region       *string `json:"s3_region" toml:"s3_region"`
		S3RootUser     *string `json:"s3_root_user" toml:"s3_root_user"`
		S3RootPassword *string `json:"s3_root_password" toml:"s3_root_password"`
		S3BaseEndpoint *string `json:"s3_base_endpoint" toml:"s3_base_endpoint"`
	} `json:"directory" toml:"directory"`
}

// parseFile loads configuration values from the file named by -c/-config.
// Files ending in .toml are decoded with BurntSushi/toml, anything else as
// JSON. If no file is named nothing happens; an unreadable or invalid file
// panics, since the server must not start half-configured.
func parseFile(config *Config) {
	path := flagx.ConfigFileFlag()
	if path == "" {
		return
	}

	c := &FileConfig{}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, c); err != nil {
			panic(err)
		}
	} else {
		file, err := os.ReadFile(path)
		if err != nil {
			panic(err)
		}
		if err := json.Unmarshal(file, c); err != nil {
			panic(err)
		}
	}

	c.apply(config)
}

func (c *FileConfig) apply(config *Config) {
	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.ServerName, c.ServerName)
	setString(&config.LogFormat, c.LogFormat)
	setDuration(&config.PepperRotationInterval, c.PepperRotationInterval)
	setDuration(&config.DirectoryRefreshInterval, c.DirectoryRefreshInterval)
	setBool(&config.AdditionalFeatures, c.AdditionalFeatures)
	if c.TrustedServers != nil {
		config.TrustedServers = c.TrustedServers
	}
	setBool(&config.TrustXForwardedFor, c.TrustXForwardedFor)
	setInt(&config.MaxAddressesPerLookup, c.MaxAddressesPerLookup)
	if c.FederationServers != nil {
		config.FederationServers = c.FederationServers
	}
	setBool(&config.FederationAcceptUnknownPepper, c.FederationAcceptUnknownPepper)
	setDuration(&config.FederationPushTimeout, c.FederationPushTimeout)
	setString(&config.FederationAccessToken, c.FederationAccessToken)
	setString(&config.RedisAddr, c.RedisAddr)

	c.RateLimits.HashDetails.apply(&config.RateLimits.HashDetails)
	c.RateLimits.Lookup.apply(&config.RateLimits.Lookup)
	c.RateLimits.Lookups.apply(&config.RateLimits.Lookups)

	d := &config.Directory
	setString(&d.Source, c.Directory.Source)
	setString(&d.SQLQuery, c.Directory.SQLQuery)
	setString(&d.S3Bucket, c.Directory.S3Bucket)
	setString(&d.S3Key, c.Directory.S3Key)
	setString(&d.S3Region, c.Directory.S3Region)
	setString(&d.S3RootUser, c.Directory.S3RootUser)
	setString(&d.S3RootPassword, c.Directory.S3RootPassword)
	setString(&d.S3BaseEndpoint, c.Directory.S3BaseEndpoint)
}

func (p FileRateLimitPolicy) apply(dst *RateLimitPolicy) {
	setDuration(&dst.Window, p.Window)
	setInt(&dst.Max, p.Max)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
