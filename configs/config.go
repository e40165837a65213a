// Package configs loads the keeper's YAML configuration file and
// applies KEEPER_-prefixed environment variable overrides on top of it.
package configs

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the keeper's full runtime configuration.
type Config struct {
	RPCURL                   string                `yaml:"rpc_url"`
	WSURL                    string                `yaml:"ws_url"`
	PrivateKey               string                `yaml:"private_key"`
	NAVRecalcInterval        int                   `yaml:"nav_recalc_interval"`
	LiquidationCheckInterval int                   `yaml:"liquidation_check_interval"`
	StorePath                string                `yaml:"store_path"`
	MySQLDSN                 string                `yaml:"mysql_dsn"`
	Contracts                ContractsConfig       `yaml:"contracts"`
	EventMonitoring          EventMonitoringConfig `yaml:"event_monitoring"`
}

// ContractsConfig carries the 20-byte addresses of the four protocol
// contracts plus the price oracle.
type ContractsConfig struct {
	Custodian          string `yaml:"custodian"`
	LiquidationManager string `yaml:"liquidation_manager"`
	AuctionManager     string `yaml:"auction_manager"`
	InterestManager    string `yaml:"interest_manager"`
	Token              string `yaml:"token"`
	Oracle             string `yaml:"oracle"`
}

// EventMonitoringConfig tunes the Ingestion Pipeline's replay/polling
// behavior.
type EventMonitoringConfig struct {
	PollingIntervalSecs      int    `yaml:"polling_interval_secs"`
	MaxLogsPerRequest        int    `yaml:"max_logs_per_request"`
	BatchSize                int    `yaml:"batch_size"`
	ColdStartBacktraceBlocks uint64 `yaml:"cold_start_backtrace_blocks"`
}

func defaults() Config {
	return Config{
		NAVRecalcInterval:        300,
		LiquidationCheckInterval: 30,
		StorePath:                "keeper-data",
		EventMonitoring: EventMonitoringConfig{
			PollingIntervalSecs:      10,
			MaxLogsPerRequest:        1000,
			BatchSize:                50,
			ColdStartBacktraceBlocks: 100000,
		},
	}
}

// LoadConfig reads and parses the YAML config file at path, applying
// defaults for any key the file leaves unset, then KEEPER_-prefixed
// environment variable overrides on top.
func LoadConfig(path string) (*Config, error) {
	config := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("configs: read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("configs: parse config YAML: %w", err)
	}

	applyEnvOverrides("KEEPER", reflect.ValueOf(&config).Elem())

	return &config, nil
}

// applyEnvOverrides walks cfg's fields, building an env var name from
// prefix and each field's yaml tag (e.g. KEEPER_CONTRACTS_ORACLE for
// Contracts.Oracle), and overwrites the field if that variable is set.
func applyEnvOverrides(prefix string, v reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("yaml")
		if tag == "" {
			continue
		}
		envName := prefix + "_" + strings.ToUpper(tag)
		fv := v.Field(i)

		if fv.Kind() == reflect.Struct {
			applyEnvOverrides(envName, fv)
			continue
		}

		raw, ok := os.LookupEnv(envName)
		if !ok {
			continue
		}
		setFromEnv(fv, raw)
	}
}

func setFromEnv(fv reflect.Value, raw string) {
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Int, reflect.Int64:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			fv.SetInt(n)
		}
	case reflect.Uint, reflect.Uint64:
		if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
			fv.SetUint(n)
		}
	}
}
