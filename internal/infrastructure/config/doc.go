// Package config handles loading, validating and reloading the Greenscale
// edge agent configuration.
//
// This package manages:
//   - Loading configuration from YAML files (flat JSON files also parse)
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//   - Polling the file for changes between telemetry cycles
//
// Security Considerations:
//   - Broker and InfluxDB secrets should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, found, err := config.LoadOrDefault("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	watcher := config.NewWatcher("configs/config.yaml", cfg)
//	if next, changed, err := watcher.Poll(); changed {
//	    // apply next
//	}
package config
