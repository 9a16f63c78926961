// Package config handles loading and validating Gray Logic Dispatch configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token, PostgreSQL DSN) should be
//     set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Durations (send timeouts, retry delays, sweep intervals) are written as Go
// duration strings in YAML, e.g. "250ms" or "30s".
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Commands.QueueCapacity)
package config
