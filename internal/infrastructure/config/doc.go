// Package config handles loading and validating Hydro Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (HYDROCORE_*)
//   - Validation of required fields, floor identifiers and secrets
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token, JWT secret) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Site.Floors)
package config
