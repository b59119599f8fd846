// Package config handles loading and validating voice bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Loading a .env file, if present
//   - Overriding with VOICEBRIDGE_* environment variables
//   - Validation of required fields
//
// Security Considerations:
//   - The backend API key and broker credentials should be set via environment
//     variables, not committed in the YAML file
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load(config.PathFromEnv())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.Broker.Host)
package config
