// Package config handles loading and validating the serial bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Database and broker credentials should be set via environment variables
//     (GRAYLOGIC_DB_PASSWORD, GRAYLOGIC_MQTT_PASSWORD, GRAYLOGIC_INFLUXDB_TOKEN)
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, d := range cfg.Serial.Devices {
//	    fmt.Println(d.ID, d.Port)
//	}
package config
