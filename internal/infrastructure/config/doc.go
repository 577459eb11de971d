// Package config handles loading and validating devio configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with DEVIO_* environment variables
//   - Validation of required fields and the boot device list
//   - Default value handling
//
// Byte sizes (buffer capacities, ramdisk sizes) are written as human strings
// such as "64KB" or "1MB" and parsed with ParseSize.
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, d := range cfg.Devices {
//	    fmt.Println(d.Name, d.Major, d.Minor)
//	}
package config
