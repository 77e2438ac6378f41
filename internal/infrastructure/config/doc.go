// Package config handles loading and validating the skinnyd service
// configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// The telephony model (lines, devices, dial behaviour) is not configured
// here; that lives in skinny.conf, parsed by the skinnyconf package. This
// file points at it via skinny_conf.
//
// Security Considerations:
//   - Sensitive values (broker passwords, telemetry tokens) should be set
//     via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.SkinnyConf)
package config
