// Package config loads roomledger configuration. Values come from Default(),
// then an optional JSON or YAML file, then ROOMLEDGER_* environment
// variables (a .env file in the working directory is read first).
//
// Example:
//
//	_ = config.LoadDotEnv()
//	cfg, err := config.Load("/etc/roomledger.yaml")
//	if err != nil {
//	    return err
//	}
//	if err := config.FromEnv(&cfg); err != nil {
//	    return err
//	}
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
package config
