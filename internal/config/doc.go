// Package config loads settings for the selectsense binaries.
//
// Sources, later ones winning:
//
//  1. Built-in defaults (Default)
//  2. A .env file in the working directory, which only fills unset variables
//  3. A YAML file: the path given, else ./selectsense.yaml, else
//     $XDG_CONFIG_HOME/selectsense/config.yaml
//  4. SELECTSENSE_* environment variables
//
// Example file:
//
//	log_level: debug
//	embedding:
//	  base_url: http://localhost:8080
//	  timeout: 5s
//	corpus:
//	  base_url: http://localhost:8080
//	search:
//	  mode: semantic
//	  threshold: 0.7
//	  debounce: 300ms
package config
