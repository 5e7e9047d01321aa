// Package config handles loading and parsing of configuration from YAML files
// and environment variables. It defines the ordered list of datasources that
// make up the failover set, the background heal interval, the health probe
// strategy, and the ambient server, logging and admin settings.
package config
