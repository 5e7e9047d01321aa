// Package handler implements the admin HTTP API: backend status, forced
// probes and heals, and the currently active backend.
package handler
