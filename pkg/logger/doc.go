// Package logger builds the process-wide structured logger. Production runs
// emit JSON; every other environment gets the human readable text handler.
package logger
