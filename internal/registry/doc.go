// Package registry builds the ordered, immutable set of managed backends a
// router selects from. Configuration is validated before any connection
// source is created.
package registry
