// Package router routes connection requests to the first healthy backend in
// registry order, healing all backends inline when none is healthy.
package router
