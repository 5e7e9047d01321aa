// Package backend implements ManagedBackend: one named database backend whose
// pooled connection source can be swapped out while traffic keeps flowing.
//
// The backend caches a health flag that the router reads on every request
// without touching the network. The flag is refreshed by probes, by every
// connection attempt, and by healing. Healing uses double-checked locking: a
// lock-free probe handles the common healthy case, and only a failed probe
// takes the per-backend lock, re-probes, and replaces the source.
package backend
