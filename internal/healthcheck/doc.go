// Package healthcheck decides whether connection sources are usable and
// keeps backends healed in the background.
//
// A Probe answers the health question for one source. The Healer sweeps a
// fixed set of targets on an interval, and Sweep is shared with the router
// for on-demand healing when a request finds no healthy backend.
package healthcheck
