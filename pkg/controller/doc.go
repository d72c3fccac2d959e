// Package controller assembles the device-side stack: the host link,
// the bus link, a frame assembler per link, and the dispatch router,
// all driven from a single goroutine.
//
// The controller never blocks on input. Step advances the clocks, polls
// the host link, then polls the bus, moving at most one frame per
// interface per step; a flooding bus cannot starve the host side. Run
// repeats Step on a fixed interval until the context ends.
//
// Nothing in this package is safe for concurrent use. Whoever calls Run
// owns the controller until it returns.
package controller
