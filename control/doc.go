// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration and runtime metrics for the engine.
//
// Provides:
//   - Config with engine defaults, validation and JSON loading that accepts
//     human readable sizes ("64KiB") and durations ("20s")
//   - Metrics, a set of Prometheus collectors shared by sessions
package control
