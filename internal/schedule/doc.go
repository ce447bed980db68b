// Package schedule holds the canonical in-memory model of the APS backend's
// month index and schedule-run results. Values here are produced once at the
// client boundary (see apsclient) and treated as immutable afterwards.
package schedule
