// Package types holds the shared record types that cross package
// boundaries: crash reports and health records appended by the
// supervisor, and the per-child state summaries the status CLI reads.
//
// Types with richer behavior live with their owning package instead
// (workstore.WorkUnit, statusbus.Status, messagebus.Message); only
// records consumed by more than one package belong here.
package types
