/*
Package log provides structured logging shared by the supervisor and every
agent process using zerolog.

Each process calls Init once at startup, then derives child loggers via
WithComponent, WithRole, and WithWorkID so that log lines from six
concurrently running agent processes can be attributed without a shared
log server: every line already carries the fields needed to filter by
process and by work unit.

# Configuration

Level controls verbosity (debug/info/warn/error). JSONOutput selects JSON
lines suitable for ingestion versus a human-readable console writer used
during local development. Output defaults to stdout.

# Conventions

	log.WithComponent("supervisor")
	log.WithRole("code_developer")
	log.WithWorkID(workID)

Agents chain these: a code_developer's logger is built once at startup as
WithComponent("agent").WithRole(role) and then per-tick calls add
WithWorkID(unit.ID) only while a unit is claimed.
*/
package log
