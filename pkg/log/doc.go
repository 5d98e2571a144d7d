/*
Package log provides structured logging for wharf using zerolog.

The log package wraps the zerolog library to provide structured logging with
scoped child loggers and configurable log levels. Console output goes to
stderr so it never mixes with the operator-facing status report and verbatim
command echo on stdout; a JSONOutput flag switches to machine-readable logs.

Loggers are derived, not constructed: a package takes a component logger
from WithComponent and narrows it per service or per instance as an
operation descends.

	log.Init(log.Config{Level: log.InfoLevel})
	logger := log.WithService(log.WithComponent("orchestrator"), name)
	logger.Info().Msg("rebuild starting")
*/
package log
