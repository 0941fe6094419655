/*
Package log provides structured logging for pubparam using zerolog.

A single package-level zerolog.Logger is shared by every package. Components
derive child loggers that carry a fixed field, so a line emitted by the fan-out
engine can be told apart from one emitted by the deadline scheduler or by an
individual event loop.

# Configuration

	log.Init(log.Config{
		Level:      log.ParseLevel("debug"),
		JSONOutput: false, // console writer, millisecond timestamps
	})

Output defaults to stderr so that CLI status lines on stdout stay clean. Before
Init is called the logger writes JSON to stderr at the global zerolog level,
which keeps library use (and tests) quiet and parseable.

# Child Loggers

	log.WithComponent("registry")  // component=registry
	log.WithParameter("battery.voltage")
	log.WithLoop("ui")

Packages capture their child logger at construction time. Re-initialising the
global logger afterwards does not retarget already constructed components.

# Levels

  - debug: per-post and per-firing traces
  - info: lifecycle (loops started, scheduler stopped)
  - warn: recoverable misuse (duplicate create, unknown name)
  - error: delivery failures, scheduler post failures

Nothing in pubparam logs at fatal; every failure is returned to the caller.
*/
package log
