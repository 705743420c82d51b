/*
Package log provides structured logging for aoecas using zerolog.

Init configures the global Logger once at startup from the parsed
configuration (level, JSON vs. console output). Subsystems derive a
child logger scoped to themselves via WithComponent, WithTarget,
WithConn, or WithFrame rather than logging through the global Logger
directly, so every line carries enough context to trace a single frame
or connection through the system without a request-scoped context value.
*/
package log
