// Package logging builds the zerolog logger used across the coordinator and
// node binaries, console-formatted to stderr the way
// _examples/R2Northstar-Atlas/pkg/atlas wires zerolog.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New builds a console-writer logger tagged with role ("coordinator" or
// "node"). It adds no other static fields; callers attach those (e.g. a
// node's assigned id once known) with With().
func New(role string) zerolog.Logger {
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	return zerolog.New(w).With().Timestamp().Str("role", role).Logger()
}
