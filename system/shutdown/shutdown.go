package shutdown

import (
	"os"

	"github.com/rs/zerolog/log"
)

// ExitFunc is swapped out in tests.
var ExitFunc = os.Exit

func Shutdown() {
	log.Info().Msg("Shutting down")
	ExitFunc(0)
}

func ShutdownWithError(err error, msg string) {
	log.Error().Err(err).Msg(msg)
	ExitFunc(1)
}
