package main

import (
	"direct-booking/cmd"
	"direct-booking/internal/logging"
)

func main() {
	if err := cmd.Start(); err != nil {
		logging.Fatal().Err(err).Msg("booking engine stopped")
	}
}
