package env

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Load reads a local .env file into the process environment so viper's
// AutomaticEnv can pick up secrets such as CONTRACT_PRIVATEKEY.
func Load(files ...string) {
	err := godotenv.Load(files...)
	if err == nil {
		return
	}
	if errors.Is(err, fs.ErrNotExist) {
		log.Debug().Msg("no .env file found, using process environment")
		return
	}
	log.Error().Err(err).Msg("error loading .env file")
}
