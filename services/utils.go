package services

import (
	"fmt"

	"www.velocidex.com/golang/memtriage/utils"
)

func notReady(name string) error {
	return fmt.Errorf("%w: %v service not ready", utils.NotFoundError, name)
}
