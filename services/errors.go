package services

import (
	"errors"
	"fmt"
)

var errEmptyName = errors.New("name is required")

func errInvalidCode(code string) error {
	return fmt.Errorf("lobby code must be 4 letters: %q", code)
}
