package clipboard

import (
	"errors"
	"strings"

	"github.com/atotto/clipboard"
)

// ErrUnavailable is returned when no system clipboard utility is installed.
var ErrUnavailable = errors.New("clipboard is not available on this system")

// Copy puts text on the system clipboard, without surrounding whitespace.
func Copy(text string) error {
	if clipboard.Unsupported {
		return ErrUnavailable
	}
	return clipboard.WriteAll(strings.TrimSpace(text))
}

func Paste() (string, error) {
	if clipboard.Unsupported {
		return "", ErrUnavailable
	}
	return clipboard.ReadAll()
}
