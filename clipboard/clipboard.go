// Package clipboard copies transcripts to the system clipboard.
package clipboard

import (
	"errors"

	cb "github.com/atotto/clipboard"
)

var ErrUnavailable = errors.New("clipboard: no clipboard utility available")

// Available reports whether the platform has a usable clipboard. On Linux
// this needs xclip, xsel, wl-copy or termux-clipboard.
func Available() bool { return !cb.Unsupported }

func Copy(text string) error {
	if !Available() {
		return ErrUnavailable
	}
	return cb.WriteAll(text)
}

func Read() (string, error) {
	if !Available() {
		return "", ErrUnavailable
	}
	return cb.ReadAll()
}
