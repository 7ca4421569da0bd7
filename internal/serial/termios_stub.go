//go:build !linux

package serial

import "fmt"

func openTermios(path string, baud int) (Source, error) {
	return nil, fmt.Errorf("termios backend not supported on this platform; use bugst")
}
