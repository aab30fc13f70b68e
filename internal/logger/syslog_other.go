//go:build windows || plan9

package logger

import (
	"errors"
	"io"
)

func openSyslog() (io.Writer, func() error, error) {
	return nil, nil, errors.New("syslog is not supported on this platform")
}
