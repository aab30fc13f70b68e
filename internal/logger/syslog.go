//go:build !windows && !plan9

package logger

import (
	"io"
	"log/syslog"
)

const syslogTag = "oximeter-bridge"

// openSyslog connects to the local syslog daemon. Records keep their slog
// formatting and are sent at info priority.
func openSyslog() (io.Writer, func() error, error) {
	w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, syslogTag)
	if err != nil {
		return nil, nil, err
	}
	return w, w.Close, nil
}
