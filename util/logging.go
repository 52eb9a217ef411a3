package leaseutil

import (
	"fmt"
	"os"
	"path"
	"runtime"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Environment variable selecting the logging level.
const LogLevelEnvironmentVariable = "LEASEKEEPER_LOG_LEVEL"

// Configures the global logrus logger. The level is taken from the
// LEASEKEEPER_LOG_LEVEL environment variable and defaults to INFO.
func SetupLogging() {
	log.SetLevel(log.InfoLevel)
	if value, ok := os.LookupEnv(LogLevelEnvironmentVariable); ok {
		level, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
		if err == nil {
			log.SetLevel(level)
		} else {
			log.WithError(err).Warnf("Unknown logging level %s, using INFO", value)
		}
	}
	log.SetOutput(os.Stdout)
	log.SetReportCaller(true)
	log.SetFormatter(&log.TextFormatter{
		ForceColors:     true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			// Grab filename and line of current frame and add it to log entry
			_, filename := path.Split(f.File)
			return "", fmt.Sprintf("%20v:%-5d", filename, f.Line)
		},
	})
}
