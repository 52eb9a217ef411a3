package testutil

import (
	"bytes"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Captures the stdout (including the log output) and the stderr produced by
// a given function. The pipes are drained concurrently so the function may
// write any amount of data.
func CaptureOutput(f func()) (stdout []byte, stderr []byte, err error) {
	rOut, wOut, err := os.Pipe()
	if err != nil {
		return nil, nil, errors.Wrap(err, "cannot create stdout pipe")
	}
	rErr, wErr, err := os.Pipe()
	if err != nil {
		return nil, nil, errors.Wrap(err, "cannot create stderr pipe")
	}

	var outBuffer, errBuffer bytes.Buffer
	var outErr, errErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, outErr = io.Copy(&outBuffer, rOut)
	}()
	go func() {
		defer wg.Done()
		_, errErr = io.Copy(&errBuffer, rErr)
	}()

	rescueStdout := os.Stdout
	rescueStderr := os.Stderr
	rescueLogOutput := logrus.StandardLogger().Out
	os.Stdout = wOut
	os.Stderr = wErr
	logrus.StandardLogger().SetOutput(wOut)

	func() {
		defer func() {
			os.Stdout = rescueStdout
			os.Stderr = rescueStderr
			logrus.StandardLogger().SetOutput(rescueLogOutput)
			wOut.Close()
			wErr.Close()
		}()
		f()
	}()

	wg.Wait()
	if outErr != nil {
		return nil, nil, errors.Wrap(outErr, "cannot read stdout")
	}
	if errErr != nil {
		return nil, nil, errors.Wrap(errErr, "cannot read stderr")
	}
	return outBuffer.Bytes(), errBuffer.Bytes(), nil
}

// Remembers the current environment variables and returns a function
// restoring them. Variables added in the meantime are removed, changed and
// removed ones get their original values back.
func CreateEnvironmentRestorePoint() func() {
	original := environMap()

	return func() {
		actual := environMap()
		for key, value := range actual {
			originalValue, exist := original[key]
			switch {
			case !exist:
				os.Unsetenv(key)
			case originalValue != value:
				os.Setenv(key, originalValue)
			}
		}
		for key, value := range original {
			if _, exist := actual[key]; !exist {
				os.Setenv(key, value)
			}
		}
	}
}

// Returns the process environment as a map.
func environMap() map[string]string {
	environ := os.Environ()
	result := make(map[string]string, len(environ))
	for _, pair := range environ {
		key, value, _ := strings.Cut(pair, "=")
		result[key] = value
	}
	return result
}

// Remembers the current os.Args and returns a function restoring them.
func CreateOsArgsRestorePoint() func() {
	original := os.Args
	return func() {
		os.Args = original
	}
}
