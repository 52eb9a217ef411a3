package leaseutil

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Defines an interface that accepts the environment variables.
type EnvironmentVariableSetter interface {
	Set(key, value string) error
}

// Sets the environment variables of the current process.
type processEnvironmentVariableSetter struct{}

// Constructs a setter that exports the variables to the process environment.
// The daemon uses it so the values loaded from the environment file are
// visible to the spawned DHCP helper programs.
func NewProcessEnvironmentVariableSetter() EnvironmentVariableSetter {
	return &processEnvironmentVariableSetter{}
}

// Sets the environment variable in the current process.
func (s *processEnvironmentVariableSetter) Set(key, value string) error {
	return errors.Wrapf(os.Setenv(key, value), "cannot set the environment variable %s", key)
}

// Single key-value entry of the environment file.
type environmentEntry struct {
	key   string
	value string
}

// Loads all entries from the environment file into the setters. The entries
// are applied in the order of appearance so the later duplicates override
// the earlier ones.
func LoadEnvironmentFileToSetter(path string, setters ...EnvironmentVariableSetter) error {
	entries, err := loadEnvironmentFile(path)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		for _, setter := range setters {
			err = setter.Set(entry.key, entry.value)
			if err != nil {
				return errors.WithMessagef(err, "cannot set value for key: '%s'", entry.key)
			}
		}
	}

	return nil
}

// Loads all entries from the environment file into a map.
func LoadEnvironmentFile(path string) (map[string]string, error) {
	entries, err := loadEnvironmentFile(path)
	if err != nil {
		return nil, err
	}
	data := make(map[string]string, len(entries))
	for _, entry := range entries {
		data[entry.key] = entry.value
	}
	return data, nil
}

// Opens the environment file and parses its entries.
func loadEnvironmentFile(path string) ([]environmentEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open the '%s' environment file", path)
	}
	defer file.Close()
	return loadEnvironmentEntries(file)
}

// Loads all entries from a given reader.
func loadEnvironmentEntries(reader io.Reader) ([]environmentEntry, error) {
	var entries []environmentEntry
	scanner := bufio.NewScanner(reader)

	lineIdx := 0
	for scanner.Scan() {
		lineIdx++
		key, value, err := loadEnvironmentLine(scanner.Text())
		if err != nil {
			return nil, errors.WithMessagef(err, "invalid line %d of environment file", lineIdx)
		}
		if key == "" {
			// Comment or empty line.
			continue
		}
		entries = append(entries, environmentEntry{key: key, value: value})
	}

	return entries, errors.Wrap(scanner.Err(), "cannot read the environment file")
}

// Parses a line of the environment file.
func loadEnvironmentLine(line string) (string, string, error) {
	line = strings.TrimSpace(line)

	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", nil
	}

	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return "", "", errors.Errorf("line must contain the key and value separated by the '=' sign")
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", errors.Errorf("key cannot be empty")
	}

	return key, strings.Trim(strings.TrimSpace(value), `"`), nil
}
