package testutil

import (
	"os"
	"path"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Sandbox is a unique temporary directory holding the files created by a
// test: configuration files, pid files, lease files and fake helper
// programs. Closing the sandbox removes the whole directory.
type Sandbox struct {
	BasePath string
}

// Creates a new sandbox in the system temporary directory.
func NewSandbox() *Sandbox {
	dir, err := os.MkdirTemp("", "leasekeeper_ut_*")
	if err != nil {
		log.Fatal(err)
	}
	return &Sandbox{BasePath: dir}
}

// Removes the sandbox and all its contents.
func (sb *Sandbox) Close() {
	os.RemoveAll(sb.BasePath)
}

// Returns the absolute path of a file within the sandbox without creating it.
func (sb *Sandbox) Path(name string) string {
	return path.Join(sb.BasePath, name)
}

// Creates an empty file in the sandbox, including the missing parent
// directories, and returns its full path.
func (sb *Sandbox) Join(name string) (string, error) {
	filePath := sb.Path(name)
	if err := os.MkdirAll(path.Dir(filePath), 0o777); err != nil {
		return "", errors.Wrapf(err, "cannot create parent directory of %s", filePath)
	}
	file, err := os.Create(filePath)
	if err != nil {
		return "", errors.Wrapf(err, "cannot create %s", filePath)
	}
	defer file.Close()
	return filePath, nil
}

// Creates a directory in the sandbox and returns its full path.
func (sb *Sandbox) JoinDir(name string) (string, error) {
	dirPath := sb.Path(name)
	if err := os.MkdirAll(dirPath, 0o777); err != nil {
		return "", errors.Wrapf(err, "cannot create directory %s", dirPath)
	}
	return dirPath, nil
}

// Creates a file with a given content.
func (sb *Sandbox) Write(name string, content string) (string, error) {
	return sb.write(name, content, 0o600)
}

// Creates an executable file with a given content, e.g. a shell script
// standing in for a DHCP client program.
func (sb *Sandbox) WriteExecutable(name string, content string) (string, error) {
	return sb.write(name, content, 0o700)
}

func (sb *Sandbox) write(name string, content string, mode os.FileMode) (string, error) {
	filePath, err := sb.Join(name)
	if err != nil {
		return "", err
	}
	if err = os.WriteFile(filePath, []byte(content), mode); err != nil {
		return "", errors.Wrapf(err, "cannot write %s", filePath)
	}
	// WriteFile does not change the mode of the existing file.
	if err = os.Chmod(filePath, mode); err != nil {
		return "", errors.Wrapf(err, "cannot change mode of %s", filePath)
	}
	return filePath, nil
}
