package watcher

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/quoroomlabs/quoroom/internal/errs"
)

var deniedRoots = []string{"/etc", "/var", "/usr", "/bin", "/sbin", "/boot", "/proc", "/sys"}

var deniedHomeDirs = []string{".ssh", ".gnupg", ".aws", filepath.Join(".config", "gcloud")}

// ValidatePath expands ~ and checks the result is an absolute path inside
// the user's home hierarchy and outside sensitive directories. Returns the
// cleaned absolute path.
func ValidatePath(path string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errs.Wrap(errs.KindInternal, err, "resolve home directory")
	}
	if path == "~" {
		path = home
	} else if strings.HasPrefix(path, "~/") {
		path = filepath.Join(home, path[2:])
	}
	if !filepath.IsAbs(path) {
		return "", errs.New(errs.KindInvalidInput, "watch path must be absolute or ~-relative: %q", path)
	}
	path = filepath.Clean(path)

	for _, root := range deniedRoots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return "", errs.New(errs.KindInvalidInput, "watch path %q is under a protected system directory", path)
		}
	}
	if path != home && !strings.HasPrefix(path, home+string(filepath.Separator)) {
		return "", errs.New(errs.KindInvalidInput, "watch path %q is outside the home directory", path)
	}
	for _, dir := range deniedHomeDirs {
		full := filepath.Join(home, dir)
		if path == full || strings.HasPrefix(path, full+string(filepath.Separator)) {
			return "", errs.New(errs.KindInvalidInput, "watch path %q is under a protected directory", path)
		}
	}
	return path, nil
}
