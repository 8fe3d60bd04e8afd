package watcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/quoroomlabs/quoroom/internal/errs"
)

func TestValidatePath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}

	allowed := []struct {
		name string
		in   string
		want string
	}{
		{"tilde root", "~", home},
		{"tilde subdir", "~/projects/inbox", filepath.Join(home, "projects", "inbox")},
		{"absolute under home", filepath.Join(home, "downloads"), filepath.Join(home, "downloads")},
		{"dot segments cleaned", filepath.Join(home, "a", "..", "b"), filepath.Join(home, "b")},
	}
	for _, tc := range allowed {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidatePath(tc.in)
			if err != nil {
				t.Fatalf("ValidatePath(%q): %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}

	denied := []struct {
		name string
		in   string
	}{
		{"relative", "projects/inbox"},
		{"etc", "/etc/passwd"},
		{"var", "/var/log"},
		{"proc", "/proc/self"},
		{"outside home", "/opt/data"},
		{"ssh keys", "~/.ssh"},
		{"ssh keys nested", "~/.ssh/authorized_keys"},
		{"gnupg", "~/.gnupg/private-keys-v1.d"},
		{"aws creds", "~/.aws/credentials"},
		{"gcloud", filepath.Join("~", ".config", "gcloud")},
		{"escape via dots", filepath.Join(home, "..", "other")},
	}
	for _, tc := range denied {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidatePath(tc.in)
			if !errs.IsKind(err, errs.KindInvalidInput) {
				t.Fatalf("ValidatePath(%q) err = %v, want invalid_input", tc.in, err)
			}
		})
	}
}
