package storage

import (
	"fmt"
	"path"
	"regexp"
)

const storeArchiveName = "store.tar.zst"

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildStoreArchiveKey returns the object key a project's exported vector
// store is written to.
func BuildStoreArchiveKey(namespace string) (string, error) {
	if err := validatePathComponent(namespace, "namespace"); err != nil {
		return "", err
	}
	return path.Join("projects", namespace, storeArchiveName), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) || value == "." || value == ".." {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
