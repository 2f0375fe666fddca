// Package project maps user supplied project names onto storage namespaces.
package project

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultName = "default_project"

	maxNameLength = 128
	maxSlugLength = 48
	hashLength    = 12
)

var ErrInvalidName = errors.New("project: invalid name")

// Project pairs the name a user sees with the namespace its store lives under.
// Namespaces differ whenever names differ, even if their slugs collide.
type Project struct {
	Name      string
	Namespace string
}

func (p Project) String() string {
	return p.Name
}

// Resolve validates name and derives its namespace.
func Resolve(name string) (Project, error) {
	if err := Validate(name); err != nil {
		return Project{}, err
	}
	return Project{Name: name, Namespace: Namespace(name)}, nil
}

func Validate(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	case strings.TrimSpace(name) != name:
		return fmt.Errorf("%w: leading or trailing whitespace", ErrInvalidName)
	case !utf8.ValidString(name):
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidName)
	case utf8.RuneCountInString(name) > maxNameLength:
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidName, maxNameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: control characters are not allowed", ErrInvalidName)
		}
	}
	return nil
}

// Namespace returns slug + "-" + a short SHA-256 of the exact name. The slug
// keeps directories readable; the hash keeps "Sales" and "sales" apart.
func Namespace(name string) string {
	sum := sha256.Sum256([]byte(name))
	suffix := hex.EncodeToString(sum[:])[:hashLength]
	slug := slugify(name)
	if slug == "" {
		return "p-" + suffix
	}
	return slug + "-" + suffix
}

func slugify(name string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(name) {
		if b.Len() >= maxSlugLength {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case !lastDash && b.Len() > 0:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}
