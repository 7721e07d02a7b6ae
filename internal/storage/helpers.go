package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// Root is the path of the implicit top level group.
const Root = "/"

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if rbErr := rb.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) && *err == nil {
		*err = rbErr
	}
}

// Join builds a node path from its elements.
func Join(elem ...string) string {
	return cleanPath(path.Join(elem...))
}

// cleanPath normalizes p to an absolute path without trailing slash.
func cleanPath(p string) string {
	return path.Clean("/" + strings.TrimSpace(p))
}

// validNodePath rejects the root and empty path elements.
func validNodePath(p string) (string, error) {
	clean := cleanPath(p)
	if clean == Root {
		return "", fmt.Errorf("%w: %q does not name a node", ErrInvalidPath, p)
	}
	return clean, nil
}

func splitPath(p string) (parent, name string) {
	parent, name = path.Split(p)
	if parent != Root {
		parent = strings.TrimSuffix(parent, "/")
	}
	return parent, name
}

// ancestors returns every group above p, outermost first, excluding the root.
func ancestors(p string) []string {
	var out []string
	for parent, _ := splitPath(p); parent != Root; parent, _ = splitPath(parent) {
		out = append(out, parent)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}
