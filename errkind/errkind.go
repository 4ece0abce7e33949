// Package errkind holds the error categories used across the converter and
// the process exit code each one maps to.
package errkind

import (
	"errors"

	"github.com/warpfork/go-errcat"
)

type ErrorCategory string
type ExitCode int

const (
	ExitSuccess                           = ExitCode(0)
	ExitConfig, ErrConfig                 = ExitCode(1), ErrorCategory("svn2gitfi-config")             // Malformed rules, config or command line.
	ExitUnmappedPath, ErrUnmappedPath     = ExitCode(3), ErrorCategory("svn2gitfi-unmapped-path")      // A changed path matched no rule and has no fallback.
	ExitUnknownRepository, ErrUnknownRepo = ExitCode(4), ErrorCategory("svn2gitfi-unknown-repository") // A rule names a repository that was never declared.
	ExitMissingBranch, ErrMissingBranch   = ExitCode(5), ErrorCategory("svn2gitfi-missing-branch")     // Branching from a branch that does not exist.
	ExitMarkExhausted, ErrMarkExhausted   = ExitCode(6), ErrorCategory("svn2gitfi-mark-exhausted")     // File marks ran into commit marks within one revision.
	ExitBackend, ErrBackend               = ExitCode(7), ErrorCategory("svn2gitfi-backend")            // Writing to or running fast-import failed.
	ExitSource, ErrSource                 = ExitCode(8), ErrorCategory("svn2gitfi-source")             // Reading the subversion repository failed.
	ExitResume, ErrResume                 = ExitCode(9), ErrorCategory("svn2gitfi-resume")             // The log cannot support the requested resume point.
	ExitUnknown                           = ExitCode(254)
)

var exitCodes = map[ErrorCategory]ExitCode{
	ErrConfig:        ExitConfig,
	ErrUnmappedPath:  ExitUnmappedPath,
	ErrUnknownRepo:   ExitUnknownRepository,
	ErrMissingBranch: ExitMissingBranch,
	ErrMarkExhausted: ExitMarkExhausted,
	ErrBackend:       ExitBackend,
	ErrSource:        ExitSource,
	ErrResume:        ExitResume,
}

// Category returns the category carried by err, or "" if it has none.
func Category(err error) ErrorCategory {
	var ec errcat.Error
	if !errors.As(err, &ec) {
		return ""
	}
	cat, _ := ec.Category().(ErrorCategory)
	return cat
}

// Is reports whether err carries the given category.
func Is(err error, category ErrorCategory) bool {
	return err != nil && Category(err) == category
}

// Exit returns the process exit code for err.
func Exit(err error) ExitCode {
	if err == nil {
		return ExitSuccess
	}
	if code, ok := exitCodes[Category(err)]; ok {
		return code
	}
	return ExitUnknown
}
