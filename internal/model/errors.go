package model

import "fmt"

// Errors are small, named types rather than opaque strings: callers
// match on type (errors.As), not on message text.

// InvalidVersionStringError is returned when a version or release bound
// inside a Relation cannot be parsed.
type InvalidVersionStringError struct{ Input string }

func (e *InvalidVersionStringError) Error() string {
	return fmt.Sprintf("invalid version string: %q", e.Input)
}

// UnknownPackageError names a package absent from the consulted DB.
type UnknownPackageError struct{ Name string }

func (e *UnknownPackageError) Error() string { return fmt.Sprintf("package %q is not known", e.Name) }

// UnknownRepoError names a repository absent from the repository DB.
type UnknownRepoError struct{ Name string }

func (e *UnknownRepoError) Error() string { return fmt.Sprintf("repository %q is not known", e.Name) }

// InvalidPackageNameError flags a name containing whitespace or non-ASCII input.
type InvalidPackageNameError struct{ Name string }

func (e *InvalidPackageNameError) Error() string {
	return fmt.Sprintf("invalid package name: %q", e.Name)
}

// UnsatisfiedDependencyError is raised by the resolver when no installed
// or repository revision satisfies a dependency of pkg.
type UnsatisfiedDependencyError struct {
	Package  string
	Relation Relation
}

func (e *UnsatisfiedDependencyError) Error() string {
	return fmt.Sprintf("%s dependency of package %s is not satisfied", e.Relation, e.Package)
}

// CycleError carries the vertex path of a detected cycle in the dependency graph.
type CycleError struct{ Path []string }

func (e *CycleError) Error() string { return fmt.Sprintf("encountered cycle %v", e.Path) }

// InternalConflictError names two packages within the same plan whose
// declared conflicts mutually match.
type InternalConflictError struct{ A, B string }

func (e *InternalConflictError) Error() string {
	return fmt.Sprintf("packages %q and %q conflict with each other", e.A, e.B)
}

// ProtectedRemovalError names members of system.base refused for removal.
type ProtectedRemovalError struct{ Names []string }

func (e *ProtectedRemovalError) Error() string {
	return fmt.Sprintf("safety switch prevents the removal of: %v", e.Names)
}

// IncompatibleDistributionError is raised when a repo index declares a
// distribution/architecture that does not match the host configuration.
type IncompatibleDistributionError struct {
	Repo, Expected, Found string
}

func (e *IncompatibleDistributionError) Error() string {
	return fmt.Sprintf("repository %q is incompatible: expected %q, found %q", e.Repo, e.Expected, e.Found)
}

// IndexCorruptError flags a repository index that failed to parse.
type IndexCorruptError struct{ Repo string }

func (e *IndexCorruptError) Error() string { return fmt.Sprintf("index of repository %q is corrupt", e.Repo) }

// RepoUnreachableError flags a repository whose index could not be fetched.
type RepoUnreachableError struct{ Repo string }

func (e *RepoUnreachableError) Error() string { return fmt.Sprintf("repository %q is unreachable", e.Repo) }

// HashMismatchError flags a downloaded/installed artifact with the wrong digest.
type HashMismatchError struct{ Path, Expected, Got string }

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("hash mismatch for %q: expected %s, got %s", e.Path, e.Expected, e.Got)
}

// ArchiveCorruptError flags a package container that failed structural validation.
type ArchiveCorruptError struct{ Path string }

func (e *ArchiveCorruptError) Error() string { return fmt.Sprintf("archive %q is corrupt", e.Path) }

// UnsupportedArchiveTypeError flags an archive whose container format is unrecognized.
type UnsupportedArchiveTypeError struct{ Type string }

func (e *UnsupportedArchiveTypeError) Error() string {
	return fmt.Sprintf("unsupported archive type: %q", e.Type)
}

// FileConflictError flags a path claimed by two packages in the same apply step.
type FileConflictError struct{ Path, NewOwner, OldOwner string }

func (e *FileConflictError) Error() string {
	return fmt.Sprintf("file %q is claimed by %q but owned by %q", e.Path, e.NewOwner, e.OldOwner)
}

// PermissionDeniedError wraps a filesystem permission failure for a given path.
type PermissionDeniedError struct{ Path string }

func (e *PermissionDeniedError) Error() string { return fmt.Sprintf("permission denied: %q", e.Path) }

// StagingFailedError flags a failure while extracting a package into its staging directory.
type StagingFailedError struct{ Path string }

func (e *StagingFailedError) Error() string { return fmt.Sprintf("staging failed for %q", e.Path) }

// DatabaseBusyError is returned when the global lock could not be acquired.
type DatabaseBusyError struct{}

func (e *DatabaseBusyError) Error() string { return "database is busy" }

// DatabaseCorruptError flags a structural inconsistency in a persistent DB.
type DatabaseCorruptError struct{ What string }

func (e *DatabaseCorruptError) Error() string { return fmt.Sprintf("database corrupt: %s", e.What) }

// FilesDBNeedsRebuildError signals a version mismatch in the files DB that
// requires a rebuild (or, if the store isn't writable, a slow fallback scan).
type FilesDBNeedsRebuildError struct{}

func (e *FilesDBNeedsRebuildError) Error() string { return "files database needs a rebuild" }

// FetchErrorKind classifies why a fetch attempt failed.
type FetchErrorKind string

const (
	FetchNotFound         FetchErrorKind = "NotFound"
	FetchRangeUnsupported FetchErrorKind = "RangeUnsupported"
	FetchTransient        FetchErrorKind = "Transient"
	FetchTimeout          FetchErrorKind = "Timeout"
	FetchAuthRefused      FetchErrorKind = "AuthRefused"
)

// FetchError reports a failed fetch(uri, dest) attempt, carrying the
// number of retries already spent on this URI.
type FetchError struct {
	URI     string
	Kind    FetchErrorKind
	Retries int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch of %q failed (%s) after %d retries", e.URI, e.Kind, e.Retries)
}
