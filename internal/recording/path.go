package recording

import (
	"errors"
	"fmt"
	"strings"
)

// UploadsPrefix is the first path segment of every recording blob and also
// the name of the metadata collection.
const UploadsPrefix = "uploads"

var ErrPathResolution = errors.New("path resolution failed")

type PathErrorKind int

const (
	// PathMalformed means the path is missing or has the wrong number of segments.
	PathMalformed PathErrorKind = iota + 1
	// PathForeign means the object lives outside the uploads prefix.
	PathForeign
)

type PathError struct {
	Path   string
	Kind   PathErrorKind
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("resolve %q: %s", e.Path, e.Reason)
}

func (e *PathError) Is(target error) bool {
	return target == ErrPathResolution
}

// Ref identifies the record behind an uploaded blob.
type Ref struct {
	Path     string
	OwnerID  string
	RecordID string
}

// ResolvePath parses uploads/{ownerId}/{recordId}.
func ResolvePath(objectPath string) (Ref, error) {
	if objectPath == "" {
		return Ref{}, &PathError{Path: objectPath, Kind: PathMalformed, Reason: "object name is empty"}
	}

	parts := strings.Split(objectPath, "/")
	if len(parts) != 3 {
		return Ref{}, &PathError{Path: objectPath, Kind: PathMalformed, Reason: "path isn't three segments long"}
	}
	if parts[0] != UploadsPrefix {
		return Ref{}, &PathError{Path: objectPath, Kind: PathForeign, Reason: "object isn't in " + UploadsPrefix}
	}
	if parts[1] == "" || parts[2] == "" {
		return Ref{}, &PathError{Path: objectPath, Kind: PathMalformed, Reason: "empty path segment"}
	}

	return Ref{Path: objectPath, OwnerID: parts[1], RecordID: parts[2]}, nil
}

// ObjectPath builds the blob key for a record.
func ObjectPath(ownerID, recordID string) string {
	return UploadsPrefix + "/" + ownerID + "/" + recordID
}

// NormalizeKey strips the leading slash mobile clients write into storagePath.
func NormalizeKey(storagePath string) string {
	return strings.TrimPrefix(storagePath, "/")
}
