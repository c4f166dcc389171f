package blob

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/minio/minio-go/v7"
)

// ErrNotConfigured indicates required storage settings are absent.
// It is returned at construction time and never retried.
var ErrNotConfigured = errors.New("storage is not configured")

// AuthError indicates the ambient workload credential was absent or
// rejected when the client was first built. Distinct from
// ErrNotConfigured so callers can tell a missing setting from a bad
// credential.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("storage credential rejected: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// AuthorizationError indicates a delete was requested for a blob path
// that does not belong to the requesting user.
type AuthorizationError struct {
	UserID string
	Path   string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %q is not authorized to delete %q", e.UserID, e.Path)
}

// isNotFound reports whether the backend said the blob does not exist.
// Deletes treat this as success.
func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound {
		return true
	}
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}
