package blob

import (
	"fmt"
	"mime"
	"net/url"
	"path/filepath"
	"strings"
)

const defaultContentType = "application/octet-stream"

// blobPath computes the composite blob key {basePath}/{userID?}/{fileName}.
// The userID segment is omitted for shared assets. Embedding the user id
// is the only collision protection between users.
func blobPath(basePath, userID, fileName string) string {
	parts := make([]string, 0, 3)
	parts = append(parts, basePath)
	if userID != "" {
		parts = append(parts, userID)
	}
	parts = append(parts, fileName)
	return strings.Join(parts, "/")
}

// localFileName builds the stored name for a local-disk import:
// {identifier}__{basename}.
func localFileName(identifier, localPath string) string {
	return identifier + "__" + filepath.Base(localPath)
}

// contentTypeFor maps a file name extension to a MIME type, falling
// back to an opaque binary type when unrecognized.
func contentTypeFor(fileName string) string {
	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(fileName)))
	if ct == "" {
		return defaultContentType
	}
	return ct
}

// blobPathFromURL recovers the blob path from a previously issued
// access URL by locating the container segment. Query strings (signed
// grants) are ignored.
func blobPathFromURL(storedURL, container string) (string, error) {
	u, err := url.Parse(storedURL)
	if err != nil {
		return "", fmt.Errorf("invalid stored url: %w", err)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, seg := range segments {
		if seg == container && i+1 < len(segments) {
			return strings.Join(segments[i+1:], "/"), nil
		}
	}

	return "", fmt.Errorf("container %q not found in stored url %q", container, storedURL)
}

// ownsPath reports whether userID appears as a whole path segment.
// Segment equality, not substring match, so "u1" never owns "u12/...".
func ownsPath(userID, path string) bool {
	if userID == "" {
		return false
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == userID {
			return true
		}
	}
	return false
}
