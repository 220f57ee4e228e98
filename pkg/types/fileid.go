package types

import (
	"fmt"
	"strings"

	"github.com/cuemby/fdfs/pkg/protocol"
)

// ExtFromName derives the upload extension from a file name. The last two
// dot separated segments form a compound extension ("tar.gz") when neither
// contains a path separator and the result fits the wire field; otherwise
// the last segment alone is used. A name without a dot has no extension.
func ExtFromName(name string) (string, error) {
	parts := strings.Split(name, ".")
	if len(parts) < 2 {
		return "", nil
	}

	last := parts[len(parts)-1]
	if isPathSegment(last) {
		// the dot belongs to a directory
		return "", nil
	}
	if len(parts) >= 3 {
		prev := parts[len(parts)-2]
		if prev != "" && !isPathSegment(prev) {
			if compound := prev + "." + last; len(compound) <= protocol.FileExtNameMaxLen {
				return compound, nil
			}
		}
	}
	return NormalizeExt(last)
}

// NormalizeExt strips a leading dot and rejects extensions that do not fit
// the fixed width wire field
func NormalizeExt(ext string) (string, error) {
	ext = strings.TrimPrefix(ext, ".")
	if len(ext) > protocol.FileExtNameMaxLen {
		return "", fmt.Errorf("%w: %q is longer than %d bytes", ErrInvalidExtension, ext, protocol.FileExtNameMaxLen)
	}
	if strings.ContainsRune(ext, 0) {
		return "", fmt.Errorf("%w: %q contains NUL", ErrInvalidExtension, ext)
	}
	return ext, nil
}

func isPathSegment(s string) bool {
	return strings.ContainsAny(s, `/\`)
}

// SplitFileID splits "group/remote/file/name" into its group and filename
func SplitFileID(id string) (group, filename string, err error) {
	group, filename, ok := strings.Cut(id, "/")
	if !ok || group == "" || filename == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidFileID, id)
	}
	if len(group) > protocol.GroupNameMaxLen {
		return "", "", fmt.Errorf("%w: group %q longer than %d bytes", ErrInvalidFileID, group, protocol.GroupNameMaxLen)
	}
	return group, filename, nil
}

// ValidateGroupName checks that name is non-empty and fits the group field
func ValidateGroupName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidGroupName)
	}
	if len(name) > protocol.GroupNameMaxLen {
		return fmt.Errorf("%w: %q longer than %d bytes", ErrInvalidGroupName, name, protocol.GroupNameMaxLen)
	}
	return nil
}
