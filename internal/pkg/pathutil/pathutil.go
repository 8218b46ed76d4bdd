package pathutil

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

const documentsPrefix = "user-documents"

// ObjectKey builds the storage key for a user's document:
// user-documents/{userID}/{fileName}.
func ObjectKey(userID uint, fileName string) string {
	return fmt.Sprintf("%s/%d/%s", documentsPrefix, userID, fileName)
}

// ParseObjectKey extracts (userID, fileName) from a storage key produced
// by ObjectKey. Keys with any other shape are rejected.
func ParseObjectKey(objectKey string) (uint, string, error) {
	parts := strings.Split(strings.Trim(objectKey, "/"), "/")
	if len(parts) < 3 || parts[0] != documentsPrefix {
		return 0, "", fmt.Errorf("unexpected object key: %s", objectKey)
	}
	userID, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil || userID == 0 {
		return 0, "", fmt.Errorf("invalid user id in object key: %s", objectKey)
	}
	fileName := strings.Join(parts[2:], "/")
	if fileName == "" {
		return 0, "", fmt.Errorf("missing file name in object key: %s", objectKey)
	}
	return uint(userID), fileName, nil
}

// SafeFileName strips any path components from an uploaded file name.
// Names that reduce to nothing but path syntax come back empty.
func SafeFileName(name string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if base == "." || base == ".." || base == "/" {
		return ""
	}
	return base
}
