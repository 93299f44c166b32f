// Package blob stores the binary of uploaded documents and hands back the
// storage URL recorded on each DocumentRecord.
package blob

import (
	"fmt"
	"path"
	"strings"

	"github.com/xhad/medicus/internal/models"
)

// Key builds the object key for one uploaded file. The document id keeps
// re-uploads of the same filename apart.
func Key(listingID models.ListingID, documentID, filename string) string {
	return path.Join(cleanSegment(string(listingID)), documentID, cleanSegment(filename))
}

func cleanSegment(s string) string {
	s = strings.ReplaceAll(s, "\\", "/")
	s = path.Base("/" + s)
	if s == "/" || s == "." || s == ".." {
		return "_"
	}
	return s
}

func validateKey(key string) error {
	for _, segment := range strings.Split(key, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return fmt.Errorf("invalid blob key %q", key)
		}
	}
	return nil
}
