package artifact

import (
	"fmt"
	"strings"
	"time"
)

// DefaultPrefix is prepended to generated artifact names and used as the
// default retention name filter.
const DefaultPrefix = "backup_"

const nameLayout = "2006-01-02T15-04-05"

// GenerateName creates a timestamped artifact name such as
// backup_2025-01-21T10-30-45Z.tar.gz. Dashes replace colons so the name is
// valid on every provider.
func GenerateName(prefix string, timestamp time.Time, ext string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("%s%sZ%s", prefix, timestamp.UTC().Format(nameLayout), ext)
}
