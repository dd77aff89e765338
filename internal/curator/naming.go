package curator

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/asheshgoplani/chat-archive/internal/timestamps"
)

var (
	// "chat (1)", "chat  (12)"
	backupSuffix = regexp.MustCompile(`\s*\(\d+\)$`)

	// "_2024-02-04", " 2024-02-04_to_2024-02-06"
	dateSuffix = regexp.MustCompile(`[ _-]*\d{4}-\d{2}-\d{2}(?:_to_\d{4}-\d{2}-\d{2})?$`)
)

// IsBackupVariant reports whether name carries a "(N)" copy marker before
// its extension, optionally followed by a date label.
func IsBackupVariant(name string) bool {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if backupSuffix.MatchString(stem) {
		return true
	}
	return backupSuffix.MatchString(dateSuffix.ReplaceAllString(stem, ""))
}

// BaseTopic strips copy markers and date labels from a file stem until
// neither remains.
func BaseTopic(stem string) string {
	for {
		next := backupSuffix.ReplaceAllString(stem, "")
		next = dateSuffix.ReplaceAllString(next, "")
		next = strings.TrimRight(next, " _-")
		if next == stem {
			return stem
		}
		stem = next
	}
}

// CanonicalName returns "<topic>_<label><ext>" for name. An absent window
// leaves the name unchanged. Applying it to its own output is a no-op.
func CanonicalName(name string, w timestamps.Window) string {
	label := w.Label()
	if label == "" {
		return name
	}
	ext := filepath.Ext(name)
	topic := BaseTopic(strings.TrimSuffix(name, ext))
	if topic == "" {
		return label + ext
	}
	return topic + "_" + label + ext
}
