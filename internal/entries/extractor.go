package entries

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/asheshgoplani/chat-archive/internal/chatlog"
	"github.com/asheshgoplani/chat-archive/internal/classify"
	"github.com/asheshgoplani/chat-archive/internal/logging"
	"github.com/asheshgoplani/chat-archive/internal/timestamps"
)

// ErrDirNotFound is returned when a folder extraction starts on a missing directory.
var ErrDirNotFound = errors.New("directory not found")

// maxTitleRunes bounds section titles taken from the first line.
const maxTitleRunes = 100

var (
	paragraphBreak = regexp.MustCompile(`\n[ \t\r]*\n`)
	integerPattern = regexp.MustCompile(`\d+`)
)

// Extractor runs the entry pattern families over document text.
type Extractor struct {
	Table *classify.Table
	Miner *timestamps.Miner
	Log   *slog.Logger

	anchorRE *regexp.Regexp
}

// NewExtractor builds an extractor for table (nil means the default table).
func NewExtractor(table *classify.Table, log *slog.Logger) *Extractor {
	if table == nil {
		table = classify.Default()
	}
	log = logging.Or(log, logging.CompExtract)
	return &Extractor{
		Table:    table,
		Miner:    &timestamps.Miner{Log: log},
		Log:      log,
		anchorRE: anchorPattern(table.Anchors),
	}
}

// anchorPattern matches "<anchor> <TypeName> <N>: <title>" on one line.
func anchorPattern(anchors []string) *regexp.Regexp {
	sorted := append([]string(nil), anchors...)
	// Longest first so "🕯️" wins over "🕯".
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	quoted := make([]string, 0, len(sorted))
	for _, a := range sorted {
		if a != "" {
			quoted = append(quoted, regexp.QuoteMeta(a))
		}
	}
	if len(quoted) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?:` + strings.Join(quoted, "|") +
		`)[ \t]*(\pL[\pL \t]*?)[ \t]+(\d+)[ \t]*:[ \t]*([^\n]*)`)
}

// Extract returns every candidate entry in text. The families may overlap;
// use DedupeBySequence when one entry per number is wanted.
func (x *Extractor) Extract(text, source string) []Entry {
	var out []Entry
	out = append(out, x.anchored(text, source)...)
	out = append(out, x.sections(text, source)...)
	return out
}

// anchored is family 1: numbered entries introduced by an anchor keyword.
// Each entry's text runs to the next anchor match or the end of the document.
func (x *Extractor) anchored(text, source string) []Entry {
	if x.anchorRE == nil {
		return nil
	}
	locs := x.anchorRE.FindAllStringSubmatchIndex(text, -1)
	out := make([]Entry, 0, len(locs))
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		typeName := strings.TrimSpace(text[loc[2]:loc[3]])
		seq, _ := strconv.Atoi(text[loc[4]:loc[5]])
		span := strings.TrimSpace(text[loc[0]:end])

		kind := KindUnknown
		if canon, ok := x.Table.LookupType(typeName); ok {
			kind = ParseKind(canon)
		} else {
			x.Log.Debug("unknown_entry_type", slog.String("type", typeName), slog.String("source", source))
		}

		out = append(out, x.finish(Entry{
			Kind:     kind,
			TypeName: typeName,
			Sequence: seq,
			Title:    strings.TrimSpace(text[loc[6]:loc[7]]),
			Text:     span,
			Source:   source,
			Family:   FamilyAnchor,
			Offset:   loc[0],
		}))
	}
	return out
}

// sections is family 2: blank-line bounded paragraphs carrying a marker phrase.
func (x *Extractor) sections(text, source string) []Entry {
	var out []Entry
	start := 0
	emit := func(from, to int) {
		para := text[from:to]
		if strings.TrimSpace(para) == "" || !x.Table.HasSectionPhrase(para) {
			return
		}
		out = append(out, x.finish(Entry{
			Kind:     KindGeneric,
			Sequence: firstStandaloneInt(para),
			Title:    sectionTitle(para),
			Text:     strings.TrimSpace(para),
			Source:   source,
			Family:   FamilySection,
			Offset:   from + leadingSpace(para),
		}))
	}
	for _, br := range paragraphBreak.FindAllStringIndex(text, -1) {
		emit(start, br[0])
		start = br[1]
	}
	emit(start, len(text))
	return out
}

// finish applies the per-candidate steps shared by both families: domain
// classification (family 3) and independent timestamp mining.
func (x *Extractor) finish(e Entry) Entry {
	e.DomainRelated = x.Table.IsDomainRelated(e.Text)
	if w := x.Miner.Mine(e.Text); !w.IsAbsent() {
		first := *w.First
		e.Timestamp = &first
	}
	return e
}

// ExtractFile extracts entries from one file. JSON exports are flattened to
// their message bodies first; undecodable JSON is treated as plain text.
func (x *Extractor) ExtractFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text := string(data)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		flat, jerr := chatlog.FlattenBytes(data)
		if jerr != nil {
			x.Log.Debug("json_fallback_to_text", slog.String("path", path), slog.String("error", jerr.Error()))
		}
		text = flat
	}
	return x.Extract(text, path), nil
}

// FileError records a file skipped during a folder extraction.
type FileError struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

// FolderResult is the outcome of ExtractFolder.
type FolderResult struct {
	Entries []Entry     `json:"entries"`
	Files   int         `json:"files"`
	Failed  []FileError `json:"failed,omitempty"`
}

// ExtractFolder walks dir recursively over the extraction allow-list. A file
// that cannot be read is logged and skipped. Cancellation is honored between
// files and returns the partial result with ctx.Err().
func (x *Extractor) ExtractFolder(ctx context.Context, dir string) (FolderResult, error) {
	var res FolderResult
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return res, fmt.Errorf("extract %s: %w", dir, ErrDirNotFound)
	}

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			x.Log.Warn("walk_error", slog.String("path", path), slog.String("error", err.Error()))
			res.Failed = append(res.Failed, FileError{Path: path, Err: err.Error()})
			return nil
		}
		if d.IsDir() || !x.Table.AllowsExtract(path) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		found, err := x.ExtractFile(path)
		if err != nil {
			x.Log.Warn("extract_file_failed", slog.String("path", path), slog.String("error", err.Error()))
			logging.Aggregate(logging.CompExtract, "file_skipped")
			res.Failed = append(res.Failed, FileError{Path: path, Err: err.Error()})
			return nil
		}
		res.Files++
		res.Entries = append(res.Entries, found...)
		return nil
	})
	if walkErr != nil {
		return res, walkErr
	}

	x.Log.Info("extract_folder_done",
		slog.String("dir", dir),
		slog.Int("files", res.Files),
		slog.Int("entries", len(res.Entries)),
		slog.Int("failed", len(res.Failed)))
	return res, nil
}

// firstStandaloneInt returns the first integer not embedded in a word, date,
// time or decimal; 0 when there is none.
func firstStandaloneInt(s string) int {
	for _, loc := range integerPattern.FindAllStringIndex(s, -1) {
		if loc[0] > 0 {
			prev, _ := utf8.DecodeLastRuneInString(s[:loc[0]])
			if isGlue(prev) || prev == '.' {
				continue
			}
		}
		if loc[1] < len(s) {
			next, size := utf8.DecodeRuneInString(s[loc[1]:])
			if isGlue(next) {
				continue
			}
			// A trailing period is sentence punctuation unless a digit follows.
			if next == '.' && loc[1]+size < len(s) && s[loc[1]+size] >= '0' && s[loc[1]+size] <= '9' {
				continue
			}
		}
		n, err := strconv.Atoi(s[loc[0]:loc[1]])
		if err != nil {
			continue
		}
		return n
	}
	return 0
}

func isGlue(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '/' || r == ':' || r == '_'
}

// sectionTitle is the first non-empty line when short enough, otherwise the
// placeholder.
func sectionTitle(para string) string {
	for _, line := range strings.Split(para, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) <= maxTitleRunes {
			return line
		}
		break
	}
	return UntitledEntry
}

func leadingSpace(s string) int {
	return len(s) - len(strings.TrimLeft(s, " \t\r\n"))
}
