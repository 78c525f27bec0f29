// Package marker encodes and decodes processing markers inside the free-text
// description field of a source-document attachment. Markers are namespaced
// by target key and document id with explicit field delimiters, so the same
// attachment can carry independent markers per routing target without
// substring collisions.
//
// Two marker kinds exist:
//
//	<prefix><targetKey>|DOC=<docID>|BILL=<billID>|NAME=<name>
//	<prefix><targetKey>|DOC=<docID>|ATT=<attID>|OP=<op>|OUT=<ref>
//
// The first records a completed ledger posting; the second records an OCR
// job in flight. Markers are newline-joined within the description field.
// The wire format matches the metadata already written by earlier deployments
// and must not change.
package marker

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Processed builds a completion marker recording the ledger bill created for
// a document. Pipes in the document name are replaced so they cannot be
// mistaken for field delimiters.
func Processed(prefix, targetKey string, docID, billID int64, docName string) string {
	return fmt.Sprintf("%s%s|DOC=%d|BILL=%d|NAME=%s",
		prefix, targetKey, docID, billID, strings.ReplaceAll(docName, "|", "/"))
}

// IsProcessed reports whether the metadata carries a completion marker for
// the given target and document. The needle includes the trailing field
// delimiter so DOC=12 never matches DOC=123.
func IsProcessed(metadata, prefix, targetKey string, docID int64) bool {
	needle := fmt.Sprintf("%s%s|DOC=%d|", prefix, targetKey, docID)
	return strings.Contains(metadata, needle)
}

var billIDPattern = regexp.MustCompile(`^BILL=(\d+)`)

// ProcessedBillID recovers the ledger bill id from a completion marker, or 0
// when no marker for the given target and document is present.
func ProcessedBillID(metadata, prefix, targetKey string, docID int64) int64 {
	needle := fmt.Sprintf("%s%s|DOC=%d|", prefix, targetKey, docID)
	idx := strings.Index(metadata, needle)
	if idx < 0 {
		return 0
	}
	m := billIDPattern.FindStringSubmatch(metadata[idx+len(needle):])
	if m == nil {
		return 0
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// Job builds an in-progress OCR job marker.
func Job(prefix, targetKey string, docID, attID int64, opName, outputRef string) string {
	return fmt.Sprintf("%s%s|DOC=%d|ATT=%d|OP=%s|OUT=%s",
		prefix, targetKey, docID, attID, opName, outputRef)
}

// JobInfo is the decoded payload of an OCR job marker.
type JobInfo struct {
	OpName    string
	OutputRef string
}

// ParseJob decodes an OCR job marker for the given target, document and
// attachment, or returns nil when none is present.
func ParseJob(metadata, prefix, targetKey string, docID, attID int64) *JobInfo {
	base := fmt.Sprintf("%s%s|DOC=%d|ATT=%d|OP=", prefix, targetKey, docID, attID)
	idx := strings.Index(metadata, base)
	if idx < 0 {
		return nil
	}
	line := metadata[idx:]
	if nl := strings.IndexByte(line, '\n'); nl >= 0 {
		line = line[:nl]
	}
	var info JobInfo
	for _, part := range strings.Split(line, "|") {
		switch {
		case strings.HasPrefix(part, "OP="):
			info.OpName = part[len("OP="):]
		case strings.HasPrefix(part, "OUT="):
			info.OutputRef = part[len("OUT="):]
		}
	}
	if info.OpName == "" || info.OutputRef == "" {
		return nil
	}
	return &info
}

// Append adds a marker to the metadata on a new line. Appending a marker
// that is already present is a no-op.
func Append(metadata, marker string) string {
	clean := strings.TrimSpace(metadata)
	if clean == "" {
		return marker
	}
	if strings.Contains(clean, marker) {
		return clean
	}
	return clean + "\n" + marker
}

var blankLines = regexp.MustCompile(`\n{2,}`)

// Strip removes a marker from the metadata, collapsing the blank line it
// leaves behind. Used to invalidate a stale marker whose referenced ledger
// document no longer exists.
func Strip(metadata, marker string) string {
	out := strings.ReplaceAll(metadata, marker, "")
	out = blankLines.ReplaceAllString(out, "\n")
	return strings.TrimSpace(out)
}
