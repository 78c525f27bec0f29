package marker

import (
	"strings"
	"testing"
)

const (
	testPrefix = "BILL_OCR_PROCESSED|V1|"
	jobPrefix  = "BILL_OCR_JOB|V1|"
	targetKey  = "https://acme.odoo.com|acme|bookkeeper@acme.com|3"
)

func TestProcessedRoundTrip(t *testing.T) {
	m := Processed(testPrefix, targetKey, 412, 9981, "Scan 2024-11 | page 1.pdf")

	if !IsProcessed(m, testPrefix, targetKey, 412) {
		t.Fatalf("IsProcessed = false for freshly encoded marker %q", m)
	}
	if got := ProcessedBillID(m, testPrefix, targetKey, 412); got != 9981 {
		t.Errorf("ProcessedBillID = %d, want 9981", got)
	}
	if strings.Count(m, "|NAME=") != 1 {
		t.Errorf("marker has malformed NAME field: %q", m)
	}
	// Pipes in the document name must not introduce extra field delimiters
	// that could collide with another marker's needle.
	if strings.Contains(m, "page 1.pdf|") {
		t.Errorf("document name pipes not sanitized: %q", m)
	}
}

func TestIsProcessedNoPrefixCollision(t *testing.T) {
	m := Processed(testPrefix, targetKey, 123, 5, "a.pdf")

	if IsProcessed(m, testPrefix, targetKey, 12) {
		t.Error("DOC=12 matched marker for DOC=123")
	}
	if IsProcessed(m, testPrefix, "https://other.odoo.com|other|x|1", 123) {
		t.Error("marker matched a different target key")
	}
	if ProcessedBillID(m, testPrefix, targetKey, 12) != 0 {
		t.Error("ProcessedBillID returned a bill for the wrong document")
	}
}

func TestAppendIsIdempotent(t *testing.T) {
	m := Processed(testPrefix, targetKey, 7, 11, "x.pdf")

	meta := Append("", m)
	if meta != m {
		t.Fatalf("Append to empty metadata = %q, want bare marker", meta)
	}
	meta = Append("vendor note", m)
	if want := "vendor note\n" + m; meta != want {
		t.Fatalf("Append = %q, want %q", meta, want)
	}
	again := Append(meta, m)
	if again != meta {
		t.Errorf("second Append changed metadata: %q -> %q", meta, again)
	}
}

func TestStripRemovesMarkerAndCollapses(t *testing.T) {
	m := Processed(testPrefix, targetKey, 9, 44, "y.pdf")
	meta := Append("keep this line", m)
	meta = Append(meta, "trailing note")

	out := Strip(meta, m)
	if strings.Contains(out, m) {
		t.Fatalf("marker still present after Strip: %q", out)
	}
	if !strings.Contains(out, "keep this line") || !strings.Contains(out, "trailing note") {
		t.Errorf("Strip removed unrelated metadata: %q", out)
	}
	if strings.Contains(out, "\n\n") {
		t.Errorf("Strip left blank lines: %q", out)
	}

	// After stripping, the document must look unprocessed again.
	if IsProcessed(out, testPrefix, targetKey, 9) {
		t.Error("document still reported processed after Strip")
	}
}

func TestJobMarkerRoundTrip(t *testing.T) {
	m := Job(jobPrefix, targetKey, 55, 900, "inline-1712345678", "inline")

	info := ParseJob(m, jobPrefix, targetKey, 55, 900)
	if info == nil {
		t.Fatal("ParseJob = nil for freshly encoded job marker")
	}
	if info.OpName != "inline-1712345678" || info.OutputRef != "inline" {
		t.Errorf("ParseJob = %+v, want op=inline-1712345678 out=inline", info)
	}

	if ParseJob(m, jobPrefix, targetKey, 55, 901) != nil {
		t.Error("ParseJob matched the wrong attachment id")
	}
}

func TestParseJobStopsAtLineBreak(t *testing.T) {
	m := Job(jobPrefix, targetKey, 1, 2, "op-a", "out-a")
	meta := Append(m, Processed(testPrefix, targetKey, 1, 3, "z.pdf"))

	info := ParseJob(meta, jobPrefix, targetKey, 1, 2)
	if info == nil {
		t.Fatal("ParseJob = nil with multiple markers present")
	}
	if info.OutputRef != "out-a" {
		t.Errorf("OutputRef = %q leaked past the line break", info.OutputRef)
	}
}

func TestProcessedBillIDInsideMixedMetadata(t *testing.T) {
	meta := Append("vendor onboarding note", Job(jobPrefix, targetKey, 31, 77, "op-x", "inline"))
	meta = Append(meta, Processed(testPrefix, targetKey, 31, 640, "scan.pdf"))
	meta = Append(meta, "followup note")

	if got := ProcessedBillID(meta, testPrefix, targetKey, 31); got != 640 {
		t.Errorf("ProcessedBillID = %d, want 640", got)
	}
	if got := ProcessedBillID(meta, jobPrefix, targetKey, 31); got != 0 {
		t.Errorf("job marker yielded bill id %d, want 0", got)
	}
}

func TestMarkersPerTargetAreIndependent(t *testing.T) {
	keyA := "https://a.odoo.com|a|login|1"
	keyB := "https://b.odoo.com|b|login|2"
	meta := Append(
		Processed(testPrefix, keyA, 10, 100, "doc.pdf"),
		Processed(testPrefix, keyB, 10, 200, "doc.pdf"),
	)

	if got := ProcessedBillID(meta, testPrefix, keyA, 10); got != 100 {
		t.Errorf("target A bill = %d, want 100", got)
	}
	if got := ProcessedBillID(meta, testPrefix, keyB, 10); got != 200 {
		t.Errorf("target B bill = %d, want 200", got)
	}
}
