package extract

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/unicode/norm"
)

// DefaultMaxBytes caps a single document at 50 MiB.
const DefaultMaxBytes int64 = 50 << 20

// Result describes the outcome of an extraction for logging.
type Result struct {
	MIME   string
	Reason string
}

// Extractor turns uploaded documents into normalised plain text.
type Extractor struct {
	maxBytes int64
}

// New creates an extractor. A non-positive limit selects DefaultMaxBytes.
func New(maxBytes int64) *Extractor {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Extractor{maxBytes: maxBytes}
}

// MaxBytes returns the per-document size limit.
func (e *Extractor) MaxBytes() int64 { return e.maxBytes }

// Extract reads a document and returns its text. Empty input yields ("", true).
// Unreadable, oversized, corrupt or unsupported documents yield ("", false).
func (e *Extractor) Extract(r io.Reader) (string, bool) {
	text, _, ok := e.ExtractDetailed(r)
	return text, ok
}

// ExtractDetailed is Extract plus the detected type and failure reason.
func (e *Extractor) ExtractDetailed(r io.Reader) (string, Result, bool) {
	if r == nil {
		return "", Result{}, true
	}

	data, err := io.ReadAll(io.LimitReader(r, e.maxBytes+1))
	if err != nil {
		return "", Result{Reason: fmt.Sprintf("read failed: %v", err)}, false
	}
	if int64(len(data)) > e.maxBytes {
		return "", Result{Reason: fmt.Sprintf("document exceeds %d bytes", e.maxBytes)}, false
	}
	return e.ExtractBytes(data)
}

// ExtractBytes extracts text from an in-memory document.
func (e *Extractor) ExtractBytes(data []byte) (string, Result, bool) {
	if len(data) == 0 {
		return "", Result{}, true
	}
	if int64(len(data)) > e.maxBytes {
		return "", Result{Reason: fmt.Sprintf("document exceeds %d bytes", e.maxBytes)}, false
	}

	mt := mimetype.Detect(data)
	res := Result{MIME: mt.String()}

	var (
		text string
		err  error
	)
	switch {
	case mt.Is("application/pdf"):
		text, err = pdfText(data)
	case isText(mt):
		text, err = decodeText(data, mt.String())
	default:
		res.Reason = "unsupported content type"
		return "", res, false
	}
	if err != nil {
		res.Reason = err.Error()
		return "", res, false
	}

	return norm.NFKC.String(text), res, true
}

func isText(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

func decodeText(data []byte, mime string) (string, error) {
	lower := strings.ToLower(mime)
	switch {
	case strings.Contains(lower, "charset=utf-16le"):
		out, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder().Bytes(data)
		return string(out), err
	case strings.Contains(lower, "charset=utf-16be"):
		out, err := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder().Bytes(data)
		return string(out), err
	}

	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return string(data), nil
	}

	// Legacy exports are mostly Windows-1252.
	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("failed to decode text: %w", err)
	}
	return string(out), nil
}

// pdfText extracts the plain text layer of a PDF. The parser panics on some
// malformed inputs; those are reported as errors.
func pdfText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("corrupt pdf: %v", r)
		}
	}()

	rd, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}
	plain, err := rd.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to read pdf text: %w", err)
	}
	out, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("failed to read pdf text: %w", err)
	}
	return string(out), nil
}
