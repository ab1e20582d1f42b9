package protocol

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Fixed response lines.
const (
	NoFilesFound   = "No files found."
	EndOfListing   = "END"
	ErrOnlyText    = "Error: Only text files are allowed."
	ErrTooLarge    = "Error: File size exceeds the 64Kb limit."
	ErrCannotSave  = "Error: Cannot save file."
	ErrUnsupported = "Error: Unsupported command"

	// ErrorPrefix starts every error response line.
	ErrorPrefix = "Error:"
)

// ListingHeader is the first line of a non-empty list response.
func ListingHeader(n int) string {
	return fmt.Sprintf("Listing %d file(s):", n)
}

// Uploaded is the response to a successful put.
func Uploaded(name string) string {
	return "Uploaded file " + name
}

// AlreadyExists is the response to a put whose filename is taken.
func AlreadyExists(name string) string {
	return fmt.Sprintf("Error: Cannot upload file '%s'; already exists on server.", name)
}

// ListResponse builds the complete list response. The END sentinel is always
// the final line, including for an empty listing.
func ListResponse(names []string) []string {
	if len(names) == 0 {
		return []string{NoFilesFound, EndOfListing}
	}

	lines := make([]string, 0, len(names)+2)
	lines = append(lines, ListingHeader(len(names)))
	lines = append(lines, names...)
	lines = append(lines, EndOfListing)
	return lines
}

// IsError reports whether a response line carries an error.
func IsError(line string) bool {
	return strings.HasPrefix(line, ErrorPrefix)
}

// WriteLines writes each line newline-terminated and flushes once.
func WriteLines(w io.Writer, lines ...string) error {
	bw := bufio.NewWriter(w)
	for _, line := range lines {
		if _, err := bw.WriteString(line); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}
