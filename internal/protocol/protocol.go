// Package protocol implements the line-oriented command protocol spoken
// between filedrop clients and servers.
//
// A connection carries exactly one request line:
//
//	list
//	put <filename>
//
// For put, the raw file bytes follow the request line on the same connection
// and end when the client half-closes its write side. Every response is one or
// more newline-terminated text lines.
package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxLineLength bounds a request line, terminator included.
const MaxLineLength = 4096

// ErrLineTooLong is returned by ReadRequest when no newline appears within
// MaxLineLength bytes.
var ErrLineTooLong = errors.New("request line too long")

// Command identifies the kind of a parsed request.
type Command int

const (
	CommandUnknown Command = iota
	CommandList
	CommandPut
)

func (c Command) String() string {
	switch c {
	case CommandList:
		return "list"
	case CommandPut:
		return "put"
	default:
		return "unknown"
	}
}

// Request is a parsed request line.
type Request struct {
	Command Command

	// Argument is the filename for put; empty otherwise.
	Argument string

	// Raw is the request line without its line terminator.
	Raw string
}

const (
	listKeyword = "list"
	putPrefix   = "put "
)

// ParseRequest decodes a single request line. It never fails: anything that
// is not a well-formed list or put request is returned as CommandUnknown.
func ParseRequest(line string) Request {
	raw := strings.TrimRight(line, "\r\n")
	req := Request{Command: CommandUnknown, Raw: raw}

	switch {
	case raw == listKeyword:
		req.Command = CommandList
	case strings.HasPrefix(raw, putPrefix):
		// An empty name is still a put; it fails the extension check.
		req.Command = CommandPut
		req.Argument = strings.TrimSpace(raw[len(putPrefix):])
	}

	return req
}

// ReadRequest reads and parses the first line of a connection. A final line
// without a newline is accepted; an empty stream returns io.EOF. Bytes after
// the newline stay buffered in r.
func ReadRequest(r *bufio.Reader) (Request, error) {
	var line []byte
	for {
		frag, err := r.ReadSlice('\n')
		line = append(line, frag...)
		if len(line) > MaxLineLength {
			return Request{}, ErrLineTooLong
		}

		switch {
		case err == nil:
			return ParseRequest(string(line)), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case err == io.EOF && len(line) > 0:
			return ParseRequest(string(line)), nil
		default:
			return Request{}, err
		}
	}
}

// EncodeList formats the list request line.
func EncodeList() string {
	return listKeyword + "\n"
}

// EncodePut formats a put request line for name.
func EncodePut(name string) string {
	return fmt.Sprintf("%s%s\n", putPrefix, name)
}
