package amiclient

import (
	"bufio"
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"github.com/c360/amistreams/errors"
)

const (
	// bannerPrefix opens the greeting line sent before any frame.
	bannerPrefix = "Asterisk Call Manager/"

	// defaultMaxLineBytes bounds a single wire line. Longer lines
	// indicate a corrupt or hostile peer and fail the frame.
	defaultMaxLineBytes = 16 * 1024

	// defaultMaxFrameFields bounds pairs per frame for the same reason.
	defaultMaxFrameFields = 512
)

// frameParser turns a raw byte stream into frames. It owns no network
// state: the transport hands it a reader and pulls frames one at a
// time, so parse errors and read errors surface on the same path.
type frameParser struct {
	r         *bufio.Reader
	maxLine   int
	maxFields int
}

func newFrameParser(r io.Reader) *frameParser {
	return &frameParser{
		r:         bufio.NewReaderSize(r, 4096),
		maxLine:   defaultMaxLineBytes,
		maxFields: defaultMaxFrameFields,
	}
}

// readBanner consumes the greeting line and returns the protocol
// version it advertises. The greeting is the only line outside frame
// framing, so it must be read exactly once before the first frame.
func (p *frameParser) readBanner() (string, error) {
	line, err := p.readLine()
	if err != nil {
		return "", errors.Wrap(err, "FrameParser", "readBanner", "read greeting")
	}
	if !strings.HasPrefix(line, bannerPrefix) {
		return "", errors.WrapInvalid(
			fmt.Errorf("%w: unexpected greeting %q", errors.ErrInvalidFrame, truncate(line, 64)),
			"FrameParser", "readBanner", "validate greeting")
	}
	return strings.TrimPrefix(line, bannerPrefix), nil
}

// next reads one complete frame, blocking until the terminating blank
// line arrives. An ErrInvalidFrame return means the offending frame was
// discarded and the stream is realigned on the next frame boundary;
// any other error is terminal for the connection. io.EOF passes
// through untouched so the caller can tell an orderly close from a
// parse failure.
func (p *frameParser) next() (*Frame, error) {
	f := &Frame{}
	follows := false
	sawLine := false

	for {
		line, err := p.readLine()
		if err != nil {
			if err == io.EOF && !sawLine {
				return nil, io.EOF
			}
			if stderrors.Is(err, errors.ErrInvalidFrame) {
				if skipErr := p.skipToBlank(); skipErr != nil {
					return nil, skipErr
				}
				return nil, errors.WrapInvalid(err, "FrameParser", "next", "bound line")
			}
			return nil, errors.Wrap(err, "FrameParser", "next", "read line")
		}

		if line == "" {
			if !sawLine {
				// Stray blank line between frames. Skip it.
				continue
			}
			return f, nil
		}
		sawLine = true

		if len(f.pairs)+len(f.raw) >= p.maxFields {
			if err := p.skipToBlank(); err != nil {
				return nil, err
			}
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: frame exceeds %d fields", errors.ErrInvalidFrame, p.maxFields),
				"FrameParser", "next", "bound frame")
		}

		if follows {
			// Raw command output. Everything is literal until the end
			// marker, including lines that happen to contain a colon.
			if line == endCommandMarker {
				follows = false
			}
			f.raw = append(f.raw, line)
			continue
		}

		key, value, ok := splitPair(line)
		if !ok {
			f.raw = append(f.raw, line)
			continue
		}
		f.Add(key, value)
		if key == keyResponse && responseStatusFor(value) == ResponseFollows {
			follows = true
		}
	}
}

// skipToBlank discards lines until the current frame's terminator so
// the stream is aligned on a frame boundary again after an error.
func (p *frameParser) skipToBlank() error {
	for {
		line, err := p.readLine()
		if err != nil {
			return errors.Wrap(err, "FrameParser", "skipToBlank", "resync")
		}
		if line == "" {
			return nil
		}
	}
}

// readLine reads one CRLF- or LF-terminated line with the trailing
// terminator removed. A line beyond maxLine is consumed to its end and
// reported as ErrInvalidFrame so the stream stays aligned.
func (p *frameParser) readLine() (string, error) {
	var sb strings.Builder
	for {
		chunk, err := p.r.ReadSlice('\n')
		sb.Write(chunk)
		if err == nil {
			break
		}
		if err == bufio.ErrBufferFull {
			if sb.Len() > p.maxLine {
				if derr := p.discardLine(); derr != nil {
					return "", derr
				}
				return "", fmt.Errorf("%w: line exceeds %d bytes", errors.ErrInvalidFrame, p.maxLine)
			}
			continue
		}
		if err == io.EOF && sb.Len() > 0 {
			// Partial line at stream end. Treat as connection loss,
			// not as a complete line.
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	line := strings.TrimRight(sb.String(), "\r\n")
	if len(line) > p.maxLine {
		return "", fmt.Errorf("%w: line exceeds %d bytes", errors.ErrInvalidFrame, p.maxLine)
	}
	return line, nil
}

// discardLine drops bytes up to and including the next newline.
func (p *frameParser) discardLine() error {
	for {
		_, err := p.r.ReadSlice('\n')
		if err == nil {
			return nil
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		return err
	}
}

// splitPair splits a "Key: Value" line at the first colon. The value
// may be empty; a line with no colon is not a pair.
func splitPair(line string) (key, value string, ok bool) {
	idx := strings.IndexByte(line, ':')
	if idx <= 0 {
		return "", "", false
	}
	key = line[:idx]
	value = strings.TrimLeft(line[idx+1:], " ")
	if strings.ContainsAny(key, " \t") {
		// Keys never contain whitespace. A colon inside prose output
		// (tab-indented or mid-sentence) is not a field separator.
		return "", "", false
	}
	return key, value, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
