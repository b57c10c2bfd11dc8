package imap

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/mkeller/imapfetch/model"
)

type decoderState int

const (
	// stateLine accumulates bytes until a CRLF-terminated response line.
	stateLine decoderState = iota
	// stateLiteral collects the announced number of raw literal bytes.
	stateLiteral
	// stateSkipDelimiter discards the trailing syntax closing a FETCH data
	// item, up to and including ')'.
	stateSkipDelimiter
)

// Decoder incrementally parses one command's response stream. It is fed
// arbitrary-sized read chunks and resumes correctly across chunk boundaries,
// buffering nothing beyond the current line or pending literal.
//
// Tag matching is local to the Decoder instance; tags are scoped to a single
// connection's exchange and are never compared across connections.
type Decoder struct {
	cmd    string
	tag    string
	strict bool

	onLine    func(line string)
	onMessage func(model.Message) error

	state     decoderState
	line      []byte
	seqNum    uint32
	remaining int
	body      []byte

	done   bool
	status string
}

// NewDecoder returns a decoder for the exchange tagged with tag. cmd names
// the command for error reporting. In strict mode any tagged completion line
// without the OK marker fails the command; otherwise only NO/BAD do and other
// tagged lines are ignored.
func NewDecoder(cmd, tag string, strict bool) *Decoder {
	return &Decoder{cmd: cmd, tag: tag, strict: strict}
}

// OnLine registers a callback invoked for every complete untagged response
// line, before the completion line is seen.
func (d *Decoder) OnLine(fn func(line string)) { d.onLine = fn }

// OnMessage registers the sink receiving each completed literal body.
// A sink error aborts the exchange.
func (d *Decoder) OnMessage(fn func(model.Message) error) { d.onMessage = fn }

// Done reports whether the tagged completion line has been seen.
func (d *Decoder) Done() bool { return d.done }

// Status returns the tagged completion line, once Done.
func (d *Decoder) Status() string { return d.status }

// Feed consumes one read chunk. It returns true once the command's tagged OK
// completion line has been processed; any later bytes in the same chunk are
// ignored.
func (d *Decoder) Feed(p []byte) (bool, error) {
	for len(p) > 0 {
		if d.done {
			return true, nil
		}

		switch d.state {
		case stateLiteral:
			n := d.remaining
			if n > len(p) {
				n = len(p)
			}
			d.body = append(d.body, p[:n]...)
			d.remaining -= n
			p = p[n:]
			if d.remaining == 0 {
				if err := d.deliver(); err != nil {
					return false, err
				}
				d.state = stateSkipDelimiter
			}

		case stateSkipDelimiter:
			idx := bytes.IndexByte(p, ')')
			if idx < 0 {
				return false, nil
			}
			p = p[idx+1:]
			d.state = stateLine

		case stateLine:
			idx := bytes.IndexByte(p, '\n')
			if idx < 0 {
				d.line = append(d.line, p...)
				return false, nil
			}
			d.line = append(d.line, p[:idx+1]...)
			p = p[idx+1:]
			if len(d.line) < 2 || d.line[len(d.line)-2] != '\r' {
				continue
			}
			line := string(d.line[:len(d.line)-2])
			d.line = d.line[:0]
			if err := d.dispatch(line); err != nil {
				return false, err
			}
		}
	}
	return d.done, nil
}

func (d *Decoder) dispatch(line string) error {
	if strings.Contains(line, "FETCH") && strings.Contains(line, "{") {
		return d.beginLiteral(line)
	}

	if strings.HasPrefix(line, d.tag) {
		if strings.Contains(line, "OK") {
			d.done = true
			d.status = line
			return nil
		}
		if d.strict || strings.Contains(line, "NO") || strings.Contains(line, "BAD") {
			return &ServerError{Cmd: d.cmd, Response: line}
		}
		return nil
	}

	if d.onLine != nil {
		d.onLine(line)
	}
	return nil
}

// beginLiteral parses a "* <seq> FETCH (... {<size>}" announcement. A
// non-numeric sequence number or size leaves the literal boundary unknowable,
// so the exchange fails rather than guessing.
func (d *Decoder) beginLiteral(line string) error {
	star := strings.Index(line, "* ")
	fetch := strings.Index(line, " FETCH")
	if star < 0 || fetch <= star+2 {
		return &DecodeError{Line: line}
	}
	seq, err := strconv.ParseUint(strings.TrimSpace(line[star+2:fetch]), 10, 32)
	if err != nil {
		return &DecodeError{Line: line}
	}

	open := strings.Index(line, "{")
	closing := strings.Index(line, "}")
	if closing <= open+1 {
		return &DecodeError{Line: line}
	}
	size, err := strconv.Atoi(line[open+1 : closing])
	if err != nil || size < 0 {
		return &DecodeError{Line: line}
	}

	d.seqNum = uint32(seq)
	d.remaining = size
	d.body = make([]byte, 0, size)

	if size == 0 {
		if err := d.deliver(); err != nil {
			return err
		}
		d.state = stateSkipDelimiter
		return nil
	}
	d.state = stateLiteral
	return nil
}

func (d *Decoder) deliver() error {
	body := d.body
	d.body = nil
	if d.onMessage == nil {
		return nil
	}
	return d.onMessage(model.Message{
		SeqNum: d.seqNum,
		Size:   int64(len(body)),
		Raw:    body,
	})
}
