package server

import "io"

// asciiReader converts bare LF to CRLF for RETR in ASCII mode. Existing
// CRLF pairs pass through unchanged.
type asciiReader struct {
	r      io.Reader
	in     []byte
	out    []byte
	outBuf []byte
	prevCR bool
	err    error
}

func newASCIIReader(r io.Reader, size int) *asciiReader {
	return &asciiReader{
		r:      r,
		in:     make([]byte, size),
		outBuf: make([]byte, 0, 2*size),
	}
}

func (r *asciiReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if len(r.out) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		n, err := r.r.Read(r.in)
		r.out = r.expand(r.in[:n])
		r.err = err
		if len(r.out) == 0 {
			r.err = nil
			return 0, err
		}
	}

	n := copy(p, r.out)
	r.out = r.out[n:]
	return n, nil
}

func (r *asciiReader) expand(chunk []byte) []byte {
	out := r.outBuf[:0]
	for _, b := range chunk {
		if b == '\n' && !r.prevCR {
			out = append(out, '\r')
		}
		out = append(out, b)
		r.prevCR = b == '\r'
	}
	r.outBuf = out
	return out
}

// asciiWriter converts CRLF to LF for STOR in ASCII mode. A CR at the end
// of one chunk is held until the next chunk shows whether LF follows;
// Flush writes a CR still held at end of stream.
type asciiWriter struct {
	w   io.Writer
	buf []byte
	cr  bool
}

func newASCIIWriter(w io.Writer) *asciiWriter {
	return &asciiWriter{w: w}
}

func (a *asciiWriter) Write(p []byte) (int, error) {
	out := a.buf[:0]
	for _, b := range p {
		if a.cr {
			a.cr = false
			if b != '\n' {
				out = append(out, '\r')
			}
		}
		if b == '\r' {
			a.cr = true
			continue
		}
		out = append(out, b)
	}
	a.buf = out

	if len(out) > 0 {
		if _, err := a.w.Write(out); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (a *asciiWriter) Flush() error {
	if !a.cr {
		return nil
	}
	a.cr = false
	_, err := a.w.Write([]byte{'\r'})
	return err
}
