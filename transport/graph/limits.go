package graph

import (
	"errors"
	"io"
)

// errResponseTooLarge is returned once a response body passes the size limit.
var errResponseTooLarge = errors.New("response body exceeds maximum size limit")

// maxBodyReader wraps an io.Reader to enforce a size limit.
type maxBodyReader struct {
	reader   io.Reader
	limit    int64
	consumed int64
}

func newMaxBodyReader(r io.Reader, limit int64) *maxBodyReader {
	return &maxBodyReader{reader: r, limit: limit}
}

func (r *maxBodyReader) Read(p []byte) (int, error) {
	if r.consumed >= r.limit {
		// anything further past the limit is an error, a clean EOF is not
		var probe [1]byte
		if n, _ := r.reader.Read(probe[:]); n > 0 {
			return 0, errResponseTooLarge
		}
		return 0, io.EOF
	}

	maxRead := r.limit - r.consumed
	if int64(len(p)) > maxRead {
		p = p[:maxRead]
	}

	n, err := r.reader.Read(p)
	r.consumed += int64(n)
	return n, err
}
