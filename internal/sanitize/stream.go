package sanitize

import (
	"bytes"
	"io"
)

const readChunk = 4096

// RestoringReader wraps a response body and restores placeholder tokens
// before the bytes reach the consumer. A trailing fragment that could still be
// the start of a token split across reads is held back until more input
// arrives.
type RestoringReader struct {
	src     io.Reader
	mapping Mapping
	tokens  []string
	maxLen  int

	pending []byte // raw bytes not yet restored
	out     []byte // restored bytes not yet returned
	err     error  // terminal error from src, returned once out is drained
}

// NewRestoringReader wraps src so that every token of mapping is replaced
// with its original value. If mapping is empty src is returned unchanged.
func NewRestoringReader(src io.Reader, mapping Mapping) io.Reader {
	if len(mapping) == 0 {
		return src
	}
	tokens := mapping.Tokens()
	return &RestoringReader{
		src:     src,
		mapping: mapping,
		tokens:  tokens,
		maxLen:  len(tokens[0]),
	}
}

// Read implements io.Reader.
func (r *RestoringReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for len(r.out) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		buf := make([]byte, readChunk)
		n, err := r.src.Read(buf)
		r.pending = append(r.pending, buf[:n]...)
		if err != nil {
			r.err = err
			r.emit(len(r.pending))
			continue
		}
		r.emit(r.safeCut())
	}
	n := copy(p, r.out)
	r.out = r.out[n:]
	return n, nil
}

// emit restores pending[:cut] into out and keeps the rest pending.
func (r *RestoringReader) emit(cut int) {
	if cut == 0 {
		return
	}
	restored := restore(string(r.pending[:cut]), r.tokens, r.mapping)
	r.out = append(r.out, restored...)
	r.pending = append(r.pending[:0], r.pending[cut:]...)
}

// safeCut returns how many pending bytes can be restored now: everything
// except the longest suffix that is a proper prefix of some token.
func (r *RestoringReader) safeCut() int {
	n := len(r.pending)
	k := r.maxLen - 1
	if k > n {
		k = n
	}
	for ; k > 0; k-- {
		suffix := r.pending[n-k:]
		for _, tok := range r.tokens {
			if len(tok) > k && bytes.HasPrefix([]byte(tok), suffix) {
				return n - k
			}
		}
	}
	return n
}
