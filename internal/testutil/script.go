package testutil

import (
	"bytes"
)

// Script is an in-memory duplex stream: reads come from canned proxy replies,
// writes are captured for inspection.
type Script struct {
	r       *bytes.Reader
	Written bytes.Buffer
}

// NewScript returns a Script that will read the concatenation of replies and
// then io.EOF.
func NewScript(replies ...[]byte) *Script {
	return &Script{r: bytes.NewReader(bytes.Join(replies, nil))}
}

func (s *Script) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

func (s *Script) Write(p []byte) (int, error) {
	return s.Written.Write(p)
}

// Remaining reports how many scripted bytes were never read.
func (s *Script) Remaining() int {
	return s.r.Len()
}
