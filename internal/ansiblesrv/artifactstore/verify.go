package artifactstore

import (
	"io"

	"github.com/opencontainers/go-digest"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/ansibleerrors"
)

// verifyingReader passes content through while hashing it. The final byte
// is held back until the digest is known, so a reader of a corrupt blob
// never sees it end cleanly.
type verifyingReader struct {
	rc       io.ReadCloser
	expected string
	digester digest.Digester
	held     []byte
	verified bool
	err      error
}

// Verify wraps rc so that reading it to the end fails with ArtifactCorrupt
// unless the content hashes to sha256.
func Verify(rc io.ReadCloser, sha256 string) io.ReadCloser {
	return &verifyingReader{rc: rc, expected: sha256, digester: digest.SHA256.Digester()}
}

func (v *verifyingReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if v.verified {
			if len(v.held) == 0 {
				return 0, io.EOF
			}
			n := copy(p, v.held)
			v.held = v.held[n:]
			return n, nil
		}
		if v.err != nil {
			return 0, v.err
		}

		n, err := v.rc.Read(p)
		released := 0
		if n > 0 {
			v.digester.Hash().Write(p[:n])
			chunk := append(v.held, p[:n]...)
			released = copy(p, chunk[:len(chunk)-1])
			v.held = []byte{chunk[len(chunk)-1]}
		}
		switch {
		case err == io.EOF:
			if sha := v.digester.Digest().Encoded(); sha != v.expected {
				v.held = nil
				v.err = ansibleerrors.ArtifactCorrupt(v.expected, sha)
			} else {
				v.verified = true
			}
		case err != nil:
			v.err = err
		}
		if released > 0 {
			return released, nil
		}
	}
}

func (v *verifyingReader) Close() error {
	return v.rc.Close()
}
