// ABOUTME: Opens local text files with a configured character encoding.
// ABOUTME: Shared by the file-backed connectors; decodes to UTF-8 and strips a UTF-8 BOM.

package textfile

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

type readCloser struct {
	io.Reader
	io.Closer
}

// Open returns a reader producing UTF-8 text from path. enc names an IANA
// character set ("latin1", "windows-1251", "Shift_JIS"); empty means UTF-8.
func Open(path, enc string) (io.ReadCloser, error) {
	dec, err := decoder(enc)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return readCloser{Reader: transform.NewReader(f, dec), Closer: f}, nil
}

// ReadAll reads and decodes the whole file.
func ReadAll(path, enc string) ([]byte, error) {
	rc, err := Open(path, enc)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func decoder(enc string) (transform.Transformer, error) {
	switch strings.ToLower(strings.TrimSpace(enc)) {
	case "", "utf8", "utf-8":
		return unicode.UTF8BOM.NewDecoder(), nil
	}
	e, err := ianaindex.IANA.Encoding(enc)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", enc, err)
	}
	if e == nil {
		return nil, fmt.Errorf("unsupported encoding %q", enc)
	}
	return e.NewDecoder(), nil
}
