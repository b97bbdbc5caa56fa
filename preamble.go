package jsbridge

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Preamble is the ordered list of source fragments prepended to every
// evaluation. Fragment zero is always the result replacer. Fragments are
// never validated, deduplicated or executed on append.
type Preamble struct {
	fragments []string
}

func NewPreamble() *Preamble {
	return &Preamble{fragments: []string{replacerFragment}}
}

func (p *Preamble) Append(fragment string) {
	p.fragments = append(p.fragments, fragment)
}

// Render joins all fragments with newlines.
func (p *Preamble) Render() string {
	return strings.Join(p.fragments, "\n")
}

func (p *Preamble) Len() int {
	return len(p.fragments)
}

// Fragments returns a copy of the fragment list.
func (p *Preamble) Fragments() []string {
	return slices.Clone(p.fragments)
}

var gzipMagic = []byte{0x1f, 0x8b}

// readFragment loads script text from path. Gzip files are inflated and a
// leading byte order mark selects UTF-8 or UTF-16 decoding.
func readFragment(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	if bytes.HasPrefix(data, gzipMagic) {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return "", fmt.Errorf("open gzip fragment %s: %w", path, err)
		}
		defer zr.Close()
		if data, err = io.ReadAll(zr); err != nil {
			return "", fmt.Errorf("inflate fragment %s: %w", path, err)
		}
	}

	text, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
	if err != nil {
		return "", fmt.Errorf("decode fragment %s: %w", path, err)
	}
	return string(text), nil
}

// globFragments expands pattern (doublestar syntax) to a sorted file list.
func globFragments(pattern string) ([]string, error) {
	matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoMatch, pattern)
	}
	slices.Sort(matches)
	return matches, nil
}
