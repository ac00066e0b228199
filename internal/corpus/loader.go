// Package corpus reads the knowledge-base directory that index rebuilds are
// built from.
package corpus

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kalambet/deskflow/internal/storage"
)

// ErrEmpty is returned when a corpus directory yields no passages.
var ErrEmpty = errors.New("corpus has no passages")

// maxPassageLen caps a passage; longer paragraphs are split on sentence or
// word boundaries.
const maxPassageLen = 1200

// Load walks dir and returns one document per paragraph of every .txt, .md
// and .pdf file, in path order. Document ids are "<relative path>#<n>" so a
// rebuild of an unchanged corpus produces the same ids.
func Load(dir string) ([]storage.ContextDoc, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".txt", ".md", ".pdf":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking corpus %s: %w", dir, err)
	}
	sort.Strings(paths)

	var docs []storage.ContextDoc
	for _, path := range paths {
		text, err := readText(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		rel = filepath.ToSlash(rel)
		for i, p := range Split(text) {
			docs = append(docs, storage.ContextDoc{
				ID:      fmt.Sprintf("%s#%d", rel, i),
				Title:   rel,
				Content: p,
				Source:  storage.SourceCorpus,
			})
		}
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmpty, dir)
	}
	return docs, nil
}

func readText(path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return readPDF(path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Split breaks text into paragraphs on blank lines, joins wrapped lines and
// drops empty paragraphs.
func Split(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, block := range strings.Split(text, "\n\n") {
		para := strings.Join(strings.Fields(block), " ")
		if para == "" {
			continue
		}
		out = append(out, chop(para)...)
	}
	return out
}

func chop(para string) []string {
	var out []string
	for len(para) > maxPassageLen {
		cut := strings.LastIndex(para[:maxPassageLen], ". ")
		if cut > 0 {
			cut++ // keep the period
		} else if cut = strings.LastIndexByte(para[:maxPassageLen], ' '); cut <= 0 {
			cut = maxPassageLen
		}
		out = append(out, strings.TrimSpace(para[:cut]))
		para = strings.TrimSpace(para[cut:])
	}
	if para != "" {
		out = append(out, para)
	}
	return out
}
