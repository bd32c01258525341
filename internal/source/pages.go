// Package source loads and fetches the page records fed to ingestion.
package source

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/certstate-cli/internal/model"
)

// LoadPages reads page records from path: either a JSON array of
// {url, markdown, summary} objects or a directory whose .md, .markdown,
// .html and .htm files become one page each, in file name order.
func LoadPages(path string) ([]model.PageRecord, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: stat %s", path)
	}
	if info.IsDir() {
		return loadDir(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return DecodePages(f)
}

// DecodePages decodes a JSON array of page records.
func DecodePages(r io.Reader) ([]model.PageRecord, error) {
	var pages []model.PageRecord
	if err := json.NewDecoder(r).Decode(&pages); err != nil {
		return nil, eris.Wrap(err, "source: decode pages")
	}
	return pages, nil
}

// WritePages encodes pages as an indented JSON array.
func WritePages(w io.Writer, pages []model.PageRecord) error {
	if pages == nil {
		pages = []model.PageRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(pages), "source: encode pages")
}

func loadDir(dir string) ([]model.PageRecord, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read dir %s", dir)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var pages []model.PageRecord
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".md" && ext != ".markdown" && ext != ".html" && ext != ".htm" {
			continue
		}

		p := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, eris.Wrapf(err, "source: read %s", p)
		}
		page, err := pageFromFile(p, ext, data)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}
	return pages, nil
}

// pageFromFile uses the first "<!-- url: ... -->" or "url: ..." line as the
// page URL and the file path otherwise.
func pageFromFile(path, ext string, data []byte) (model.PageRecord, error) {
	page := model.PageRecord{URL: fileURL(path)}
	if u := declaredURL(data); u != "" {
		page.URL = u
	}

	if ext == ".html" || ext == ".htm" {
		md, err := HTMLToMarkdown(string(data), page.URL)
		if err != nil {
			return page, eris.Wrapf(err, "source: %s", path)
		}
		page.Markdown = md
		return page, nil
	}
	page.Markdown = string(data)
	return page, nil
}

func declaredURL(data []byte) string {
	line, _, _ := bytes.Cut(bytes.TrimSpace(data), []byte("\n"))
	s := strings.TrimSpace(string(line))
	s = strings.TrimSuffix(strings.TrimPrefix(s, "<!--"), "-->")
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "url:"); ok {
		return strings.TrimSpace(rest)
	}
	return ""
}

func fileURL(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return "file://" + filepath.ToSlash(path)
}
