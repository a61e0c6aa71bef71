package utils

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

var ErrNoISBN = errors.New("no ISBN found in EPUB metadata")

// EPUBInfo is what an uploaded EPUB tells us about the book inside it.
type EPUBInfo struct {
	ISBN        string
	Title       string
	Author      string
	Cover       []byte
	CoverType   string
	Identifiers []string
}

type epubContainer struct {
	RootFiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

// opfPackage is the subset of the OPF package document we read. Tags carry no
// namespace so dc:identifier and friends match by local name.
type opfPackage struct {
	Metadata struct {
		Titles      []string `xml:"title"`
		Creators    []string `xml:"creator"`
		Identifiers []struct {
			ID     string `xml:"id,attr"`
			Scheme string `xml:"scheme,attr"`
			Value  string `xml:",chardata"`
		} `xml:"identifier"`
		Meta []struct {
			Name     string `xml:"name,attr"`
			Property string `xml:"property,attr"`
			Refines  string `xml:"refines,attr"`
			Content  string `xml:"content,attr"`
			Value    string `xml:",chardata"`
		} `xml:"meta"`
	} `xml:"metadata"`
	Manifest struct {
		Items []struct {
			ID         string `xml:"id,attr"`
			Href       string `xml:"href,attr"`
			MediaType  string `xml:"media-type,attr"`
			Properties string `xml:"properties,attr"`
		} `xml:"item"`
	} `xml:"manifest"`
}

// ReadEPUB parses an EPUB archive. It returns ErrNoISBN, along with whatever
// else it found, when no identifier carries a valid ISBN checksum.
func ReadEPUB(data []byte) (*EPUBInfo, error) {
	if len(data) == 0 {
		return nil, errors.New("uploaded file is empty")
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("invalid EPUB file (not a valid ZIP): %w", err)
	}

	raw, err := readZipEntry(zr, "META-INF/container.xml")
	if err != nil {
		return nil, err
	}
	var container epubContainer
	if err := xml.Unmarshal(raw, &container); err != nil {
		return nil, fmt.Errorf("parse container.xml: %w", err)
	}
	if len(container.RootFiles) == 0 {
		return nil, errors.New("no rootfile found in container.xml")
	}
	opfPath := container.RootFiles[0].FullPath
	raw, err = readZipEntry(zr, opfPath)
	if err != nil {
		return nil, err
	}
	var pkg opfPackage
	if err := xml.Unmarshal(raw, &pkg); err != nil {
		return nil, fmt.Errorf("parse OPF: %w", err)
	}

	info := &EPUBInfo{}
	if len(pkg.Metadata.Titles) > 0 {
		info.Title = strings.TrimSpace(pkg.Metadata.Titles[0])
	}
	if len(pkg.Metadata.Creators) > 0 {
		info.Author = strings.TrimSpace(pkg.Metadata.Creators[0])
	}
	for _, id := range pkg.Metadata.Identifiers {
		info.Identifiers = append(info.Identifiers, strings.TrimSpace(id.Value))
	}
	info.ISBN = pickISBN(&pkg)
	info.Cover, info.CoverType = findCover(zr, &pkg, path.Dir(opfPath))

	if info.ISBN == "" {
		return info, ErrNoISBN
	}
	return info, nil
}

// pickISBN prefers identifiers declared as ISBNs (EPUB 2 scheme attribute or
// EPUB 3 refining meta) and falls back to any identifier with a valid checksum.
func pickISBN(pkg *opfPackage) string {
	isISBNScheme := func(s string) bool {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "isbn", "isbn-10", "isbn-13", "15":
			return true
		}
		return false
	}
	declared := map[string]bool{}
	for _, m := range pkg.Metadata.Meta {
		prop := strings.ToLower(m.Property)
		if prop != "identifier-type" && prop != "scheme" {
			continue
		}
		if isISBNScheme(m.Content) || isISBNScheme(m.Value) {
			declared[strings.TrimPrefix(m.Refines, "#")] = true
		}
	}

	var fallback string
	for _, id := range pkg.Metadata.Identifiers {
		candidate := isbnCandidate(id.Value)
		if !ValidateISBN(candidate) {
			continue
		}
		if isISBNScheme(id.Scheme) || declared[id.ID] {
			return candidate
		}
		if fallback == "" {
			fallback = candidate
		}
	}
	return fallback
}

// isbnCandidate drops a "urn:isbn:" style prefix and anything that is not a
// digit or X.
func isbnCandidate(v string) string {
	v = strings.TrimSpace(v)
	if i := strings.LastIndex(strings.ToLower(v), "isbn:"); i >= 0 {
		v = v[i+len("isbn:"):]
	}
	return strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == 'X' || r == 'x' {
			return r
		}
		return -1
	}, v)
}

func findCover(zr *zip.Reader, pkg *opfPackage, opfDir string) ([]byte, string) {
	var coverID string
	for _, m := range pkg.Metadata.Meta {
		if strings.EqualFold(m.Name, "cover") && m.Content != "" {
			coverID = m.Content
			break
		}
	}
	for _, item := range pkg.Manifest.Items {
		byMeta := coverID != "" && item.ID == coverID
		if !byMeta && !strings.Contains(item.Properties, "cover-image") {
			continue
		}
		data, err := readZipEntry(zr, path.Join(opfDir, item.Href))
		if err != nil {
			return nil, ""
		}
		mediaType := item.MediaType
		if mediaType == "" {
			mediaType = "image/jpeg"
		}
		return data, mediaType
	}
	return nil, ""
}

// readZipEntry matches names case-insensitively and tolerates backslashes.
func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	want := strings.ReplaceAll(name, "\\", "/")
	for _, f := range zr.File {
		if !strings.EqualFold(strings.ReplaceAll(f.Name, "\\", "/"), want) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("file not found in EPUB: %s", name)
}
