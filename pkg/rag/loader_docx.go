package rag

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DocxLoader extracts paragraph text from .docx files. Word headings become
// markdown headings so the markdown splitter can cut on them.
type DocxLoader struct{}

func NewDocxLoader() *DocxLoader {
	return &DocxLoader{}
}

func (l *DocxLoader) Load(path string) (string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("failed to open docx zip: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		defer rc.Close()
		return parseDocxXML(rc)
	}
	return "", errors.New("invalid docx: word/document.xml not found")
}

// parseDocxXML streams the document body, one paragraph per block.
func parseDocxXML(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)
	var result, para strings.Builder
	var style string
	inText := false

	for {
		t, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		switch se := t.(type) {
		case xml.StartElement:
			switch se.Name.Local {
			case "p":
				para.Reset()
				style = ""
			case "pStyle":
				for _, attr := range se.Attr {
					if attr.Name.Local == "val" {
						style = attr.Value
					}
				}
			case "t":
				inText = true
			}
		case xml.CharData:
			if inText {
				para.Write(se)
			}
		case xml.EndElement:
			switch se.Name.Local {
			case "t":
				inText = false
			case "p":
				text := para.String()
				if strings.TrimSpace(text) == "" {
					continue
				}
				result.WriteString(headingPrefix(style))
				result.WriteString(text)
				result.WriteString("\n\n")
			}
		}
	}
	return result.String(), nil
}

// headingPrefix maps Word styles such as "Heading1" or "heading 2" to markdown.
func headingPrefix(style string) string {
	if !strings.Contains(strings.ToLower(style), "heading") {
		return ""
	}
	switch {
	case strings.Contains(style, "1"):
		return "# "
	case strings.Contains(style, "2"):
		return "## "
	case strings.Contains(style, "3"):
		return "### "
	}
	return ""
}
