package rag

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Loader defines the contract for reading a file and extracting its text content.
type Loader interface {
	// Load reads the file at the given path and returns its text content.
	Load(path string) (string, error)
}

// TextLoader is a generic loader for plain text files (txt, md, code, json).
type TextLoader struct{}

func NewTextLoader() *TextLoader {
	return &TextLoader{}
}

func (l *TextLoader) Load(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// AutoLoader selects the loader based on file extension.
type AutoLoader struct {
	textLoader Loader
	pdfLoader  Loader
	docxLoader Loader
}

func NewAutoLoader() *AutoLoader {
	return &AutoLoader{
		textLoader: NewTextLoader(),
		pdfLoader:  NewPDFLoader(),
		docxLoader: NewDocxLoader(),
	}
}

func (l *AutoLoader) Load(path string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); {
	case ext == ".pdf":
		return l.pdfLoader.Load(path)
	case ext == ".docx":
		return l.docxLoader.Load(path)
	case Supported(path):
		return l.textLoader.Load(path)
	default:
		return "", fmt.Errorf("unsupported file extension %q", ext)
	}
}

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".json": true, ".yaml": true, ".yml": true,
	".html": true, ".css": true, ".csv": true, ".rst": true,
}

var codeExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".tsx": true, ".jsx": true,
	".java": true, ".rs": true, ".c": true, ".h": true, ".cpp": true, ".rb": true, ".sh": true,
}

// Supported reports whether AutoLoader can read the file.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".pdf" || ext == ".docx" || textExtensions[ext] || codeExtensions[ext]
}

// IsCode reports whether the file is source code, which selects the code splitter
// and the "code" content type.
func IsCode(path string) bool {
	return codeExtensions[strings.ToLower(filepath.Ext(path))]
}
