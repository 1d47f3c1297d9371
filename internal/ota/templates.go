package ota

import (
	"bytes"
	"embed"
	"encoding/xml"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"hotelpms/internal/config"
)

const templateExt = ".xml.tmpl"

//go:embed templates/*.xml.tmpl
var defaultTemplates embed.FS

var (
	ErrUnknownTemplate = errors.New("unknown template")
	ErrUnknownHotel    = errors.New("no ota credentials for hotel")
)

// FileTemplateStore renders OTA payloads. Built-in templates can be replaced
// by files of the same name in an override directory.
type FileTemplateStore struct {
	templates   map[string]*template.Template
	credentials map[int64]config.OTACredentials
}

type renderContext struct {
	Auth config.OTACredentials
	Data any
}

var funcs = template.FuncMap{
	"xml": xmlEscape,
}

func NewFileTemplateStore(dir string, creds []config.OTACredentials) (*FileTemplateStore, error) {
	s := &FileTemplateStore{
		templates:   make(map[string]*template.Template),
		credentials: make(map[int64]config.OTACredentials, len(creds)),
	}
	for _, c := range creds {
		s.credentials[c.HotelID] = c
	}

	embedded, err := fs.Sub(defaultTemplates, "templates")
	if err != nil {
		return nil, err
	}
	if err := s.load(embedded); err != nil {
		return nil, fmt.Errorf("load built-in templates: %w", err)
	}
	if dir != "" {
		if err := s.load(os.DirFS(dir)); err != nil {
			return nil, fmt.Errorf("load templates from %s: %w", dir, err)
		}
	}
	return s, nil
}

func (s *FileTemplateStore) load(fsys fs.FS) error {
	matches, err := fs.Glob(fsys, "*"+templateExt)
	if err != nil {
		return err
	}
	for _, file := range matches {
		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(filepath.Base(file), templateExt)
		tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(string(raw))
		if err != nil {
			return fmt.Errorf("parse %s: %w", file, err)
		}
		s.templates[name] = tmpl
	}
	return nil
}

// Render executes the named template with the hotel's credentials available as .Auth and data as .Data.
func (s *FileTemplateStore) Render(hotelID int64, name string, data any) ([]byte, error) {
	tmpl, ok := s.templates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}
	creds, ok := s.credentials[hotelID]
	if !ok {
		return nil, fmt.Errorf("%w %d", ErrUnknownHotel, hotelID)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, renderContext{Auth: creds, Data: data}); err != nil {
		return nil, fmt.Errorf("render %s for hotel %d: %w", name, hotelID, err)
	}
	return buf.Bytes(), nil
}

func xmlEscape(s string) (string, error) {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return "", err
	}
	return b.String(), nil
}
