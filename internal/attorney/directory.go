// Package attorney сопоставляет идентификаторы адвокатов с отображаемыми именами.
// Используется только для представления результатов.
package attorney

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Directory хранит отображаемые имена адвокатов.
type Directory struct {
	labels map[string]string
}

type fileEntry struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Firm string `yaml:"firm"`
}

type fileContent struct {
	Attorneys []fileEntry `yaml:"attorneys"`
}

// NewDirectory создаёт справочник из готового набора имён.
func NewDirectory(labels map[string]string) *Directory {
	d := &Directory{labels: make(map[string]string, len(labels))}
	for id, name := range labels {
		d.labels[id] = name
	}
	return d
}

// Load читает справочник из YAML-файла вида:
//
//	attorneys:
//	  - id: att-1
//	    name: Jane Roe
//	    firm: Roe & Partners
func Load(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read attorney directory: %w", err)
	}

	var content fileContent
	if err := yaml.Unmarshal(data, &content); err != nil {
		return nil, fmt.Errorf("parse attorney directory: %w", err)
	}

	labels := make(map[string]string, len(content.Attorneys))
	for _, a := range content.Attorneys {
		if a.ID == "" {
			continue
		}
		label := a.Name
		if a.Firm != "" {
			label = fmt.Sprintf("%s (%s)", a.Name, a.Firm)
		}
		labels[a.ID] = label
	}

	return &Directory{labels: labels}, nil
}

// LabelFor возвращает отображаемое имя адвоката или его идентификатор, если имя неизвестно.
func (d *Directory) LabelFor(attorneyID string) string {
	if d == nil {
		return attorneyID
	}
	if label, ok := d.labels[attorneyID]; ok && label != "" {
		return label
	}
	return attorneyID
}
