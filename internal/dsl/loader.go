package dsl

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LoadDocuments читает готовые документы спецификаций (*.json, *.yaml, *.yml)
// из каталога. Файл содержит один документ или список документов.
func LoadDocuments(dir string) ([]*Spec, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".json", ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []*Spec
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var raw any
		if strings.EqualFold(filepath.Ext(name), ".json") {
			err = json.Unmarshal(data, &raw)
		} else {
			err = yaml.Unmarshal(data, &raw)
		}
		if err != nil {
			return nil, errors.Wrap(err, path)
		}
		specs, err := documentsOf(raw)
		if err != nil {
			return nil, errors.Wrap(err, path)
		}
		out = append(out, specs...)
	}
	return out, nil
}

func documentsOf(raw any) ([]*Spec, error) {
	switch v := raw.(type) {
	case map[string]any:
		s, err := FromDocument(v)
		if err != nil {
			return nil, err
		}
		return []*Spec{s}, nil
	case []any:
		var out []*Spec
		for i, it := range v {
			m, ok := it.(map[string]any)
			if !ok {
				return nil, errors.Errorf("document %d: expected a map, got %T", i, it)
			}
			s, err := FromDocument(m)
			if err != nil {
				return nil, errors.Wrapf(err, "document %d", i)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, errors.Errorf("expected a document or a list of documents, got %T", raw)
}
