package dsl

import (
	"bufio"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"dynmodels/internal/expr"

	"github.com/pkg/errors"
)

// Текстовый формат для ручного описания моделей:
//
//	module inventory
//	entity Widget:
//	  label: string required max_length=80
//	  weight: float
//	  site: point srid=4326
//	  state: enum[new, used]
//	  constraints:
//	    unique(label, site)
//
// Каждая entity превращается в спецификацию модели через билдеры.
var (
	entityRe           = regexp.MustCompile(`^entity\s+(\w+):`)
	fieldRe            = regexp.MustCompile(`^\s*([\w_]+):\s*([^\s#]+)(.*)$`)
	enumRe             = regexp.MustCompile(`^enum\[(.*)\]$`)
	moduleRe           = regexp.MustCompile(`^\s*module\s+([A-Za-z0-9_.-]+)\s*$`)
	reConstraintsStart = regexp.MustCompile(`^\s*constraints\s*:\s*$`)
	reUniqueLine       = regexp.MustCompile(`^\s*unique\s*\(\s*([^)]+)\s*\)\s*$`)
)

// тип DSL -> вид поля; geo-виды делают модель геомоделью
var fieldKinds = map[string]struct {
	kind string
	geo  bool
}{
	"string":       {"CharField", false},
	"text":         {"TextField", false},
	"int":          {"IntegerField", false},
	"bigint":       {"BigIntegerField", false},
	"float":        {"FloatField", false},
	"money":        {"DecimalField", false},
	"bool":         {"BooleanField", false},
	"date":         {"DateField", false},
	"datetime":     {"DateTimeField", false},
	"email":        {"EmailField", false},
	"url":          {"URLField", false},
	"point":        {"PointField", true},
	"linestring":   {"LineStringField", true},
	"polygon":      {"PolygonField", true},
	"multipolygon": {"MultiPolygonField", true},
}

// опции DSL -> именованные аргументы конструктора поля
var optionKeywords = map[string]string{
	"unique":         "unique",
	"index":          "db_index",
	"default":        "default",
	"max_length":     "max_length",
	"verbose":        "verbose_name",
	"verbose_name":   "verbose_name",
	"help":           "help_text",
	"help_text":      "help_text",
	"srid":           "srid",
	"column":         "db_column",
	"max_digits":     "max_digits",
	"decimal_places": "decimal_places",
}

// splitOptionTokens делит "k=v k2='v 2' flag" на токены, не разрывая
// кавычки и [...]
func splitOptionTokens(s string) []string {
	var out []string
	var buf []rune
	inSingle, inDouble := false, false
	bracketDepth := 0

	flush := func() {
		if len(buf) > 0 {
			out = append(out, string(buf))
			buf = buf[:0]
		}
	}

	for _, r := range s {
		switch r {
		case '\'':
			if !inDouble && bracketDepth == 0 {
				inSingle = !inSingle
			}
			buf = append(buf, r)
		case '"':
			if !inSingle && bracketDepth == 0 {
				inDouble = !inDouble
			}
			buf = append(buf, r)
		case '[':
			if !inSingle && !inDouble {
				bracketDepth++
			}
			buf = append(buf, r)
		case ']':
			if !inSingle && !inDouble && bracketDepth > 0 {
				bracketDepth--
			}
			buf = append(buf, r)
		default:
			if (r == ' ' || r == '\t') && !inSingle && !inDouble && bracketDepth == 0 {
				flush()
				continue
			}
			buf = append(buf, r)
		}
	}
	flush()
	return out
}

type entityDraft struct {
	name   string
	module string
	geo    bool
	fields Fields
	unique [][]any
}

func (d *entityDraft) spec() *Spec {
	var s *Spec
	if d.geo {
		s = SimpleGeoModel(d.name, true, "", d.fields)
	} else {
		s = SimpleModel(d.name, true, "", d.fields)
	}
	if d.module != "" {
		s.Meta["app_label"] = Lit(d.module)
	}
	if len(d.unique) > 0 {
		sets := make([]any, 0, len(d.unique))
		for _, u := range d.unique {
			sets = append(sets, u)
		}
		s.Meta["unique_together"] = Lit(sets)
	}
	return s
}

// ParseSpecs читает .dsl-поток и возвращает спецификации моделей.
func ParseSpecs(r io.Reader, source string) ([]*Spec, error) {
	var specs []*Spec
	var current *entityDraft
	currentModule := ""
	inConstraints := false
	lineNo := 0

	closeCurrent := func() {
		if current != nil {
			specs = append(specs, current.spec())
			current = nil
		}
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if m := moduleRe.FindStringSubmatch(line); m != nil {
			currentModule = m[1]
			continue
		}

		if m := entityRe.FindStringSubmatch(line); m != nil {
			closeCurrent()
			current = &entityDraft{name: m[1], module: currentModule, fields: Fields{}}
			inConstraints = false
			continue
		}
		if current == nil {
			continue
		}

		if reConstraintsStart.MatchString(line) {
			inConstraints = true
			continue
		}
		if inConstraints {
			if m := reUniqueLine.FindStringSubmatch(line); m != nil {
				var set []any
				for _, p := range strings.Split(m[1], ",") {
					if p = strings.TrimSpace(p); p != "" {
						set = append(set, p)
					}
				}
				if len(set) > 0 {
					current.unique = append(current.unique, set)
				}
				continue
			}
			inConstraints = false
		}

		m := fieldRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name, rawType, tail := m[1], m[2], m[3]

		// enum[a, b] с пробелами внутри
		if strings.HasPrefix(rawType, "enum[") && !strings.Contains(rawType, "]") {
			if idx := strings.Index(tail, "]"); idx >= 0 {
				rawType += tail[:idx+1]
				tail = tail[idx+1:]
			}
		}

		optsRaw := strings.TrimSpace(tail)
		if i := strings.IndexByte(optsRaw, '#'); i >= 0 {
			optsRaw = strings.TrimSpace(optsRaw[:i])
		}
		if strings.HasPrefix(strings.ToLower(optsRaw), "options:") {
			optsRaw = strings.TrimSpace(optsRaw[len("options:"):])
		}
		optsRaw = strings.ReplaceAll(optsRaw, ",", " ")

		field, geo, err := buildField(rawType, splitOptionTokens(optsRaw))
		if err != nil {
			return nil, errors.Wrapf(err, "%s:%d: %s.%s", source, lineNo, current.name, name)
		}
		current.geo = current.geo || geo
		current.fields[name] = field
	}
	closeCurrent()
	return specs, scanner.Err()
}

func buildField(rawType string, tokens []string) (*expr.Callable, bool, error) {
	kw := Kw{"null": true}
	var kind string
	geo := false

	if mm := enumRe.FindStringSubmatch(rawType); mm != nil {
		kind = "CharField"
		var choices []any
		for _, p := range strings.Split(mm[1], ",") {
			if s := strings.Trim(strings.TrimSpace(p), `"'`); s != "" {
				choices = append(choices, s)
			}
		}
		kw["choices"] = choices
	} else {
		fk, ok := fieldKinds[strings.ToLower(rawType)]
		if !ok {
			return nil, false, errors.Errorf("unknown type: %s", rawType)
		}
		kind, geo = fk.kind, fk.geo
	}
	switch kind {
	case "CharField":
		kw["max_length"] = 255
	case "DecimalField":
		kw["max_digits"] = 18
		kw["decimal_places"] = 2
	}

	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		if !strings.Contains(tok, "=") {
			switch strings.ToLower(tok) {
			case "required":
				kw["null"] = false
			case "unique", "index":
				kw[optionKeywords[strings.ToLower(tok)]] = true
			default:
				return nil, false, errors.Errorf("unknown flag: %s", tok)
			}
			continue
		}
		kv := strings.SplitN(tok, "=", 2)
		k := strings.ToLower(strings.TrimSpace(kv[0]))
		v := unquote(strings.TrimSpace(kv[1]))
		key, ok := optionKeywords[k]
		if !ok {
			return nil, false, errors.Errorf("unknown option: %s", k)
		}
		kw[key] = optionValue(v)
	}

	if geo {
		return SimpleGeoField(kind, kw), true, nil
	}
	return SimpleField(kind, kw), false, nil
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

func optionValue(v string) any {
	switch strings.ToLower(v) {
	case "true", "yes":
		return true
	case "false", "no":
		return false
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return v
}

// LoadSpecs читает один .dsl файл.
func LoadSpecs(path string) ([]*Spec, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ParseSpecs(file, path)
}

// LoadAllSpecs обходит каталог и собирает спецификации из всех .dsl файлов.
func LoadAllSpecs(root string) (map[string]*Spec, error) {
	result := make(map[string]*Spec)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".dsl") {
			return nil
		}
		specs, err := LoadSpecs(path)
		if err != nil {
			return errors.Wrapf(err, "parse %s", path)
		}
		for _, s := range specs {
			if _, exists := result[s.Name]; exists {
				return errors.Errorf("duplicate entity %q (file: %s)", s.Name, path)
			}
			result[s.Name] = s
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
