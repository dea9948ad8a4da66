package pg

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"dynmodels/internal/orm"

	"github.com/pkg/errors"
)

var reserved = map[string]struct{}{
	"user": {}, "select": {}, "table": {}, "insert": {}, "update": {}, "delete": {},
	"where": {}, "join": {}, "group": {}, "order": {}, "limit": {}, "offset": {},
	"primary": {}, "foreign": {}, "key": {}, "constraint": {}, "default": {},
	"from": {}, "into": {}, "values": {}, "unique": {}, "index": {}, "create": {},
	"drop": {}, "alter": {}, "schema": {}, "grant": {}, "revoke": {},
}

func isReserved(s string) bool { _, ok := reserved[strings.ToLower(s)]; return ok }

// системные колонки каждой таблицы модели
var systemColumns = []string{
	`"id" text primary key`,
	`"version" bigint not null default 1`,
	`"created_at" timestamp with time zone not null default now()`,
	`"updated_at" timestamp with time zone not null default now()`,
}

// SafeTable — имя таблицы модели; зарезервированные слова получают префикс.
func SafeTable(m *orm.ModelType) string {
	t := strings.ToLower(m.Table())
	if isReserved(t) {
		t = "e_" + t
	}
	return t
}

func sqlIdent(s string) string { return orm.QuoteIdent(strings.ToLower(s)) }

// Synced — модель получает таблицу: управляемая и не абстрактная.
func Synced(m *orm.ModelType) bool {
	o := m.Options()
	return o.Managed && !o.Abstract
}

// GenerateDDL возвращает карту ключ -> SQL. Ключи сортируются так, что
// расширения идут первыми, затем таблицы, затем индексы.
func GenerateDDL(models []*orm.ModelType) (map[string]string, error) {
	out := make(map[string]string, len(models)*2+1)

	sorted := append([]*orm.ModelType(nil), models...)
	sort.Slice(sorted, func(i, j int) bool { return SafeTable(sorted[i]) < SafeTable(sorted[j]) })

	needPostgis := false
	seenTables := map[string]string{}

	for _, m := range sorted {
		if !Synced(m) {
			continue
		}
		tbl := SafeTable(m)
		if other, dup := seenTables[tbl]; dup {
			return nil, errors.Errorf("%s and %s map to the same table %q", other, m.Name(), tbl)
		}
		seenTables[tbl] = m.Name()

		cols := append([]string(nil), systemColumns...)
		seen := map[string]struct{}{"id": {}, "version": {}, "created_at": {}, "updated_at": {}}

		var idx strings.Builder
		for _, f := range m.Fields() {
			col := strings.ToLower(f.ColumnName())
			if _, exists := seen[col]; exists {
				return nil, errors.Errorf("%s: field %q duplicates a system or duplicate column", m.Name(), f.Name)
			}
			seen[col] = struct{}{}
			if f.IsGeo() {
				needPostgis = true
			}

			def := ""
			if f.HasDefault && f.Default != nil {
				lit, err := sqlLiteral(f.Default)
				if err != nil {
					return nil, errors.Wrapf(err, "%s.%s: default", m.Name(), f.Name)
				}
				def = " default " + lit
			}
			null := "null"
			if !f.Null {
				null = "not null"
			}
			cols = append(cols, fmt.Sprintf("%s %s %s%s", sqlIdent(col), f.SQLType(), null, def))

			switch {
			case f.Unique || f.PrimaryKey:
				fmt.Fprintf(&idx, "create unique index if not exists %s on %s(%s);\n",
					sqlIdent(tbl+"_"+col+"_uq"), sqlIdent(tbl), sqlIdent(col))
			case f.IsGeo():
				fmt.Fprintf(&idx, "create index if not exists %s on %s using gist(%s);\n",
					sqlIdent(tbl+"_"+col+"_gist"), sqlIdent(tbl), sqlIdent(col))
			case f.DBIndex:
				fmt.Fprintf(&idx, "create index if not exists %s on %s(%s);\n",
					sqlIdent(tbl+"_"+col+"_idx"), sqlIdent(tbl), sqlIdent(col))
			}
		}

		// составные UNIQUE
		for _, set := range m.Options().UniqueTogether {
			if len(set) == 0 {
				continue
			}
			parts := make([]string, 0, len(set))
			names := make([]string, 0, len(set))
			for _, name := range set {
				f := m.Field(name)
				if f == nil {
					return nil, errors.Errorf("%s: unique_together refers to unknown field %q", m.Name(), name)
				}
				parts = append(parts, sqlIdent(f.ColumnName()))
				names = append(names, strings.ToLower(f.ColumnName()))
			}
			fmt.Fprintf(&idx, "create unique index if not exists %s on %s(%s);\n",
				sqlIdent(tbl+"_"+strings.Join(names, "_")+"_uq"), sqlIdent(tbl), strings.Join(parts, ", "))
		}

		tablespace := ""
		if ts := m.Options().DBTablespace; ts != "" {
			tablespace = " tablespace " + sqlIdent(ts)
		}
		out["100_"+tbl] = fmt.Sprintf("create table if not exists %s (\n  %s\n)%s;",
			sqlIdent(tbl), strings.Join(cols, ",\n  "), tablespace)
		if idx.Len() > 0 {
			out["200_"+tbl] = idx.String()
		}
	}

	if needPostgis {
		out["000_extensions"] = "create extension if not exists postgis;"
	}
	return out, nil
}

// DropTableSQL — удаление таблицы модели.
func DropTableSQL(m *orm.ModelType) string {
	return fmt.Sprintf("drop table if exists %s;", sqlIdent(SafeTable(m)))
}

func sqlLiteral(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'", nil
	case bool:
		if t {
			return "true", nil
		}
		return "false", nil
	case int, int32, int64, float64:
		return fmt.Sprint(t), nil
	case time.Time:
		return "'" + t.UTC().Format(time.RFC3339Nano) + "'", nil
	}
	return "", errors.Errorf("unsupported default %T", v)
}
