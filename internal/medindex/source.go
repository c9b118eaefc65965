package medindex

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"gopkg.in/yaml.v3"
)

// Source yields the full record set an index is built from.
type Source interface {
	Name() string
	Records(ctx context.Context) ([]Record, error)
}

// StaticSource serves a fixed record slice.
type StaticSource []Record

func (s StaticSource) Name() string { return "static" }

func (s StaticSource) Records(context.Context) ([]Record, error) {
	return append([]Record(nil), s...), nil
}

// CSVSource reads records from a CSV file with a header row naming the
// generic_name, brand_name, strength, region and city columns. Only
// generic_name is required; other missing columns are left empty.
type CSVSource struct {
	Path string
}

func (s CSVSource) Name() string { return "csv:" + s.Path }

func (s CSVSource) Records(ctx context.Context) ([]Record, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return ReadCSV(ctx, f)
}

// ReadCSV parses the CSV record format from r.
func ReadCSV(ctx context.Context, r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := col["generic_name"]; !ok {
		return nil, errors.New("missing generic_name column")
	}
	get := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var out []Record
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rec := Record{
			GenericName: get(row, "generic_name"),
			BrandName:   get(row, "brand_name"),
			Strength:    get(row, "strength"),
			Region:      get(row, "region"),
			City:        get(row, "city"),
		}
		if rec.GenericName == "" && rec.BrandName == "" {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// YAMLSource reads records from a YAML file holding either a bare list or a
// document with a "medicines" list.
type YAMLSource struct {
	Path string
}

func (s YAMLSource) Name() string { return "yaml:" + s.Path }

func (s YAMLSource) Records(context.Context) ([]Record, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, err
	}
	var list []Record
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var doc struct {
		Medicines []Record `yaml:"medicines"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.Path, err)
	}
	return doc.Medicines, nil
}

// PostgresSource selects records from a medicines table.
type PostgresSource struct {
	DB    pgxscan.Querier
	Table string
}

func (s PostgresSource) Name() string { return "postgres:" + s.table() }

func (s PostgresSource) table() string {
	if s.Table == "" {
		return "medicines"
	}
	return s.Table
}

func (s PostgresSource) Records(ctx context.Context) ([]Record, error) {
	query, args, err := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Select(
			"generic_name",
			"COALESCE(brand_name, '') AS brand_name",
			"COALESCE(strength, '') AS strength",
			"COALESCE(region, '') AS region",
			"COALESCE(city, '') AS city",
		).
		From(s.table()).
		OrderBy("generic_name", "brand_name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var out []Record
	if err := pgxscan.Select(ctx, s.DB, &out, query, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// SourceFor picks a file source by extension.
func SourceFor(path string) (Source, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return CSVSource{Path: path}, nil
	case ".yaml", ".yml":
		return YAMLSource{Path: path}, nil
	default:
		return nil, fmt.Errorf("unsupported medicine source %q (want .csv, .yaml or .yml)", path)
	}
}
