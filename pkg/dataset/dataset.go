// Package dataset generates and converts sample datasets by issuing SQL
// through an in-memory engine connection. Everything here is a linear call
// sequence into DuckDB; the interesting acquisition logic lives elsewhere.
package dataset

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb"
)

// tpchTables are the eight TPC-H relations dbgen materializes.
var tpchTables = []string{
	"customer", "lineitem", "nation", "orders", "part", "partsupp", "region", "supplier",
}

// Manager holds one in-memory engine connection for data operations.
type Manager struct {
	db   *sql.DB
	Logf func(string, ...any)
}

// New opens an in-memory connection and loads the parquet and tpch
// extensions needed by the generation and conversion paths.
func New() (*Manager, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("dataset: opening in-memory engine: %w", err)
	}
	if _, err := db.Exec("INSTALL parquet; LOAD parquet; INSTALL tpch; LOAD tpch;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("dataset: loading extensions: %w", err)
	}
	return &Manager{db: db, Logf: func(string, ...any) {}}, nil
}

// Close releases the engine connection.
func (m *Manager) Close() error { return m.db.Close() }

// GenerateChinook writes the sample Chinook music data into outputDir in the
// requested format. CSV is written directly; other formats are converted from
// the CSV through the engine.
func (m *Manager) GenerateChinook(outputDir, format string) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("dataset: creating output dir: %w", err)
	}

	csvPath := filepath.Join(outputDir, "chinook.csv")
	if err := os.WriteFile(csvPath, []byte(chinookCSV), 0o644); err != nil {
		return fmt.Errorf("dataset: writing chinook csv: %w", err)
	}
	m.Logf("wrote sample chinook data to %s", csvPath)

	if format == "csv" || format == "" {
		return nil
	}

	query, output, err := chinookConvertQuery(outputDir, format)
	if err != nil {
		return err
	}
	if _, err := m.db.Exec(query); err != nil {
		return fmt.Errorf("dataset: converting chinook to %s: %w", format, err)
	}
	m.Logf("converted chinook data to %s", output)
	return nil
}

// GenerateTPCH generates the TPC-H benchmark data at scale factor 0.01 (tiny,
// seconds not minutes) and exports it in the requested format.
func (m *Manager) GenerateTPCH(outputDir, format string) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("dataset: creating output dir: %w", err)
	}

	m.Logf("generating TPC-H data at scale factor 0.01")
	if _, err := m.db.Exec("CALL dbgen(sf = 0.01)"); err != nil {
		return fmt.Errorf("dataset: generating tpch data: %w", err)
	}

	queries, err := tpchExportQueries(outputDir, format)
	if err != nil {
		return err
	}
	for _, q := range queries {
		if _, err := m.db.Exec(q); err != nil {
			return fmt.Errorf("dataset: exporting tpch as %s: %w", format, err)
		}
	}
	m.Logf("exported TPC-H tables to %s as %s", outputDir, format)
	return nil
}

// Convert transcodes a single file between the supported formats.
func (m *Manager) Convert(input, output, inputFormat, outputFormat string) error {
	query, err := convertQuery(input, output, inputFormat, outputFormat)
	if err != nil {
		return err
	}
	if _, err := m.db.Exec(query); err != nil {
		return fmt.Errorf("dataset: converting %s to %s: %w", input, output, err)
	}
	m.Logf("converted %s to %s", input, output)
	return nil
}

// Extensions returns the names of extensions known to the connection.
func (m *Manager) Extensions() ([]string, error) {
	rows, err := m.db.Query("SELECT extension_name FROM duckdb_extensions() ORDER BY extension_name")
	if err != nil {
		return nil, fmt.Errorf("dataset: listing extensions: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// --- pure query builders -------------------------------------------------

// convertQuery composes the COPY statement for one supported conversion.
// Unsupported pairs are rejected up front so callers get a clear message
// instead of an engine parse error.
func convertQuery(input, output, inputFormat, outputFormat string) (string, error) {
	switch inputFormat + "->" + outputFormat {
	case "csv->parquet":
		return fmt.Sprintf(
			"COPY (SELECT * FROM read_csv(%s, header=true)) TO %s (FORMAT PARQUET)",
			sqlString(input), sqlString(output)), nil
	case "parquet->csv":
		return fmt.Sprintf(
			"COPY (SELECT * FROM read_parquet(%s)) TO %s (FORMAT CSV, HEADER)",
			sqlString(input), sqlString(output)), nil
	default:
		return "", fmt.Errorf("dataset: unsupported conversion: %s to %s", inputFormat, outputFormat)
	}
}

func chinookConvertQuery(outputDir, format string) (string, string, error) {
	csvPath := filepath.Join(outputDir, "chinook.csv")
	switch format {
	case "parquet":
		out := filepath.Join(outputDir, "chinook.parquet")
		q, err := convertQuery(csvPath, out, "csv", "parquet")
		return q, out, err
	default:
		return "", "", fmt.Errorf("dataset: unsupported chinook format: %s (available: csv, parquet)", format)
	}
}

// tpchExportQueries returns one statement per exported artifact. The duckdb
// format is a single EXPORT DATABASE; csv and parquet copy table by table.
func tpchExportQueries(outputDir, format string) ([]string, error) {
	switch format {
	case "duckdb", "":
		path := filepath.Join(outputDir, "tpch.duckdb")
		return []string{fmt.Sprintf("EXPORT DATABASE %s", sqlString(path))}, nil
	case "parquet":
		var queries []string
		for _, table := range tpchTables {
			path := filepath.Join(outputDir, table+".parquet")
			queries = append(queries, fmt.Sprintf("COPY %s TO %s (FORMAT PARQUET)", table, sqlString(path)))
		}
		return queries, nil
	case "csv":
		var queries []string
		for _, table := range tpchTables {
			path := filepath.Join(outputDir, table+".csv")
			queries = append(queries, fmt.Sprintf("COPY %s TO %s (FORMAT CSV, HEADER)", table, sqlString(path)))
		}
		return queries, nil
	default:
		return nil, fmt.Errorf("dataset: unsupported tpch format: %s (available: duckdb, parquet, csv)", format)
	}
}

// sqlString renders a single-quoted SQL string literal. Paths come from the
// command line, so the only escaping that matters is the quote itself.
func sqlString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// chinookCSV is the bundled sample of the Chinook music schema: artists,
// albums, and tracks with their relationships.
const chinookCSV = `ArtistId,Name
1,AC/DC
2,Aerosmith
3,Led Zeppelin

AlbumId,Title,ArtistId
1,For Those About To Rock We Salute You,1
2,Let There Be Rock,1
3,Toys In The Attic,2

TrackId,Name,AlbumId,Composer,Milliseconds,Bytes,UnitPrice
1,For Those About To Rock (We Salute You),1,Angus Young Malcolm Young Brian Johnson,343719,11170334,0.99
2,Put The Finger On You,1,Angus Young Malcolm Young Brian Johnson,205662,6713451,0.99
3,Walk This Way,3,Steven Tyler Joe Perry,331180,10871135,0.99
`
