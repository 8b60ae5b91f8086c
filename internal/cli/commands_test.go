package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const testCatalog = `package shows

dataset: Schedule: {
	required: ["Show", "Client", "Venue"]
	identity: ["Show", "Client"]
	cross_reference: [{dataset: "Inventory", field: "Show", as: "stock"}]
}

dataset: Inventory: {
	tab:      "Stock"
	required: ["Show", "Item"]
	steps: []
}
`

// fixture is a temporary workbook plus catalog.
type fixture struct {
	dir     string
	db      string
	catalog string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir:     dir,
		db:      filepath.Join(dir, "shows.db"),
		catalog: filepath.Join(dir, "catalog"),
	}
	require.NoError(t, os.MkdirAll(f.catalog, 0755))
	f.write(t, filepath.Join("catalog", "datasets.cue"), testCatalog)
	return f
}

func (f *fixture) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// run executes the root command with the fixture's workbook and catalog.
func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append(args, "--db", f.db, "--catalog", f.catalog))
	err := cmd.Execute()
	return out.String(), err
}

func decodeData(t *testing.T, out string, into any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, into))
}

func TestTabs_Empty(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "tabs")
	require.NoError(t, err)
	assert.Equal(t, "No tabs.\n", out)
}

func TestImportShowAndTabs(t *testing.T) {
	f := newFixture(t)
	rows := f.write(t, "rows.yaml", `
- { Show: Expo, Client: Acme, Venue: Hall A }
- { Show: Fair }
`)

	out, err := f.run(t, "import", "Schedule", rows, "--format", "json")
	require.NoError(t, err)
	var imported ImportResult
	decodeData(t, out, &imported)
	assert.Equal(t, ImportResult{Dataset: "Schedule", Tab: "Schedule", Added: 2, Rows: 2}, imported)

	out, err = f.run(t, "show", "Schedule", "--format", "json")
	require.NoError(t, err)
	var shown struct {
		Tab  string           `json:"tab"`
		Rows []map[string]any `json:"rows"`
	}
	decodeData(t, out, &shown)
	assert.Equal(t, "Schedule", shown.Tab)
	assert.Equal(t, []map[string]any{
		{"Show": "Expo", "Client": "Acme", "Venue": "Hall A"},
		{"Show": "Fair", "Client": "", "Venue": ""},
	}, shown.Rows, "required fields are padded on import")

	out, err = f.run(t, "show", "Schedule")
	require.NoError(t, err)
	assert.Contains(t, out, `  0  {"Client":"Acme","Show":"Expo","Venue":"Hall A"}`)

	out, err = f.run(t, "tabs")
	require.NoError(t, err)
	assert.Contains(t, out, "Schedule")
	assert.Contains(t, out, "2 rows  rev 1")
}

func TestImport_JSONAppends(t *testing.T) {
	f := newFixture(t)
	first := f.write(t, "a.json", `[{"Show":"Expo","Item":"Chair","Qty":2}]`)
	second := f.write(t, "b.json", `[{"Show":"Expo","Item":"Table"}]`)

	_, err := f.run(t, "import", "Inventory", first)
	require.NoError(t, err)
	out, err := f.run(t, "import", "Stock", second)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 1 rows into Stock (2 rows total)")
}

func TestImport_BadFile(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "rows.csv", "Show,Client\n")

	_, err := f.run(t, "import", "Schedule", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "unsupported file type")
}

func TestShow_MissingTab(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "show", "Nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestAnalyze(t *testing.T) {
	f := newFixture(t)
	schedule := f.write(t, "schedule.yaml", `
- { Show: Expo, Client: Acme, Venue: Hall A }
- { Show: Expo, Client: Acme }
- { Show: Fair }
`)
	stock := f.write(t, "stock.yaml", `
- { Show: Expo, Item: Chair }
`)
	_, err := f.run(t, "import", "Schedule", schedule)
	require.NoError(t, err)
	_, err = f.run(t, "import", "Inventory", stock)
	require.NoError(t, err)

	out, err := f.run(t, "analyze", "Schedule", "--format", "json")
	require.NoError(t, err)
	var rows []AnalyzedRow
	decodeData(t, out, &rows)

	assert.Equal(t, []AnalyzedRow{
		{Index: 0, Derived: map[string]string{"missing": "", "duplicates": "1", "stock": "1"}},
		{Index: 1, Derived: map[string]string{"missing": "Venue", "duplicates": "1", "stock": "1"}},
		{Index: 2, Derived: map[string]string{"missing": "Client, Venue", "duplicates": "0", "stock": "0"}},
	}, rows)

	out, err = f.run(t, "analyze", "Schedule")
	require.NoError(t, err)
	assert.Contains(t, out, `  2  duplicates="0" missing="Client, Venue" stock="0"`)
}

func TestAnalyze_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(t, "analyze", "Nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `unknown dataset "Nope"`)

	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"analyze", "Schedule", "--db", f.db, "--catalog", filepath.Join(f.dir, "none")})
	err = cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "catalog directory not found")
}

func TestBadConfig(t *testing.T) {
	f := newFixture(t)
	cfg := f.write(t, "tabula.yaml", "log_level: loud\n")

	_, err := f.run(t, "tabs", "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestReadRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rows.yml")
	require.NoError(t, os.WriteFile(path, []byte("- { Show: Expo, Qty: 3 }\n"), 0644))

	recs, err := readRecords(path)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Expo", recs[0]["Show"])
	assert.Equal(t, 3, recs[0]["Qty"])

	_, err = readRecords(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestExport_XLSXRoundTrip(t *testing.T) {
	f := newFixture(t)
	rows := f.write(t, "rows.yaml", `
- { Show: Expo, Client: Acme, Venue: Hall A, Crew: 4 }
- { Show: Fair }
`)
	_, err := f.run(t, "import", "Schedule", rows)
	require.NoError(t, err)

	xlsx := filepath.Join(f.dir, "schedule.xlsx")
	out, err := f.run(t, "export", "Schedule", xlsx)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported 2 rows from Schedule")

	book, err := excelize.OpenFile(xlsx)
	require.NoError(t, err)
	defer book.Close()
	assert.Equal(t, []string{"Schedule"}, book.GetSheetList())
	sheet, err := book.GetRows("Schedule")
	require.NoError(t, err)
	require.Len(t, sheet, 3)
	assert.Equal(t, []string{"Show", "Client", "Venue", "Crew"}, sheet[0], "required fields lead")
	assert.Equal(t, []string{"Expo", "Acme", "Hall A", "4"}, sheet[1])

	out, err = f.run(t, "import", "Copy", xlsx, "--format", "json")
	require.NoError(t, err)
	var imported ImportResult
	decodeData(t, out, &imported)
	assert.Equal(t, 2, imported.Added)

	out, err = f.run(t, "show", "Copy", "--format", "json")
	require.NoError(t, err)
	var shown ShowResult
	decodeData(t, out, &shown)
	require.Len(t, shown.Rows, 2)
	assert.Equal(t, "4", shown.Rows[0]["Crew"], "xlsx cells import as text")
	assert.Equal(t, "", shown.Rows[1]["Crew"])
}

func TestExport_JSON(t *testing.T) {
	f := newFixture(t)
	rows := f.write(t, "rows.json", `[{"Show": "Expo", "Item": "Chair"}]`)
	_, err := f.run(t, "import", "Inventory", rows)
	require.NoError(t, err)

	path := filepath.Join(f.dir, "stock.json")
	_, err = f.run(t, "export", "Stock", path)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `[{"Item":"Chair","Show":"Expo"}]`, string(data))

	_, err = f.run(t, "export", "Stock", filepath.Join(f.dir, "stock.csv"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReadXLSXRecords_SkipsBlankRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.xlsx")
	book := excelize.NewFile()
	sheet := book.GetSheetName(0)
	require.NoError(t, book.SetSheetRow(sheet, "A1", &[]any{"Show", "", "Item"}))
	require.NoError(t, book.SetSheetRow(sheet, "A2", &[]any{"Expo", "ignored", "Chair"}))
	require.NoError(t, book.SetSheetRow(sheet, "A4", &[]any{"Fair"}))
	require.NoError(t, book.SaveAs(path))
	require.NoError(t, book.Close())

	recs, err := readRecords(path)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "Expo", recs[0]["Show"])
	assert.Equal(t, "Chair", recs[0]["Item"])
	assert.Len(t, recs[0], 2, "blank header cells are skipped")
	assert.Equal(t, "", recs[1]["Item"])
}
