package postgres

import (
	"strings"
	"testing"

	"loanetl/internal/storage"
)

func TestBuildCreateSQL_FactTable(t *testing.T) {
	t.Parallel()

	spec := storage.TableSpec{
		Name: "fact_loans",
		Columns: []storage.ColumnSpec{
			{Name: "loan_amnt", Type: storage.TypeFloat},
			{Name: "home_ownership_id", Type: storage.TypeBigint},
			{Name: "fact_id", Type: storage.TypeBigint},
		},
		PrimaryKey: "fact_id",
	}

	got := buildCreateSQL(spec)
	want := "CREATE TABLE \"fact_loans\" (\n" +
		"  \"loan_amnt\" DOUBLE PRECISION,\n" +
		"  \"home_ownership_id\" BIGINT,\n" +
		"  \"fact_id\" BIGINT NOT NULL,\n" +
		"  PRIMARY KEY (\"fact_id\")\n)"
	if got != want {
		t.Fatalf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestBuildCreateSQL_SchemaQualifiedWithoutPrimaryKey(t *testing.T) {
	t.Parallel()

	spec := storage.TableSpec{
		Name: "stage.dim_issue_date",
		Columns: []storage.ColumnSpec{
			{Name: "issue_d", Type: storage.TypeDate},
			{Name: "note", Type: storage.TypeText},
		},
	}

	got := buildCreateSQL(spec)
	if !strings.HasPrefix(got, `CREATE TABLE "stage"."dim_issue_date"`) {
		t.Fatalf("missing schema-qualified name: %q", got)
	}
	if strings.Contains(got, "PRIMARY KEY") {
		t.Fatalf("unexpected PRIMARY KEY: %q", got)
	}
	if !strings.Contains(got, `"issue_d" DATE`) || !strings.Contains(got, `"note" TEXT`) {
		t.Fatalf("missing column definitions: %q", got)
	}
}

func TestPgIdent_EscapesQuotes(t *testing.T) {
	t.Parallel()
	if got := pgIdent(`we"ird`); got != `"we""ird"` {
		t.Fatalf("got %q", got)
	}
}

func TestPgType_UnknownFallsBackToText(t *testing.T) {
	t.Parallel()
	if got := pgType("interval"); got != "TEXT" {
		t.Fatalf("got %q", got)
	}
	if got := pgType(storage.TypeTimestamp); got != "TIMESTAMPTZ" {
		t.Fatalf("got %q", got)
	}
}
