package table

import (
	"errors"
	"strings"
	"testing"
)

func TestContextPutGetRoundTrip(t *testing.T) {
	c := NewContext()
	tbl := sample()
	name := c.Put("query_result", tbl)
	if name != "query_result_1" {
		t.Errorf("name = %q, want %q", name, "query_result_1")
	}

	got, err := c.Get(name)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Len() != tbl.Len() || strings.Join(got.Columns, ",") != strings.Join(tbl.Columns, ",") {
		t.Errorf("round trip changed shape: %s vs %s", got.Summary(), tbl.Summary())
	}
}

func TestContextNamesAreUniqueAndOrdered(t *testing.T) {
	c := NewContext()
	a := c.Put("df", sample())
	b := c.Put("df", sample())
	q := c.Put("query_result", sample())
	if a == b {
		t.Fatalf("duplicate names: %q", a)
	}
	names := c.Names()
	want := []string{"df_1", "df_2", "query_result_3"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("Names() = %v, want %v", names, want)
	}
	if latest, _, _ := c.Latest(); latest != q {
		t.Errorf("Latest() = %q, want %q", latest, q)
	}
}

func TestContextGetMissing(t *testing.T) {
	c := NewContext()
	c.Put("df", sample())
	_, err := c.Get("df_9")
	if !errors.Is(err, ErrNoSuchTable) {
		t.Fatalf("err = %v, want ErrNoSuchTable", err)
	}
	if !strings.Contains(err.Error(), "df_1") {
		t.Errorf("error should list available names: %v", err)
	}
}

func TestContextSummary(t *testing.T) {
	c := NewContext()
	if got := c.Summary(); got != "No tables loaded." {
		t.Errorf("empty Summary() = %q", got)
	}
	c.Put("df", sample())
	want := "- df_1: 3 rows; columns: name, score"
	if got := c.Summary(); got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}
}
