package docker

import (
	"archive/tar"
	"bytes"
	"io"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/nstogner/analyst/pkg/table"
)

func TestBuildArchive(t *testing.T) {
	in := table.New([]string{"a", "b"}, [][]any{{1.0, "x"}, {2.0, "y"}})
	r, err := buildArchive("print(len(df))", in)
	if err != nil {
		t.Fatalf("buildArchive: %v", err)
	}

	got := map[string]string{}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("reading archive: %v", err)
		}
		data, _ := io.ReadAll(tr)
		got[hdr.Name] = string(data)
	}

	if got["code.py"] != "print(len(df))" {
		t.Errorf("code.py = %q", got["code.py"])
	}
	if got["input.csv"] != "a,b\n1,x\n2,y\n" {
		t.Errorf("input.csv = %q", got["input.csv"])
	}
	if len(got["runner.py"]) == 0 {
		t.Error("runner.py missing")
	}
}

func TestBuildArchiveWithoutTable(t *testing.T) {
	r, err := buildArchive("print(1)", nil)
	if err != nil {
		t.Fatalf("buildArchive: %v", err)
	}
	tr := tar.NewReader(r)
	var names []string
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		names = append(names, hdr.Name)
	}
	if len(names) != 2 {
		t.Errorf("entries = %v, want runner.py and code.py", names)
	}
}

func TestLimitWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &limitWriter{w: &buf, n: 5}
	if n, err := w.Write([]byte("hello world")); n != 11 || err != nil {
		t.Errorf("Write = %d, %v", n, err)
	}
	w.Write([]byte("more"))
	if buf.String() != "hello" {
		t.Errorf("buf = %q", buf.String())
	}
}

func TestLastLine(t *testing.T) {
	if got := lastLine("Traceback\n  File x\nValueError: bad\n"); got != "ValueError: bad" {
		t.Errorf("lastLine = %q", got)
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	got := truncate("ab"+strings.Repeat("é", 3), 3)
	if got != "ab..." {
		t.Errorf("truncate = %q, want %q", got, "ab...")
	}
	if !utf8.ValidString(got) {
		t.Errorf("truncate produced invalid UTF-8: %q", got)
	}
}
