package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/perfctl/internal/testutil/testlog"
	"gopkg.in/yaml.v3"
)

type sample struct {
	Name  string         `json:"name" yaml:"name"`
	Count int            `json:"count" yaml:"count"`
	Tags  map[string]int `json:"tags" yaml:"tags"`
}

func TestParseFormat(t *testing.T) {
	testlog.Start(t)
	for raw, want := range map[string]Format{"": FormatJSON, "JSON": FormatJSON, "yaml": FormatYAML, " yml ": FormatYAML, "Table": FormatTable} {
		got, err := ParseFormat(raw)
		if err != nil || got != want {
			t.Fatalf("%q: got=%q err=%v", raw, got, err)
		}
	}
	if _, err := ParseFormat("csv"); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("expected ErrUnknownFormat, got %v", err)
	}
}

func TestWriteJSONAndYAML(t *testing.T) {
	testlog.Start(t)
	in := sample{Name: "osd", Count: 3, Tags: map[string]int{"a": 1}}

	var jbuf bytes.Buffer
	if err := Write(&jbuf, FormatJSON, in); err != nil {
		t.Fatalf("write json: %v", err)
	}
	var fromJSON sample
	if err := json.Unmarshal(jbuf.Bytes(), &fromJSON); err != nil || fromJSON.Name != "osd" || fromJSON.Tags["a"] != 1 {
		t.Fatalf("unexpected json %s err=%v", jbuf.String(), err)
	}

	var ybuf bytes.Buffer
	if err := Write(&ybuf, FormatYAML, in); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	var fromYAML sample
	if err := yaml.Unmarshal(ybuf.Bytes(), &fromYAML); err != nil || fromYAML.Count != 3 {
		t.Fatalf("unexpected yaml %s err=%v", ybuf.String(), err)
	}

	if err := Write(&ybuf, Format("xml"), in); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("expected ErrUnknownFormat, got %v", err)
	}
}

func TestWriteFileCreatesParents(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "runs", "result.json")
	if err := WriteFile(path, FormatJSON, sample{Name: "mon"}); err != nil {
		t.Fatalf("write file: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil || !bytes.Contains(raw, []byte(`"mon"`)) {
		t.Fatalf("unexpected file %q err=%v", raw, err)
	}
}

type grid Table

func (g grid) Table() Table { return Table(g) }

func TestWriteTableSpansMultiLineCells(t *testing.T) {
	testlog.Start(t)
	in := grid{
		Header: []string{"", "osd.0", "osd.1"},
		Rows: [][]string{
			{"osd", "", ""},
			{"op_r", "12", ""},
			{"op_latency", "avgcount=3\nsum=0.5\n", "avgcount=1\nsum=0.1\n"},
		},
	}

	var buf bytes.Buffer
	if err := Write(&buf, FormatTable, in); err != nil {
		t.Fatalf("write table: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	want := []string{
		"            osd.0       osd.1",
		"-           -----       -----",
		"osd",
		"op_r        12",
		"op_latency  avgcount=3  avgcount=1",
		"            sum=0.5     sum=0.1",
	}
	if len(lines) != len(want) {
		t.Fatalf("unexpected table:\n%s", buf.String())
	}
	for i := range want {
		if strings.TrimRight(lines[i], " ") != want[i] {
			t.Fatalf("line %d: got %q want %q\n%s", i, lines[i], want[i], buf.String())
		}
	}
}

func TestWriteTableRejectsPlainValues(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	if err := Write(&buf, FormatTable, sample{Name: "osd"}); !errors.Is(err, ErrNotTabular) {
		t.Fatalf("expected ErrNotTabular, got %v", err)
	}
}
