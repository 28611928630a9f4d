package export_test

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/casescribe/internal/export"
)

// readPart returns the content of one part of a docx package.
func readPart(t *testing.T, docx []byte, name string) []byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(docx), int64(len(docx)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	f, err := zr.Open(name)
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return data
}

type wordDocument struct {
	Paragraphs []struct {
		Runs []struct {
			Texts  []string   `xml:"t"`
			Breaks []struct{} `xml:"br"`
			Tabs   []struct{} `xml:"tab"`
		} `xml:"r"`
	} `xml:"body>p"`
}

func paragraphTexts(t *testing.T, docx []byte) []string {
	t.Helper()
	var doc wordDocument
	if err := xml.Unmarshal(readPart(t, docx, "word/document.xml"), &doc); err != nil {
		t.Fatalf("unmarshal document.xml: %v", err)
	}
	var out []string
	for _, p := range doc.Paragraphs {
		var sb strings.Builder
		for _, r := range p.Runs {
			sb.WriteString(strings.Join(r.Texts, ""))
		}
		out = append(out, sb.String())
	}
	return out
}

func TestRender(t *testing.T) {
	t.Parallel()

	got, err := export.Render("The counselor spoke.")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if string(got[export.FormatTXT]) != "The counselor spoke." {
		t.Errorf("txt = %q", got[export.FormatTXT])
	}
	if len(got[export.FormatDOCX]) == 0 {
		t.Fatal("docx is empty")
	}
	if export.Filenames[export.FormatTXT] != "corrected_transcript.txt" ||
		export.Filenames[export.FormatDOCX] != "corrected_transcript.docx" {
		t.Errorf("Filenames = %v", export.Filenames)
	}
}

func TestDOCX_Paragraphs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"single", "All rise.", []string{"All rise."}},
		{"blank-line separated", "Q. Name?\n\nA. Smith & Sons <Ltd>.", []string{"Q. Name?", "A. Smith & Sons <Ltd>."}},
		{"empty text gives one empty paragraph", "", []string{""}},
		{"single newline stays in paragraph", "line one\nline two", []string{"line oneline two"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			docx, err := export.DOCX(tc.in)
			if err != nil {
				t.Fatalf("DOCX: %v", err)
			}
			if diff := cmp.Diff(tc.want, paragraphTexts(t, docx)); diff != "" {
				t.Errorf("paragraphs mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDOCX_BreaksAndTabs(t *testing.T) {
	t.Parallel()

	docx, err := export.DOCX("a\tb\nc")
	if err != nil {
		t.Fatalf("DOCX: %v", err)
	}
	var doc wordDocument
	if err := xml.Unmarshal(readPart(t, docx, "word/document.xml"), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	r := doc.Paragraphs[0].Runs[0]
	if len(r.Breaks) != 1 || len(r.Tabs) != 1 {
		t.Errorf("breaks=%d tabs=%d, want 1 and 1", len(r.Breaks), len(r.Tabs))
	}
}

func TestDOCX_NormalStyleIsCalibri11(t *testing.T) {
	t.Parallel()

	docx, err := export.DOCX("x")
	if err != nil {
		t.Fatalf("DOCX: %v", err)
	}
	styles := string(readPart(t, docx, "word/styles.xml"))
	for _, want := range []string{`w:styleId="Normal"`, `w:ascii="Calibri"`, `<w:sz w:val="22"/>`} {
		if !strings.Contains(styles, want) {
			t.Errorf("styles.xml missing %s", want)
		}
	}
	readPart(t, docx, "[Content_Types].xml")
	readPart(t, docx, "_rels/.rels")
}

func TestDOCX_Deterministic(t *testing.T) {
	t.Parallel()

	a, _ := export.DOCX("same text")
	b, _ := export.DOCX("same text")
	if !bytes.Equal(a, b) {
		t.Error("identical input produced different docx bytes")
	}
}
