package ntriples

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aleksaelezovic/tristore/internal/triple"
)

func TestReadAll(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []triple.Raw
		wantErr  bool
	}{
		{
			name:     "simple triple",
			input:    "<http://example.org/s> <http://example.org/p> <http://example.org/o> .\n",
			expected: []triple.Raw{{"<http://example.org/s>", "<http://example.org/p>", "<http://example.org/o>"}},
		},
		{
			name: "literals",
			input: `<s> <p> "literal1" .
<s> <p> "literal2"^^<http://www.w3.org/2001/XMLSchema#string> .
<s> <p> "hello"@EN .
`,
			expected: []triple.Raw{
				{"<s>", "<p>", `"literal1"`},
				{"<s>", "<p>", `"literal2"^^<http://www.w3.org/2001/XMLSchema#string>`},
				{"<s>", "<p>", `"hello"@en`},
			},
		},
		{
			name:  "escapes are canonicalized",
			input: `<s> <p> "a\tb\u00e9\"\n" .` + "\n",
			expected: []triple.Raw{
				{"<s>", "<p>", "\"a\tb\u00e9\\\"\\n\""},
			},
		},
		{
			name: "prefix directive",
			input: `PREFIX ex: <http://example.org/>
ex:s ex:p ex:o.
`,
			expected: []triple.Raw{{"<http://example.org/s>", "<http://example.org/p>", "<http://example.org/o>"}},
		},
		{
			name: "blank nodes and comments",
			input: `# header
_:b1 <p> "value" . # trailing
<s> <p> _:b2.

`,
			expected: []triple.Raw{
				{"_:b1", "<p>", `"value"`},
				{"<s>", "<p>", "_:b2"},
			},
		},
		{
			name: "numbers",
			input: `<s> <p> 42 .
<s> <p> -3.14.
`,
			expected: []triple.Raw{
				{"<s>", "<p>", `"42"^^` + xsdInteger},
				{"<s>", "<p>", `"-3.14"^^` + xsdDouble},
			},
		},
		{
			name:    "missing dot",
			input:   "<s> <p> <o>\n",
			wantErr: true,
		},
		{
			name:    "quad is rejected",
			input:   "<s> <p> <o> <g> .\n",
			wantErr: true,
		},
		{
			name:    "literal subject",
			input:   `"s" <p> <o> .` + "\n",
			wantErr: true,
		},
		{
			name:    "undefined prefix",
			input:   "ex:s <p> <o> .\n",
			wantErr: true,
		},
		{
			name:    "unclosed literal",
			input:   `<s> <p> "open .` + "\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadAll(strings.NewReader(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.expected) {
				t.Fatalf("expected %d triples, got %d: %v", len(tt.expected), len(got), got)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("triple %d: expected %v, got %v", i, tt.expected[i], got[i])
				}
			}
		})
	}
}

func TestReaderBlocks(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 10; i++ {
		sb.WriteString("<s> <p> <o> .\n")
	}
	r := NewReader(strings.NewReader(sb.String()), WithBlockSize(4), WithRun(3))

	var sizes []int
	for {
		b, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if b.Index != len(sizes) {
			t.Errorf("expected block index %d, got %d", len(sizes), b.Index)
		}
		if b.Run != 3 {
			t.Errorf("expected run 3, got %d", b.Run)
		}
		sizes = append(sizes, len(b.Triples))
	}
	if len(sizes) != 3 || sizes[0] != 4 || sizes[1] != 4 || sizes[2] != 2 {
		t.Errorf("unexpected block sizes %v", sizes)
	}

	// Exhausted readers keep returning EOF.
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestSyntaxErrorLine(t *testing.T) {
	r := NewReader(strings.NewReader("<s> <p> <o> .\n\n<s> <p> .\n"))
	_, err := r.Next()
	var se *SyntaxError
	if !errors.As(err, &se) {
		t.Fatalf("expected SyntaxError, got %v", err)
	}
	if se.Line != 3 {
		t.Errorf("expected line 3, got %d", se.Line)
	}
}

func TestParsePattern(t *testing.T) {
	tests := []struct {
		in      string
		want    triple.Raw
		wantErr bool
	}{
		{in: `?s <http://xmlns.com/foaf/0.1/knows> ?o`, want: triple.Raw{"?s", "<http://xmlns.com/foaf/0.1/knows>", "?o"}},
		{in: `<alice> ?p "Alice"@EN .`, want: triple.Raw{"<alice>", "?p", `"Alice"@en`}},
		{in: `?s ?p ?o.`, want: triple.Raw{"?s", "?p", "?o"}},
		{in: `?s <p> 7`, want: triple.Raw{"?s", "<p>", `"7"^^` + xsdInteger}},
		{in: `? <p> <o>`, wantErr: true},
		{in: `?s <p>`, wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParsePattern(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParsePattern(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParsePattern(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParsePattern(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	// Variables are only accepted in patterns.
	if _, err := ReadAll(strings.NewReader("?s <p> <o> .\n")); err == nil {
		t.Errorf("expected error for variable in data")
	}
}
