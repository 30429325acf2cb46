// Package ntriples reads N-Triples documents into literal blocks for the
// construction pipeline. Terms are emitted in a canonical N-Triples form so
// that equal RDF terms always produce equal literal strings.
package ntriples

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aleksaelezovic/tristore/internal/build"
	"github.com/aleksaelezovic/tristore/internal/triple"
)

const (
	xsdInteger = "<http://www.w3.org/2001/XMLSchema#integer>"
	xsdDouble  = "<http://www.w3.org/2001/XMLSchema#double>"

	// DefaultBlockSize is the number of triples per block
	DefaultBlockSize = 4096

	maxLine = 1 << 20
)

// SyntaxError reports a malformed statement
type SyntaxError struct {
	Line int
	Err  error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("ntriples: line %d: %v", e.Line, e.Err)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// Reader splits an N-Triples stream into blocks. PREFIX and @prefix
// directives are accepted as an extension and expanded in place.
type Reader struct {
	sc        *bufio.Scanner
	run       int
	blockSize int
	line      int
	next      int
	prefixes  map[string]string
}

// Option configures a Reader
type Option func(*Reader)

// WithBlockSize sets the number of triples per block
func WithBlockSize(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.blockSize = n
		}
	}
}

// WithRun tags every block with run
func WithRun(run int) Option {
	return func(r *Reader) { r.run = run }
}

func NewReader(in io.Reader, opts ...Option) *Reader {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64<<10), maxLine)
	r := &Reader{
		sc:        sc,
		blockSize: DefaultBlockSize,
		prefixes:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Next returns the next block. It returns io.EOF once the input is
// exhausted; the final block may be shorter than the block size.
func (r *Reader) Next() (build.Block, error) {
	b := build.Block{Index: r.next, Run: r.run}
	for len(b.Triples) < r.blockSize && r.sc.Scan() {
		r.line++
		raw, ok, err := r.parseLine(r.sc.Text())
		if err != nil {
			return build.Block{}, &SyntaxError{Line: r.line, Err: err}
		}
		if ok {
			b.Triples = append(b.Triples, raw)
		}
	}
	if err := r.sc.Err(); err != nil {
		return build.Block{}, fmt.Errorf("ntriples: read: %w", err)
	}
	if len(b.Triples) == 0 {
		return build.Block{}, io.EOF
	}
	r.next++
	return b, nil
}

// ReadAll parses the whole input into a single triple slice
func ReadAll(in io.Reader) ([]triple.Raw, error) {
	r := NewReader(in)
	var out []triple.Raw
	for {
		b, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, b.Triples...)
	}
}

// ParsePattern parses one triple pattern in N-Triples syntax where any
// term may be a ?name variable. The terminating '.' is optional. Bound
// terms come back canonicalized, variables verbatim with their '?'.
func ParsePattern(s string) (triple.Raw, error) {
	p := &lineParser{input: s, length: len(s), prefixes: map[string]string{}, vars: true}
	if !strings.HasSuffix(strings.TrimSpace(s), ".") {
		p.input += " ."
		p.length = len(p.input)
	}
	return p.statement()
}

func (r *Reader) parseLine(line string) (triple.Raw, bool, error) {
	p := &lineParser{input: line, length: len(line), prefixes: r.prefixes}
	p.skipWhitespaceAndComments()
	if p.pos >= p.length {
		return triple.Raw{}, false, nil
	}
	if p.matchKeyword("@prefix") || p.matchKeyword("PREFIX") {
		return triple.Raw{}, false, p.parsePrefix()
	}
	raw, err := p.statement()
	return raw, err == nil, err
}

// statement parses three terms and the terminating '.'
func (p *lineParser) statement() (triple.Raw, error) {
	var raw triple.Raw
	for i, name := range []string{"subject", "predicate", "object"} {
		p.skipWhitespaceAndComments()
		if p.pos >= p.length {
			return raw, fmt.Errorf("missing %s", name)
		}
		term, err := p.parseTerm(triple.Position(i))
		if err != nil {
			return raw, fmt.Errorf("%s: %w", name, err)
		}
		raw[i] = term
	}

	p.skipWhitespaceAndComments()
	if p.pos >= p.length || p.input[p.pos] != '.' {
		return raw, errors.New("expected '.' at end of triple")
	}
	p.pos++
	p.skipWhitespaceAndComments()
	if p.pos < p.length {
		return raw, fmt.Errorf("trailing input at column %d", p.pos+1)
	}
	return raw, nil
}

// lineParser scans one statement
type lineParser struct {
	input    string
	pos      int
	length   int
	prefixes map[string]string
	// vars admits ?name terms
	vars bool
}

func (p *lineParser) skipWhitespaceAndComments() {
	for p.pos < p.length {
		switch p.input[p.pos] {
		case ' ', '\t', '\r', '\n':
			p.pos++
		case '#':
			p.pos = p.length
		default:
			return
		}
	}
}

func (p *lineParser) matchKeyword(keyword string) bool {
	end := p.pos + len(keyword)
	if end > p.length || !strings.EqualFold(p.input[p.pos:end], keyword) {
		return false
	}
	return end == p.length || p.input[end] == ' ' || p.input[end] == '\t'
}

func (p *lineParser) parsePrefix() error {
	for p.pos < p.length && p.input[p.pos] != ' ' && p.input[p.pos] != '\t' {
		p.pos++
	}
	p.skipWhitespaceAndComments()

	start := p.pos
	for p.pos < p.length && p.input[p.pos] != ':' {
		p.pos++
	}
	if p.pos >= p.length {
		return errors.New("expected ':' after prefix name")
	}
	name := strings.TrimSpace(p.input[start:p.pos])
	p.pos++

	p.skipWhitespaceAndComments()
	iri, err := p.parseIRI()
	if err != nil {
		return fmt.Errorf("prefix IRI: %w", err)
	}
	p.prefixes[name] = iri

	p.skipWhitespaceAndComments()
	if p.pos < p.length && p.input[p.pos] == '.' {
		p.pos++
	}
	return nil
}

// parseTerm returns the canonical form of the term at the cursor
func (p *lineParser) parseTerm(pos triple.Position) (string, error) {
	ch := p.input[p.pos]
	switch {
	case ch == '<':
		iri, err := p.parseIRI()
		if err != nil {
			return "", err
		}
		return "<" + iri + ">", nil
	case ch == '_':
		if pos == triple.Predicate {
			return "", errors.New("blank node predicate")
		}
		return p.parseBlankNode()
	case ch == '"':
		if pos != triple.Object {
			return "", errors.New("literal outside object position")
		}
		return p.parseLiteral()
	case ch == '-' || ch == '+' || (ch >= '0' && ch <= '9'):
		if pos != triple.Object {
			return "", errors.New("number outside object position")
		}
		return p.parseNumber()
	case ch == '?' && p.vars:
		start := p.pos
		p.pos++
		for p.pos < p.length && !isDelimiter(p.input[p.pos]) && p.input[p.pos] != '.' {
			p.pos++
		}
		if p.pos == start+1 {
			return "", errors.New("empty variable name")
		}
		return p.input[start:p.pos], nil
	case (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z'):
		return p.parsePrefixedName()
	}
	return "", fmt.Errorf("unexpected character %q at column %d", ch, p.pos+1)
}

func (p *lineParser) parseIRI() (string, error) {
	if p.pos >= p.length || p.input[p.pos] != '<' {
		return "", errors.New("expected '<' at start of IRI")
	}
	p.pos++
	start := p.pos
	for p.pos < p.length && p.input[p.pos] != '>' {
		switch p.input[p.pos] {
		case ' ', '\t', '<', '"':
			return "", fmt.Errorf("invalid character %q in IRI", p.input[p.pos])
		}
		p.pos++
	}
	if p.pos >= p.length {
		return "", errors.New("unclosed IRI")
	}
	iri := p.input[start:p.pos]
	p.pos++
	return iri, nil
}

func (p *lineParser) parseBlankNode() (string, error) {
	if p.pos+1 >= p.length || p.input[p.pos+1] != ':' {
		return "", errors.New("expected ':' after '_' in blank node")
	}
	p.pos += 2
	start := p.pos
	for p.pos < p.length && !isDelimiter(p.input[p.pos]) {
		p.pos++
	}
	p.backOffDots(start)
	if p.pos == start {
		return "", errors.New("empty blank node label")
	}
	return "_:" + p.input[start:p.pos], nil
}

func (p *lineParser) parseLiteral() (string, error) {
	p.pos++
	var value strings.Builder
	for {
		if p.pos >= p.length {
			return "", errors.New("unclosed string literal")
		}
		ch := p.input[p.pos]
		if ch == '"' {
			p.pos++
			break
		}
		if ch != '\\' {
			value.WriteByte(ch)
			p.pos++
			continue
		}
		p.pos++
		if p.pos >= p.length {
			return "", errors.New("unexpected end of input in escape sequence")
		}
		switch esc := p.input[p.pos]; esc {
		case 'n':
			value.WriteByte('\n')
		case 't':
			value.WriteByte('\t')
		case 'r':
			value.WriteByte('\r')
		case 'b':
			value.WriteByte('\b')
		case 'f':
			value.WriteByte('\f')
		case '"', '\\', '\'':
			value.WriteByte(esc)
		case 'u', 'U':
			n := 4
			if esc == 'U' {
				n = 8
			}
			r, err := p.parseCodepoint(n)
			if err != nil {
				return "", err
			}
			value.WriteRune(r)
			continue
		default:
			return "", fmt.Errorf("invalid escape \\%c", esc)
		}
		p.pos++
	}

	lexical := quote(value.String())
	if p.pos < p.length && p.input[p.pos] == '@' {
		p.pos++
		start := p.pos
		for p.pos < p.length && !isDelimiter(p.input[p.pos]) && p.input[p.pos] != '.' {
			p.pos++
		}
		if p.pos == start {
			return "", errors.New("empty language tag")
		}
		return lexical + "@" + strings.ToLower(p.input[start:p.pos]), nil
	}
	if p.pos+1 < p.length && p.input[p.pos] == '^' && p.input[p.pos+1] == '^' {
		p.pos += 2
		dt, err := p.parseIRI()
		if err != nil {
			return "", fmt.Errorf("datatype: %w", err)
		}
		return lexical + "^^<" + dt + ">", nil
	}
	return lexical, nil
}

// parseCodepoint reads n hex digits after \u or \U
func (p *lineParser) parseCodepoint(n int) (rune, error) {
	p.pos++
	if p.pos+n > p.length {
		return 0, errors.New("short unicode escape")
	}
	var r rune
	for _, c := range p.input[p.pos : p.pos+n] {
		var d rune
		switch {
		case c >= '0' && c <= '9':
			d = c - '0'
		case c >= 'a' && c <= 'f':
			d = c - 'a' + 10
		case c >= 'A' && c <= 'F':
			d = c - 'A' + 10
		default:
			return 0, fmt.Errorf("invalid hex digit %q", c)
		}
		r = r<<4 | d
	}
	p.pos += n
	return r, nil
}

func (p *lineParser) parseNumber() (string, error) {
	start := p.pos
	if p.input[p.pos] == '-' || p.input[p.pos] == '+' {
		p.pos++
	}
	digits := p.skipDigits()
	decimal := false
	// A '.' followed by a non-digit ends the statement.
	if p.pos+1 < p.length && p.input[p.pos] == '.' && isDigit(p.input[p.pos+1]) {
		decimal = true
		p.pos++
		digits += p.skipDigits()
	}
	if p.pos < p.length && (p.input[p.pos] == 'e' || p.input[p.pos] == 'E') {
		decimal = true
		p.pos++
		if p.pos < p.length && (p.input[p.pos] == '-' || p.input[p.pos] == '+') {
			p.pos++
		}
		if p.skipDigits() == 0 {
			return "", errors.New("missing exponent digits")
		}
	}
	if digits == 0 {
		return "", fmt.Errorf("invalid number at column %d", start+1)
	}
	lexical := quote(p.input[start:p.pos])
	if decimal {
		return lexical + "^^" + xsdDouble, nil
	}
	return lexical + "^^" + xsdInteger, nil
}

func (p *lineParser) skipDigits() int {
	n := 0
	for p.pos < p.length && isDigit(p.input[p.pos]) {
		p.pos++
		n++
	}
	return n
}

func (p *lineParser) parsePrefixedName() (string, error) {
	start := p.pos
	for p.pos < p.length && p.input[p.pos] != ':' {
		if isDelimiter(p.input[p.pos]) {
			return "", errors.New("invalid character in prefixed name")
		}
		p.pos++
	}
	if p.pos >= p.length {
		return "", errors.New("expected ':' in prefixed name")
	}
	prefix := p.input[start:p.pos]
	p.pos++

	localStart := p.pos
	for p.pos < p.length && !isDelimiter(p.input[p.pos]) && p.input[p.pos] != '>' {
		p.pos++
	}
	p.backOffDots(localStart)
	base, ok := p.prefixes[prefix]
	if !ok {
		return "", fmt.Errorf("undefined prefix %q", prefix)
	}
	return "<" + base + p.input[localStart:p.pos] + ">", nil
}

// backOffDots leaves trailing dots to the statement terminator
func (p *lineParser) backOffDots(start int) {
	for p.pos > start && p.input[p.pos-1] == '.' {
		p.pos--
	}
}

func isDelimiter(ch byte) bool {
	switch ch {
	case ' ', '\t', '\r', '\n', '<', '"':
		return true
	}
	return false
}

func isDigit(ch byte) bool { return ch >= '0' && ch <= '9' }

// quote writes s as an N-Triples string with the minimal escape set
func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}
