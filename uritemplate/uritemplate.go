// Package uritemplate implements the subset of RFC 6570 used to route resource reads: the
// operators "", "+", "#", ".", "/", "?" and "&", the explode modifier and the prefix modifier.
//
// A Template is parsed once and compiled into an anchored regular expression, so it can both
// expand variables into a URI and match a URI back into variables.
//
// Query operators ("?" and "&") always expand list values comma separated within one parameter,
// even when the variable is exploded, so that every expanded URI can be matched again.
package uritemplate

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Values holds template variables. A value is a string, a []string, or any other scalar that is
// formatted with fmt.Sprint.
type Values map[string]any

// Template is a parsed URI template. It is safe for concurrent use.
type Template struct {
	raw    string
	parts  []part
	names  []string
	re     *regexp.Regexp
	groups []group
}

type part struct {
	literal string
	expr    *expression
}

type expression struct {
	op   operator
	vars []varspec
}

type varspec struct {
	name    string
	explode bool
	prefix  int
}

// group ties a regexp capture group to the variable it fills.
type group struct {
	v  varspec
	op operator
}

type operator struct {
	char          byte
	first         string
	sep           string
	named         bool
	ifEmpty       string
	allowReserved bool
}

var (
	// ErrUnclosedExpression is returned when a '{' has no matching '}'.
	ErrUnclosedExpression = errors.New("unclosed expression")
	// ErrUnexpectedClose is returned for a '}' outside an expression.
	ErrUnexpectedClose = errors.New("unexpected '}'")
	// ErrEmptyExpression is returned for "{}".
	ErrEmptyExpression = errors.New("empty expression")
	// ErrDuplicateVariable is returned when a variable name appears twice in one template.
	ErrDuplicateVariable = errors.New("duplicate variable")

	operators = map[byte]operator{
		'+': {char: '+', sep: ",", allowReserved: true},
		'#': {char: '#', first: "#", sep: ",", allowReserved: true},
		'.': {char: '.', first: ".", sep: "."},
		'/': {char: '/', first: "/", sep: "/"},
		'?': {char: '?', first: "?", sep: "&", named: true, ifEmpty: "="},
		'&': {char: '&', first: "&", sep: "&", named: true, ifEmpty: "="},
	}
	simpleOperator = operator{sep: ","}

	varnameRe = regexp.MustCompile(`^(?:[A-Za-z0-9_]|%[0-9A-Fa-f]{2})(?:\.?(?:[A-Za-z0-9_]|%[0-9A-Fa-f]{2}))*$`)
)

// New parses a template. Malformed templates are rejected here, never at match or expand time.
func New(tmpl string) (*Template, error) {
	t := &Template{raw: tmpl}
	if err := t.parse(); err != nil {
		return nil, fmt.Errorf("invalid uri template %q: %w", tmpl, err)
	}
	if err := t.compile(); err != nil {
		return nil, fmt.Errorf("invalid uri template %q: %w", tmpl, err)
	}
	return t, nil
}

// MustNew is like New but panics on error. It is meant for package level templates.
func MustNew(tmpl string) *Template {
	t, err := New(tmpl)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the template source.
func (t *Template) String() string {
	return t.raw
}

// Names returns the variable names in order of appearance.
func (t *Template) Names() []string {
	return append([]string(nil), t.names...)
}

func (t *Template) parse() error {
	seen := make(map[string]struct{})
	rest := t.raw
	for len(rest) > 0 {
		open := strings.IndexByte(rest, '{')
		closing := strings.IndexByte(rest, '}')
		if closing >= 0 && (open < 0 || closing < open) {
			return ErrUnexpectedClose
		}
		if open < 0 {
			t.parts = append(t.parts, part{literal: rest})
			break
		}
		if open > 0 {
			t.parts = append(t.parts, part{literal: rest[:open]})
		}
		if closing < 0 {
			return ErrUnclosedExpression
		}
		body := rest[open+1 : closing]
		if strings.IndexByte(body, '{') >= 0 {
			return ErrUnclosedExpression
		}
		expr, err := parseExpression(body)
		if err != nil {
			return err
		}
		for _, v := range expr.vars {
			if _, ok := seen[v.name]; ok {
				return fmt.Errorf("%w: %s", ErrDuplicateVariable, v.name)
			}
			seen[v.name] = struct{}{}
			t.names = append(t.names, v.name)
		}
		t.parts = append(t.parts, part{expr: expr})
		rest = rest[closing+1:]
	}
	return nil
}

func parseExpression(body string) (*expression, error) {
	if body == "" {
		return nil, ErrEmptyExpression
	}

	expr := &expression{op: simpleOperator}
	if op, ok := operators[body[0]]; ok {
		expr.op = op
		body = body[1:]
	} else if strings.ContainsRune("=,!@|;", rune(body[0])) {
		return nil, fmt.Errorf("unsupported operator %q", body[0])
	}
	if body == "" {
		return nil, ErrEmptyExpression
	}

	for _, spec := range strings.Split(body, ",") {
		v := varspec{name: spec}
		switch {
		case strings.HasSuffix(spec, "*"):
			v.name = strings.TrimSuffix(spec, "*")
			v.explode = true
		case strings.Contains(spec, ":"):
			idx := strings.IndexByte(spec, ':')
			n, err := strconv.Atoi(spec[idx+1:])
			if err != nil || n <= 0 || n > 9999 {
				return nil, fmt.Errorf("invalid prefix modifier in %q", spec)
			}
			v.name = spec[:idx]
			v.prefix = n
		}
		if !varnameRe.MatchString(v.name) {
			return nil, fmt.Errorf("invalid variable name %q", v.name)
		}
		expr.vars = append(expr.vars, v)
	}
	return expr, nil
}

func (t *Template) compile() error {
	var b strings.Builder
	b.WriteByte('^')
	for _, p := range t.parts {
		if p.expr == nil {
			b.WriteString(regexp.QuoteMeta(p.literal))
			continue
		}
		op := p.expr.op
		if op.named {
			for _, v := range p.expr.vars {
				fmt.Fprintf(&b, `(?:[?&]%s=([^&#]*))?`, regexp.QuoteMeta(v.name))
				t.groups = append(t.groups, group{v: v, op: op})
			}
			continue
		}
		b.WriteString(regexp.QuoteMeta(op.first))
		for i, v := range p.expr.vars {
			if i > 0 {
				b.WriteString(regexp.QuoteMeta(op.sep))
			}
			b.WriteString(captureClass(op, v, len(p.expr.vars) > 1))
			t.groups = append(t.groups, group{v: v, op: op})
		}
	}
	b.WriteByte('$')

	re, err := regexp.Compile(b.String())
	if err != nil {
		return err
	}
	t.re = re
	return nil
}

func captureClass(op operator, v varspec, multi bool) string {
	switch op.char {
	case '+', '#':
		if multi {
			return `([^,]+?)`
		}
		return `(.+?)`
	case '.':
		if v.explode {
			return `([^/?#]+)`
		}
		return `([^/?#.]+)`
	case '/':
		if v.explode {
			return `([^?#]+)`
		}
		return `([^/?#]+)`
	default:
		if multi && !v.explode {
			return `([^/?#,]+)`
		}
		return `([^/?#]+)`
	}
}

// Match extracts the variables of uri. It reports false when uri does not fit the template. Values
// are percent-decoded; exploded variables come back as []string.
//
// The "+" and "#" operators leave triplets of reserved characters encoded, so file://{+path}
// matched against file://a%2Fb yields a%2Fb and expands back to the same URI. Other operators
// decode every triplet and Expand encodes reserved characters again, so a URI holding them
// literally expands to its canonical form: x/{id} matched against x/a,b expands to x/a%2Cb.
func (t *Template) Match(uri string) (Values, bool) {
	if len(t.groups) == 0 {
		if uri == t.raw {
			return Values{}, true
		}
		return nil, false
	}

	m := t.re.FindStringSubmatchIndex(uri)
	if m == nil {
		return nil, false
	}

	values := make(Values, len(t.groups))
	for i, g := range t.groups {
		start, end := m[2*(i+1)], m[2*(i+1)+1]
		if start < 0 {
			continue
		}
		raw := uri[start:end]
		keepReserved := g.op.allowReserved
		if !g.v.explode {
			values[g.v.name] = decode(raw, keepReserved)
			continue
		}
		sep := g.op.sep
		if g.op.named {
			sep = ","
		}
		items := strings.Split(raw, sep)
		for j := range items {
			items[j] = decode(items[j], keepReserved)
		}
		values[g.v.name] = items
	}
	return values, true
}

// Expand substitutes vars into the template. Variables missing from vars are skipped entirely,
// together with the operator prefix of an expression whose variables are all missing.
func (t *Template) Expand(vars Values) string {
	var b strings.Builder
	for _, p := range t.parts {
		if p.expr == nil {
			b.WriteString(p.literal)
			continue
		}
		expandExpression(&b, p.expr, vars)
	}
	return b.String()
}

func expandExpression(b *strings.Builder, expr *expression, vars Values) {
	op := expr.op
	first := true
	for _, v := range expr.vars {
		value, ok := vars[v.name]
		if !ok || value == nil {
			continue
		}

		var s string
		switch val := value.(type) {
		case []string:
			if len(val) == 0 {
				continue
			}
			s = expandList(op, v, val)
		case string:
			s = expandString(op, v, val)
		default:
			s = expandString(op, v, fmt.Sprint(val))
		}

		if first {
			b.WriteString(op.first)
			first = false
		} else {
			b.WriteString(op.sep)
		}
		b.WriteString(s)
	}
}

func expandString(op operator, v varspec, value string) string {
	if v.prefix > 0 {
		runes := []rune(value)
		if len(runes) > v.prefix {
			value = string(runes[:v.prefix])
		}
	}
	if !op.named {
		return encode(value, op.allowReserved)
	}
	if value == "" {
		return v.name + op.ifEmpty
	}
	return v.name + "=" + encode(value, op.allowReserved)
}

func expandList(op operator, v varspec, values []string) string {
	encoded := make([]string, len(values))
	for i, s := range values {
		encoded[i] = encode(s, op.allowReserved)
	}
	if op.named {
		return v.name + "=" + strings.Join(encoded, ",")
	}
	if v.explode {
		return strings.Join(encoded, op.sep)
	}
	return strings.Join(encoded, ",")
}

const hexDigits = "0123456789ABCDEF"

func encode(s string, allowReserved bool) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case isUnreserved(c):
			b.WriteByte(c)
		case allowReserved && isReserved(c):
			b.WriteByte(c)
		case allowReserved && c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]):
			b.WriteString(s[i : i+3])
			i += 2
		default:
			b.WriteByte('%')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0F])
		}
	}
	return b.String()
}

// decode percent-decodes s. With keepReserved, triplets standing for reserved characters stay
// encoded.
func decode(s string, keepReserved bool) string {
	if !keepReserved {
		d, err := url.PathUnescape(s)
		if err != nil {
			return s
		}
		return d
	}

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '%' || i+2 >= len(s) || !isHex(s[i+1]) || !isHex(s[i+2]) {
			b.WriteByte(s[i])
			continue
		}
		c := unhex(s[i+1])<<4 | unhex(s[i+2])
		if isReserved(c) {
			b.WriteString(s[i : i+3])
		} else {
			b.WriteByte(c)
		}
		i += 2
	}
	return b.String()
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

func isUnreserved(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9' ||
		c == '-' || c == '.' || c == '_' || c == '~'
}

func isReserved(c byte) bool {
	return strings.IndexByte(":/?#[]@!$&'()*+,;=", c) >= 0
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}
