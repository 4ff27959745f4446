package trigger

import "strings"

// Parse parses expr into a Condition.
func Parse(expr string) (Condition, error) {
	p := &parser{src: expr}
	return p.parse()
}

type parser struct {
	src string
	pos int
}

func (p *parser) fail(reason string) error {
	return &SyntaxError{Expr: p.src, Pos: p.pos, Reason: reason}
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && isSpace(p.src[p.pos]) {
		p.pos++
	}
}

func (p *parser) parse() (Condition, error) {
	var c Condition

	p.skipSpace()
	path, err := p.path()
	if err != nil {
		return c, err
	}
	p.skipSpace()
	op, err := p.op()
	if err != nil {
		return c, err
	}
	p.skipSpace()
	lit, err := p.literal()
	if err != nil {
		return c, err
	}

	c.Path, c.Op, c.Literal = path, op, lit
	return c, nil
}

func (p *parser) path() (string, error) {
	start := p.pos
	segStart := p.pos
scan:
	for p.pos < len(p.src) {
		ch := p.src[p.pos]
		switch {
		case isWord(ch):
			p.pos++
		case ch == '.':
			if p.pos == segStart {
				return "", p.fail("empty path segment")
			}
			p.pos++
			segStart = p.pos
		default:
			break scan
		}
	}
	if p.pos == start {
		return "", p.fail("expected path")
	}
	if p.pos == segStart {
		return "", p.fail("empty path segment")
	}
	return p.src[start:p.pos], nil
}

func (p *parser) op() (Op, error) {
	if p.pos+2 > len(p.src) {
		return 0, p.fail("expected operator")
	}
	switch p.src[p.pos : p.pos+2] {
	case "==":
		p.pos += 2
		return Eq, nil
	case "!=":
		p.pos += 2
		return Ne, nil
	}
	return 0, p.fail("expected == or !=")
}

// literal consumes a quoted string running to the last matching quote
// before trailing whitespace.
func (p *parser) literal() (string, error) {
	if p.pos >= len(p.src) {
		return "", p.fail("expected quoted literal")
	}
	quote := p.src[p.pos]
	if quote != '\'' && quote != '"' {
		return "", p.fail("expected quoted literal")
	}
	rest := strings.TrimRightFunc(p.src[p.pos+1:], func(r rune) bool {
		return r < 0x80 && isSpace(byte(r))
	})
	if len(rest) == 0 || rest[len(rest)-1] != quote {
		return "", p.fail("unterminated literal")
	}
	lit := rest[:len(rest)-1]
	if strings.ContainsAny(lit, "\n") {
		return "", p.fail("newline in literal")
	}
	p.pos = len(p.src)
	return lit, nil
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\f' || ch == '\v'
}

func isWord(ch byte) bool {
	return ch == '_' ||
		('a' <= ch && ch <= 'z') ||
		('A' <= ch && ch <= 'Z') ||
		('0' <= ch && ch <= '9')
}
