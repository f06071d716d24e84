package filterql

import (
	"strconv"
	"strings"
	"time"

	"github.com/segfaults/venator/internal/model"
)

type parser struct {
	src  string
	toks []token
	pos  int
}

// Parse compiles filter text into an AST, per the Filter grammar in the
// filter surface spec. It never evaluates anything; see Compile for that.
func Parse(src string) (*Filter, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks}
	f, err := p.parseFilter()
	if err != nil {
		return nil, err
	}
	if p.cur().kind != tokEOF {
		return nil, errAt(p.cur().pos, "unexpected-token", "trailing input %q", p.cur().text)
	}
	return f, nil
}

func (p *parser) cur() token  { return p.toks[p.pos] }
func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

// parseFilter parses "Term ( WS Term )*"; since whitespace is already
// discarded by the lexer, this is simply "Term*" until EOF or ')'.
func (p *parser) parseFilter() (*Filter, error) {
	f := &Filter{}
	for {
		k := p.cur().kind
		if k == tokEOF || k == tokRParen {
			break
		}
		term, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		f.Terms = append(f.Terms, *term)
	}
	return f, nil
}

func (p *parser) parseTerm() (*Term, error) {
	start := p.cur().pos
	negate := false
	if p.cur().kind == tokBang {
		negate = true
		p.advance()
	}

	if p.cur().kind == tokLParen {
		p.advance()
		inner, err := p.parseFilter()
		if err != nil {
			return nil, err
		}
		if p.cur().kind != tokRParen {
			return nil, errAt(p.cur().pos, "unexpected-token", "expected ')'")
		}
		p.advance()
		return &Term{Negate: negate, Group: inner}, nil
	}

	pred, err := p.parsePredicate(start, negate)
	if err != nil {
		return nil, err
	}
	return &Term{Negate: negate, Predicate: pred}, nil
}

func (p *parser) parsePredicate(start int, negate bool) (*Predicate, error) {
	prop, err := p.parseProperty()
	if err != nil {
		return nil, err
	}

	opTok := p.cur()
	if opTok.kind != tokOp {
		return nil, errAt(opTok.pos, "unexpected-token", "expected an operator, got %q", opTok.text)
	}
	op, ok := opFromText(opTok.text)
	if !ok {
		return nil, errAt(opTok.pos, "unexpected-token", "unknown operator %q", opTok.text)
	}
	p.advance()

	pred := &Predicate{Property: prop, Op: op, Negate: negate}

	if err := p.parseValueInto(pred); err != nil {
		return nil, err
	}

	end := p.cur().pos
	pred.Text = strings.TrimRight(p.src[start:end], " \t\r\n")
	return pred, nil
}

func (p *parser) parseProperty() (Property, error) {
	tok := p.cur()
	switch tok.kind {
	case tokHash:
		p.advance()
		id := p.cur()
		if id.kind != tokIdent {
			return Property{}, errAt(id.pos, "unexpected-token", "expected an inherent property name after '#'")
		}
		p.advance()
		name := strings.ToLower(id.text)
		if !inherentNames[name] {
			return Property{}, errAt(id.pos, "unknown-property", "unknown inherent property %q", id.text)
		}
		return Property{Kind: PropertyInherent, Name: name}, nil
	case tokAt:
		p.advance()
		id := p.cur()
		if id.kind != tokIdent {
			return Property{}, errAt(id.pos, "unexpected-token", "expected an attribute name after '@'")
		}
		p.advance()
		path := []string{id.text}
		for p.cur().kind == tokDot {
			p.advance()
			next := p.cur()
			if next.kind != tokIdent {
				return Property{}, errAt(next.pos, "unexpected-token", "expected an identifier after '.'")
			}
			p.advance()
			path = append(path, next.text)
		}
		return Property{Kind: PropertyAttribute, Path: path}, nil
	default:
		return Property{}, errAt(tok.pos, "unexpected-token", "expected '#' or '@', got %q", tok.text)
	}
}

var durationUnits = []string{"ns", "us", "ms", "s", "m", "h"}

func (p *parser) parseValueInto(pred *Predicate) error {
	tok := p.cur()

	// A /…/ literal was lexed by lexSlashed into a tokString
	// whose raw source still starts with '/'. We detect it from the
	// original source rather than the decoded text, since escapes would
	// otherwise be ambiguous.
	if tok.kind == tokString && strings.HasPrefix(p.src[tok.pos:], "/") {
		p.advance()
		pred.IsRegex = true
		pred.RegexSrc = tok.text
		return nil
	}

	switch tok.kind {
	case tokString:
		p.advance()
		pred.RHS = model.StringValue(tok.text)
		return nil
	case tokIdent:
		p.advance()
		return parseBareValue(pred, tok)
	default:
		return errAt(tok.pos, "unexpected-token", "expected a value, got %q", tok.text)
	}
}

func parseBareValue(pred *Predicate, tok token) error {
	text := tok.text

	switch text {
	case "true":
		pred.RHS = model.BoolValue(true)
		return nil
	case "false":
		pred.RHS = model.BoolValue(false)
		return nil
	case "null":
		pred.RHS = model.Null()
		return nil
	}

	if lvl, ok := model.LevelFromString(strings.ToUpper(text)); ok {
		pred.RHS = model.Int64Value(int64(lvl))
		return nil
	}

	if dur, ok := parseDuration(text); ok {
		pred.RHS = model.Int64Value(dur.Nanoseconds())
		return nil
	}

	if iv, err := strconv.ParseInt(text, 10, 64); err == nil {
		pred.RHS = model.Int64Value(iv)
		return nil
	}
	if fv, err := strconv.ParseFloat(text, 64); err == nil {
		pred.RHS = model.DoubleValue(fv)
		return nil
	}

	// Fall back to a bare (unquoted) string token.
	pred.RHS = model.StringValue(text)
	return nil
}

// parseDuration recognizes "<number><unit>" with unit in {ns,us,ms,s,m,h}.
func parseDuration(text string) (time.Duration, bool) {
	for _, unit := range durationUnits {
		if strings.HasSuffix(text, unit) {
			numPart := strings.TrimSuffix(text, unit)
			if numPart == "" {
				continue
			}
			if _, err := strconv.ParseFloat(numPart, 64); err != nil {
				continue
			}
			d, err := time.ParseDuration(numPart + unit)
			if err != nil {
				continue
			}
			return d, true
		}
	}
	return 0, false
}
