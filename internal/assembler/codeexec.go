package assembler

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"geminimock/internal/gemini"
)

const (
	msgImported = "Modules imported successfully."
	msgDefined  = "Function/class defined successfully."
	msgAssigned = "Variable assignment completed."
	msgLoop     = "Loop executed successfully."
	msgExecuted = "Code executed successfully."
)

var (
	printCallRe   = regexp.MustCompile(`\bprint\(`)
	fencedBlockRe = regexp.MustCompile("(?s)```(?:python|py)[ \t]*\n(.*?)```")
	returnDefRe   = regexp.MustCompile(`(?m)^def (\w+)\(([^)]*)\):\s*\n\s+return (.+?)\s*$`)
	callRe        = regexp.MustCompile(`^(\w+)\((.*)\)$`)
)

// CodeExecutor pretends to run Python. Nothing is ever executed: output is
// derived from a handful of pattern checks.
type CodeExecutor struct{}

func NewCodeExecutor() *CodeExecutor {
	return &CodeExecutor{}
}

func (c *CodeExecutor) Execute(code string) gemini.CodeExecutionResult {
	return gemini.CodeExecutionResult{Outcome: gemini.OutcomeOK, Output: simulateOutput(code)}
}

func simulateOutput(code string) string {
	if args := printArgs(code); len(args) > 0 {
		funcs := returnFuncs(code)
		lines := make([]string, len(args))
		for i, a := range args {
			lines[i] = renderPrint(a, funcs)
		}
		return strings.Join(lines, "\n")
	}
	switch {
	case strings.Contains(code, "import"):
		return msgImported
	case strings.Contains(code, "def ") || strings.Contains(code, "class "):
		return msgDefined
	case strings.Contains(code, "=") && !strings.Contains(code, "=="):
		return msgAssigned
	case strings.Contains(code, "for ") || strings.Contains(code, "while "):
		return msgLoop
	default:
		return msgExecuted
	}
}

// printArgs returns the argument text of every print call, in order.
func printArgs(code string) []string {
	var out []string
	for _, loc := range printCallRe.FindAllStringIndex(code, -1) {
		depth := 1
		start := loc[1]
		for i := start; i < len(code); i++ {
			switch code[i] {
			case '(':
				depth++
			case ')':
				depth--
			}
			if depth == 0 {
				out = append(out, code[start:i])
				break
			}
		}
	}
	return out
}

// returnFunc is a one-line "def f(a, b): return expr" definition.
type returnFunc struct {
	params []string
	body   string
}

func returnFuncs(code string) map[string]returnFunc {
	out := map[string]returnFunc{}
	for _, m := range returnDefRe.FindAllStringSubmatch(code, -1) {
		var params []string
		for _, p := range strings.Split(m[2], ",") {
			if p = strings.TrimSpace(p); p != "" {
				params = append(params, p)
			}
		}
		out[m[1]] = returnFunc{params: params, body: m[3]}
	}
	return out
}

// call substitutes evaluated arguments into a known function body and
// evaluates the result as arithmetic.
func (f returnFunc) call(args string) (number, bool) {
	vals := splitTopLevel(args)
	if len(vals) != len(f.params) {
		return number{}, false
	}
	body := f.body
	for i, p := range f.params {
		v, ok := evalArithmetic(strings.TrimSpace(vals[i]))
		if !ok {
			return number{}, false
		}
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(p) + `\b`)
		body = re.ReplaceAllLiteralString(body, "("+v.String()+")")
	}
	return evalArithmetic(body)
}

// renderPrint evaluates each comma-separated argument when it is a quoted
// literal, arithmetic or a call to a simple function defined in the same
// snippet, and echoes it verbatim otherwise.
func renderPrint(args string, funcs map[string]returnFunc) string {
	parts := splitTopLevel(args)
	rendered := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if s, ok := unquote(p); ok {
			rendered = append(rendered, s)
			continue
		}
		if v, ok := evalArithmetic(p); ok {
			rendered = append(rendered, v.String())
			continue
		}
		if m := callRe.FindStringSubmatch(p); m != nil {
			if f, ok := funcs[m[1]]; ok {
				if v, ok := f.call(m[2]); ok {
					rendered = append(rendered, v.String())
					continue
				}
			}
		}
		rendered = append(rendered, p)
	}
	return strings.Join(rendered, " ")
}

func splitTopLevel(s string) []string {
	var out []string
	depth, start := 0, 0
	var quote byte
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case quote != 0:
			if ch == quote && (i == 0 || s[i-1] != '\\') {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == '(' || ch == '[' || ch == '{':
			depth++
		case ch == ')' || ch == ']' || ch == '}':
			depth--
		case ch == ',' && depth == 0:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

func unquote(s string) (string, bool) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "f"), "r")
	if len(s) < 2 {
		return "", false
	}
	q := s[0]
	if (q != '"' && q != '\'') || s[len(s)-1] != q {
		return "", false
	}
	body := s[1 : len(s)-1]
	if strings.IndexByte(body, q) >= 0 && !strings.Contains(body, `\`+string(q)) {
		return "", false
	}
	return strings.ReplaceAll(strings.ReplaceAll(body, `\`+string(q), string(q)), `\n`, "\n"), true
}

// number follows Python's int/float split: "/" always yields a float.
type number struct {
	f     float64
	isInt bool
}

func (n number) String() string {
	if n.isInt {
		if math.Abs(n.f) < math.MaxInt64 {
			return strconv.FormatInt(int64(n.f), 10)
		}
		return strconv.FormatFloat(n.f, 'f', 0, 64)
	}
	if math.IsInf(n.f, 0) || math.IsNaN(n.f) {
		return fmt.Sprint(n.f)
	}
	s := strconv.FormatFloat(n.f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

func evalArithmetic(expr string) (number, bool) {
	p := &exprParser{src: expr}
	v, ok := p.sum()
	if !ok {
		return number{}, false
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return number{}, false
	}
	return v, true
}

// exprParser is a recursive-descent parser for + - * / // % ** and
// parentheses over numeric literals.
type exprParser struct {
	src string
	pos int
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *exprParser) accept(tok string) bool {
	p.skipSpace()
	if strings.HasPrefix(p.src[p.pos:], tok) {
		p.pos += len(tok)
		return true
	}
	return false
}

func (p *exprParser) sum() (number, bool) {
	left, ok := p.product()
	if !ok {
		return number{}, false
	}
	for {
		switch {
		case p.accept("+"):
			right, ok := p.product()
			if !ok {
				return number{}, false
			}
			left = number{left.f + right.f, left.isInt && right.isInt}
		case p.accept("-"):
			right, ok := p.product()
			if !ok {
				return number{}, false
			}
			left = number{left.f - right.f, left.isInt && right.isInt}
		default:
			return left, true
		}
	}
}

func (p *exprParser) product() (number, bool) {
	left, ok := p.unary()
	if !ok {
		return number{}, false
	}
	for {
		var op string
		switch {
		case p.accept("//"):
			op = "//"
		case p.accept("*"):
			op = "*"
		case p.accept("/"):
			op = "/"
		case p.accept("%"):
			op = "%"
		default:
			return left, true
		}
		right, ok := p.unary()
		if !ok {
			return number{}, false
		}
		both := left.isInt && right.isInt
		switch op {
		case "*":
			left = number{left.f * right.f, both}
		case "/":
			if right.f == 0 {
				return number{}, false
			}
			left = number{left.f / right.f, false}
		case "//":
			if right.f == 0 {
				return number{}, false
			}
			left = number{math.Floor(left.f / right.f), both}
		case "%":
			if right.f == 0 {
				return number{}, false
			}
			m := math.Mod(left.f, right.f)
			if m != 0 && (m < 0) != (right.f < 0) {
				m += right.f
			}
			left = number{m, both}
		}
	}
}

func (p *exprParser) unary() (number, bool) {
	if p.accept("-") {
		v, ok := p.unary()
		return number{-v.f, v.isInt}, ok
	}
	if p.accept("+") {
		return p.unary()
	}
	return p.power()
}

func (p *exprParser) power() (number, bool) {
	base, ok := p.atom()
	if !ok {
		return number{}, false
	}
	if p.accept("**") {
		exp, ok := p.unary()
		if !ok {
			return number{}, false
		}
		return number{math.Pow(base.f, exp.f), base.isInt && exp.isInt && exp.f >= 0}, true
	}
	return base, true
}

func (p *exprParser) atom() (number, bool) {
	if p.accept("(") {
		v, ok := p.sum()
		if !ok || !p.accept(")") {
			return number{}, false
		}
		return v, true
	}
	p.skipSpace()
	start := p.pos
	isInt := true
	for p.pos < len(p.src) {
		ch := p.src[p.pos]
		if ch == '.' {
			isInt = false
		} else if ch < '0' || ch > '9' {
			break
		}
		p.pos++
	}
	if start == p.pos {
		return number{}, false
	}
	f, err := strconv.ParseFloat(p.src[start:p.pos], 64)
	if err != nil {
		return number{}, false
	}
	return number{f, isInt}, true
}

// Annotate inserts a simulated result after every executable-code part
// that is not already followed by one.
func (c *CodeExecutor) Annotate(parts []gemini.Part) []gemini.Part {
	out := make([]gemini.Part, 0, len(parts)+1)
	for i, p := range parts {
		out = append(out, p)
		if p.ExecutableCode == nil {
			continue
		}
		if i+1 < len(parts) && parts[i+1].CodeExecutionResult != nil {
			continue
		}
		res := c.Execute(p.ExecutableCode.Code)
		out = append(out, gemini.Part{CodeExecutionResult: &res})
	}
	return out
}

// LiftFencedPython splits fenced python blocks out of text parts into
// executable-code parts. Parts are returned unchanged when any
// executable-code part already exists.
func LiftFencedPython(parts []gemini.Part) []gemini.Part {
	for _, p := range parts {
		if p.ExecutableCode != nil {
			return parts
		}
	}
	out := make([]gemini.Part, 0, len(parts))
	for _, p := range parts {
		if !p.IsText() || p.Thought || !fencedBlockRe.MatchString(p.Text) {
			out = append(out, p)
			continue
		}
		rest := p.Text
		for {
			loc := fencedBlockRe.FindStringSubmatchIndex(rest)
			if loc == nil {
				break
			}
			if before := strings.TrimSpace(rest[:loc[0]]); before != "" {
				out = append(out, gemini.Part{Text: before})
			}
			code := strings.TrimRight(rest[loc[2]:loc[3]], "\n")
			out = append(out, gemini.Part{ExecutableCode: &gemini.ExecutableCode{Language: gemini.LanguagePython, Code: code}})
			rest = rest[loc[1]:]
		}
		if after := strings.TrimSpace(rest); after != "" {
			out = append(out, gemini.Part{Text: after})
		}
	}
	return out
}
