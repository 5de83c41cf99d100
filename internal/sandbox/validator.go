package sandbox

import (
	_ "embed"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"rlmrepl/internal/config"
	"rlmrepl/internal/mangle"
)

//go:embed script_policy.mg
var scriptPolicy string

// parseHeader wraps a script as a function body for parsing. The script
// starts on line parseHeaderLines+1.
const (
	parseHeader      = "package main\nfunc _() {\n"
	parseHeaderLines = 2
	wrapperFunc      = "_"
)

// Report is the outcome of validating one script.
type Report struct {
	Violations []Violation
	Facts      int // script facts asserted into the policy
}

// OK reports whether the script may run.
func (r *Report) OK() bool { return len(r.Violations) == 0 }

// Err returns the report as a *SecurityError, or nil when the script passed.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	return &SecurityError{Violations: r.Violations}
}

// Validator statically checks scripts against the embedded Mangle policy.
type Validator struct {
	maxCode  int
	denyList []mangle.Fact
	logger   *zap.Logger

	mu     sync.Mutex
	engine *mangle.Engine
}

// NewValidator compiles the script policy with the deny lists from cfg.
func NewValidator(cfg config.REPLConfig, logger *zap.Logger) (*Validator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	engine := mangle.NewEngine(mangle.Config{FactLimit: cfg.PolicyFactLimit})
	if err := engine.LoadSchemaString(scriptPolicy); err != nil {
		return nil, fmt.Errorf("load script policy: %w", err)
	}

	var deny []mangle.Fact
	add := func(pred string, values []string, lower bool) {
		for _, v := range values {
			if lower {
				v = strings.ToLower(v)
			}
			deny = append(deny, mangle.Fact{Predicate: pred, Args: []interface{}{v}})
		}
	}
	add("denied_ident", cfg.DeniedIdentifiers, false)
	add("denied_call", cfg.DeniedCalls, true)
	add("denied_token", cfg.DeniedTokens, true)

	return &Validator{
		maxCode:  cfg.MaxCodeBytes,
		denyList: deny,
		logger:   logger,
		engine:   engine,
	}, nil
}

// Check validates code and returns a *SecurityError when it is refused.
func (v *Validator) Check(code string) error {
	return v.Validate(code).Err()
}

// Validate runs every stage and collects violations. It never executes code.
func (v *Validator) Validate(code string) *Report {
	report := &Report{}
	if v.maxCode > 0 && len(code) > v.maxCode {
		report.Violations = append(report.Violations, Violation{
			Kind:    ViolationTooLarge,
			Subject: fmt.Sprintf("%d bytes exceeds %d", len(code), v.maxCode),
		})
		return report
	}

	facts := scanTokens(code)

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "script.go", parseHeader+code+"\n}\n", parser.SkipObjectResolution)
	if err != nil {
		report.Violations = append(report.Violations, Violation{Kind: ViolationParseError, Subject: parseMessage(err)})
	} else {
		facts = append(facts, walkScript(file)...)
	}
	report.Facts = len(facts)

	violations, err := v.evaluate(facts)
	if err != nil {
		v.logger.Warn("Script policy evaluation failed", zap.Error(err))
		report.Violations = append(report.Violations, Violation{Kind: ViolationPolicyLimit, Subject: err.Error()})
		return report
	}
	report.Violations = append(report.Violations, violations...)

	if !report.OK() {
		v.logger.Info("Script rejected",
			zap.Int("violations", len(report.Violations)),
			zap.String("first", report.Violations[0].String()))
	}
	return report
}

func (v *Validator) evaluate(facts []mangle.Fact) ([]Violation, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	defer v.engine.Clear()

	all := make([]mangle.Fact, 0, len(v.denyList)+len(facts))
	all = append(all, v.denyList...)
	all = append(all, facts...)
	if err := v.engine.AddFacts(all); err != nil {
		return nil, err
	}
	if err := v.engine.Evaluate(); err != nil {
		return nil, fmt.Errorf("evaluate policy: %w", err)
	}

	derived, err := v.engine.GetFacts("violation")
	if err != nil {
		return nil, err
	}
	out := make([]Violation, 0, len(derived))
	for _, f := range derived {
		out = append(out, Violation{
			Kind:    strings.TrimPrefix(fmt.Sprint(f.Args[0]), "/"),
			Subject: fmt.Sprint(f.Args[1]),
		})
	}
	return out, nil
}

// scanTokens emits script_ident for every identifier and script_token for
// every keyword in the raw script text.
func scanTokens(code string) []mangle.Fact {
	src := []byte(code)
	fset := token.NewFileSet()
	file := fset.AddFile("script.go", fset.Base(), len(src))

	var s scanner.Scanner
	s.Init(file, src, nil, 0)

	seen := make(map[string]struct{})
	var facts []mangle.Fact
	emit := func(pred, arg string) {
		key := pred + "\x00" + arg
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		facts = append(facts, mangle.Fact{Predicate: pred, Args: []interface{}{arg}})
	}

	for {
		_, tok, lit := s.Scan()
		switch {
		case tok == token.EOF:
			return facts
		case tok == token.IDENT:
			emit("script_ident", lit)
		case tok.IsKeyword():
			emit("script_token", tok.String())
		}
	}
}

// scriptVisitor collects call and selector facts from the parsed script.
type scriptVisitor struct {
	seen  map[string]struct{}
	facts []mangle.Fact
}

func (sv *scriptVisitor) emit(pred, arg string) {
	key := pred + "\x00" + arg
	if _, ok := sv.seen[key]; ok {
		return
	}
	sv.seen[key] = struct{}{}
	sv.facts = append(sv.facts, mangle.Fact{Predicate: pred, Args: []interface{}{arg}})
}

func (sv *scriptVisitor) Visit(node ast.Node) ast.Visitor {
	switch n := node.(type) {
	case *ast.CallExpr:
		if name := calleeName(n.Fun); name != "" {
			sv.emit("script_call", strings.ToLower(name))
		}
	case *ast.SelectorExpr:
		if pkg, ok := n.X.(*ast.Ident); ok {
			sv.emit("script_selector", pkg.Name)
		}
	}
	return sv
}

func walkScript(file *ast.File) []mangle.Fact {
	sv := &scriptVisitor{seen: make(map[string]struct{})}
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Name.Name != wrapperFunc || fn.Recv != nil {
			sv.emit("script_toplevel", declName(decl))
			continue
		}
		ast.Walk(sv, fn)
		sv.closureCalls(fn.Body)
	}
	return sv.facts
}

// closureCalls emits script_closure_call for every call inside a function
// literal that could reach script-defined code: a name or field declared by
// the script, or a callee computed at run time. Without such calls a script
// function cannot recurse, so stack depth stays bounded.
func (sv *scriptVisitor) closureCalls(body *ast.BlockStmt) {
	if body == nil {
		return
	}
	names, fields := declaredNames(body)
	ast.Inspect(body, func(n ast.Node) bool {
		lit, ok := n.(*ast.FuncLit)
		if !ok {
			return true
		}
		ast.Inspect(lit.Body, func(n ast.Node) bool {
			if call, ok := n.(*ast.CallExpr); ok {
				if callee, risky := scriptCallee(call.Fun, names, fields); risky {
					sv.emit("script_closure_call", callee)
				}
			}
			return true
		})
		return true
	})
}

// declaredNames collects every identifier the script binds and every struct
// field name it declares.
func declaredNames(body *ast.BlockStmt) (names, fields map[string]bool) {
	names = make(map[string]bool)
	fields = make(map[string]bool)
	addIdents := func(exprs []ast.Expr) {
		for _, e := range exprs {
			if id, ok := e.(*ast.Ident); ok {
				names[id.Name] = true
			}
		}
	}
	ast.Inspect(body, func(n ast.Node) bool {
		switch d := n.(type) {
		case *ast.AssignStmt:
			if d.Tok == token.DEFINE {
				addIdents(d.Lhs)
			}
		case *ast.RangeStmt:
			addIdents([]ast.Expr{d.Key, d.Value})
		case *ast.ValueSpec:
			for _, id := range d.Names {
				names[id.Name] = true
			}
		case *ast.FuncType:
			for _, list := range []*ast.FieldList{d.Params, d.Results} {
				if list == nil {
					continue
				}
				for _, f := range list.List {
					for _, id := range f.Names {
						names[id.Name] = true
					}
				}
			}
		case *ast.StructType:
			for _, f := range d.Fields.List {
				for _, id := range f.Names {
					fields[id.Name] = true
				}
			}
		}
		return true
	})
	return names, fields
}

func scriptCallee(fun ast.Expr, names, fields map[string]bool) (string, bool) {
	switch e := fun.(type) {
	case *ast.Ident:
		return e.Name, names[e.Name]
	case *ast.SelectorExpr:
		return e.Sel.Name, fields[e.Sel.Name]
	case *ast.ParenExpr:
		return scriptCallee(e.X, names, fields)
	case *ast.StarExpr:
		return scriptCallee(e.X, names, fields)
	case *ast.FuncLit, *ast.ArrayType, *ast.MapType, *ast.ChanType, *ast.FuncType, *ast.InterfaceType:
		return "", false
	default:
		return "dynamic", true
	}
}

func calleeName(expr ast.Expr) string {
	switch e := expr.(type) {
	case *ast.Ident:
		return e.Name
	case *ast.SelectorExpr:
		return e.Sel.Name
	case *ast.IndexExpr:
		return calleeName(e.X)
	case *ast.IndexListExpr:
		return calleeName(e.X)
	case *ast.ParenExpr:
		return calleeName(e.X)
	default:
		return ""
	}
}

func declName(decl ast.Decl) string {
	switch d := decl.(type) {
	case *ast.FuncDecl:
		return "func " + d.Name.Name
	case *ast.GenDecl:
		return d.Tok.String()
	default:
		return "decl"
	}
}

// parseMessage reports the first parse error against script line numbers.
func parseMessage(err error) string {
	var list scanner.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		sort.Sort(list)
		first := list[0]
		line := first.Pos.Line - parseHeaderLines
		if line < 1 {
			line = 1
		}
		return fmt.Sprintf("line %d:%d: %s", line, first.Pos.Column, first.Msg)
	}
	return err.Error()
}
