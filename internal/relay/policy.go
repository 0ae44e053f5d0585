package relay

import (
	"encoding/json"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/rzbill/tether/internal/errs"
)

// Policy decides which offline writes may be queued. It is a CEL expression
// over method, path, tenant, headers, json (the parsed body) and size. A nil
// Policy allows everything.
//
//	method != "DELETE" && !path.startsWith("/api/auth")
type Policy struct {
	expr string
	prog cel.Program
}

// CompilePolicy compiles expr. An empty expression yields a nil Policy.
func CompilePolicy(expr string) (*Policy, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("method", cel.StringType),
		cel.Variable("path", cel.StringType),
		cel.Variable("tenant", cel.StringType),
		cel.Variable("headers", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("json", cel.DynType),
		cel.Variable("size", cel.IntType),
	)
	if err != nil {
		return nil, errs.Wrap(err, "policy: build environment")
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, errs.Mark(errs.Wrap(iss.Err(), "policy: compile"), errs.ErrInvalid)
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errs.Invalidf("policy: expression must be boolean, got %s", ast.OutputType())
	}
	prog, err := env.Program(ast)
	if err != nil {
		return nil, errs.Wrap(err, "policy: program")
	}
	return &Policy{expr: expr, prog: prog}, nil
}

// String returns the source expression.
func (p *Policy) String() string {
	if p == nil {
		return ""
	}
	return p.expr
}

// Allow evaluates the policy. Evaluation errors deny.
func (p *Policy) Allow(method, path, tenantID string, headers map[string]string, body []byte) bool {
	if p == nil {
		return true
	}
	var doc any
	if len(body) > 0 {
		_ = json.Unmarshal(body, &doc)
	}
	if headers == nil {
		headers = map[string]string{}
	}
	out, _, err := p.prog.Eval(map[string]any{
		"method":  method,
		"path":    path,
		"tenant":  tenantID,
		"headers": headers,
		"json":    doc,
		"size":    int64(len(body)),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
