package template

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/flosch/pongo2/v6"
)

// noFiles is a loader for template sets that must not read any file.
type noFiles struct{}

func (noFiles) Abs(_, name string) string { return name }

func (noFiles) Get(path string) (io.Reader, error) {
	return nil, fmt.Errorf("%w: %q", ErrPathViolation, path)
}

var expressions = newExpressionSet()

func newExpressionSet() *pongo2.TemplateSet {
	set := pongo2.NewSet("expressions", noFiles{})
	for _, tag := range []string{"include", "extends", "import", "ssi"} {
		if err := set.BanTag(tag); err != nil {
			panic(err)
		}
	}
	return set
}

// Expression is a single compiled template expression such as
// "order.number" or "name|upper". It is safe for concurrent use.
type Expression struct {
	src string
	tpl *pongo2.Template
}

// CompileExpression parses src once so that evaluation cannot fail on syntax.
func CompileExpression(src string) (*Expression, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, errors.New("empty expression")
	}

	tpl, err := expressions.FromString("{% autoescape off %}{{ " + src + " }}{% endautoescape %}")
	if err != nil {
		return nil, fmt.Errorf("failed to compile expression %q: %w", src, err)
	}
	return &Expression{src: src, tpl: tpl}, nil
}

// Eval renders the expression against data. Undefined values render empty.
func (x *Expression) Eval(data map[string]any) (string, error) {
	out, err := x.tpl.Execute(dataContext(data, 0))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate %q: %w", x.src, err)
	}
	return out, nil
}

// String returns the expression source.
func (x *Expression) String() string {
	return x.src
}
