package main

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/platinummonkey/audittrail/pkg/audit"
)

//go:embed types.go.tmpl
var typesTemplate string

// constant is one generated category constant
type constant struct {
	Name  string
	Value string
}

// constName converts a category tag to an exported identifier,
// e.g. ETL_PIPELINE becomes TypeEtlPipeline
func constName(category string) string {
	var b strings.Builder
	b.WriteString("Type")
	for _, part := range strings.FieldsFunc(category, func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '.'
	}) {
		lower := strings.ToLower(part)
		b.WriteString(strings.ToUpper(lower[:1]))
		b.WriteString(lower[1:])
	}
	return b.String()
}

// existingConstants reads the string constants of a previously generated
// file. A missing file yields no constants.
func existingConstants(path string) (map[string]string, error) {
	src, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}

	file, err := parser.ParseFile(token.NewFileSet(), path, src, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	out := make(map[string]string)
	for _, decl := range file.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.CONST {
			continue
		}
		for _, spec := range gen.Specs {
			vs := spec.(*ast.ValueSpec)
			for i, name := range vs.Names {
				if i >= len(vs.Values) {
					continue
				}
				lit, ok := vs.Values[i].(*ast.BasicLit)
				if !ok || lit.Kind != token.STRING {
					continue
				}
				value, err := strconv.Unquote(lit.Value)
				if err != nil {
					continue
				}
				out[name.Name] = value
			}
		}
	}
	return out, nil
}

// collect merges the allowed categories with constants kept from an earlier
// run, sorted by name
func collect(additional []string, existing map[string]string) []constant {
	byName := make(map[string]string, len(existing))
	for name, value := range existing {
		byName[name] = value
	}
	for _, category := range audit.NewCategorySet(additional...).Values() {
		byName[constName(category)] = category
	}

	out := make([]constant, 0, len(byName))
	for name, value := range byName {
		out = append(out, constant{Name: name, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// render executes the template and gofmts the result
func render(pkg string, constants []constant) ([]byte, error) {
	tmpl, err := template.New("types").Parse(typesTemplate)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]interface{}{
		"Package":   pkg,
		"Constants": constants,
	}); err != nil {
		return nil, err
	}

	src, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("generated code is invalid: %w", err)
	}
	return src, nil
}
