package sql

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cbroglie/mustache"

	"github.com/ekaya-inc/ekaya-paramquery/pkg/jsonutil"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/models"
)

// placeholderRegex matches {{ name }} placeholders for substitution. Inner
// whitespace is allowed and stripped from the name.
var placeholderRegex = regexp.MustCompile(`\{\{\s*(.*?)\s*\}\}`)

// ExtractParameters parses a query template with mustache grammar and returns
// the deduplicated placeholder names in order of first appearance.
//
// Variable tags are collected directly. A section tag contributes its own
// name and then every name nested inside it, at any depth:
//
//	tmpl := "SELECT * FROM t WHERE a = {{a}} {{#filters}}AND b = {{b}}{{/filters}}"
//	names, _ := ExtractParameters(tmpl)
//	// names == []string{"a", "filters", "b"}
//
// Inverted sections, partials and comments contribute nothing. A template the
// mustache parser rejects returns the parse error.
func ExtractParameters(template string) ([]string, error) {
	tmpl, err := mustache.ParseStringPartials(template, &mustache.StaticProvider{})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var names []string
	collectTagNames(tmpl.Tags(), seen, &names)
	return names, nil
}

func collectTagNames(tags []mustache.Tag, seen map[string]bool, names *[]string) {
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			*names = append(*names, name)
		}
	}

	for _, tag := range tags {
		switch tag.Type() {
		case mustache.Variable:
			add(tag.Name())
		case mustache.Section:
			add(tag.Name())
			collectTagNames(tag.Tags(), seen, names)
		}
	}
}

// RenderTemplate replaces every {{name}} placeholder with its value from
// context. Placeholders without a value are left in place (normalized to
// {{name}}), and the result is trimmed of surrounding whitespace.
//
//	RenderTemplate("SELECT * FROM t WHERE id = {{ id }} AND x = {{x}}", map[string]string{"id": "7"})
//	// "SELECT * FROM t WHERE id = 7 AND x = {{x}}"
func RenderTemplate(template string, context map[string]string) string {
	rendered := placeholderRegex.ReplaceAllStringFunc(template, func(match string) string {
		name := strings.TrimSpace(placeholderRegex.FindStringSubmatch(match)[1])
		if value, ok := context[name]; ok {
			return value
		}
		return "{{" + name + "}}"
	})
	return strings.TrimSpace(rendered)
}

// BuildRenderContext stringifies parameter values for RenderTemplate. Object
// values such as date ranges are flattened so that {{name.start}} and
// {{name.end}} resolve.
func BuildRenderContext(params map[string]any) map[string]string {
	context := make(map[string]string, len(params))
	for name, value := range params {
		if obj, ok := value.(map[string]any); ok {
			for key, inner := range obj {
				context[fmt.Sprintf("%s.%s", name, key)] = jsonutil.FlexibleString(inner)
			}
			continue
		}
		if list, ok := jsonutil.AsSlice(value); ok {
			parts := make([]string, len(list))
			for i, v := range list {
				parts[i] = jsonutil.FlexibleString(v)
			}
			context[name] = strings.Join(parts, ",")
			continue
		}
		context[name] = jsonutil.FlexibleString(value)
	}
	return context
}

// JoinListValues joins list-valued parameters into one substitutable string
// using the multi-value options of their definitions: each element is wrapped
// in prefix/suffix and the results are joined with the separator.
//
//	schema := models.Schema{{Name: "ids", MultiValuesOptions: &models.MultiValuesOptions{Separator: ",", Prefix: "'", Suffix: "'"}}}
//	JoinListValues(map[string]any{"ids": []any{"a", "b"}}, schema)
//	// map[string]any{"ids": "'a','b'"}
//
// Scalars, and lists whose definition is missing or not multi-valued, pass
// through unchanged.
func JoinListValues(params map[string]any, schema models.Schema) map[string]any {
	joined := make(map[string]any, len(params))
	for name, value := range params {
		joined[name] = value

		list, ok := jsonutil.AsSlice(value)
		if !ok {
			continue
		}
		def, ok := schema.Lookup(name)
		if !ok || def.MultiValuesOptions == nil {
			continue
		}

		opts := def.MultiValuesOptions
		wrapped := make([]string, len(list))
		for i, v := range list {
			wrapped[i] = opts.Prefix + jsonutil.FlexibleString(v) + opts.Suffix
		}
		joined[name] = strings.Join(wrapped, opts.Separator)
	}
	return joined
}

// FindParametersInStringLiterals checks for {{param}} placeholders that appear
// inside SQL string literals (single quotes). Such placeholders are rendered
// verbatim into the literal, which is usually what quoting prefixes are for;
// callers use this to warn when a multi-value parameter also carries quotes.
//
// Returns a list of parameter names that appear inside strings.
//
//	FindParametersInStringLiterals("SELECT 'Hello {{name}}' FROM users")
//	// []string{"name"}
func FindParametersInStringLiterals(sqlQuery string) []string {
	var problems []string
	seen := make(map[string]bool)

	inString := false
	stringStart := 0

	for i := 0; i < len(sqlQuery); i++ {
		if sqlQuery[i] != '\'' {
			continue
		}
		if !inString {
			inString = true
			stringStart = i
			continue
		}
		// Doubled quote ('') is an escaped quote inside the literal
		if i+1 < len(sqlQuery) && sqlQuery[i+1] == '\'' {
			i++
			continue
		}
		for _, match := range placeholderRegex.FindAllStringSubmatch(sqlQuery[stringStart+1:i], -1) {
			name := strings.TrimSpace(match[1])
			if !seen[name] {
				seen[name] = true
				problems = append(problems, name)
			}
		}
		inString = false
	}

	return problems
}
