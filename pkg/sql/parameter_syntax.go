// Package sql provides query template parsing, rendering and value screening.
package sql

/*
Parameter Template Syntax Documentation

# Overview

Stored query templates use mustache placeholders to mark parameters:

	SELECT * FROM orders WHERE status = '{{status}}' AND created_at >= '{{period.start}}'

Rendering is flat substitution. Each {{name}} is replaced with the string form of the
validated parameter value; nothing is bound positionally and no value is escaped, which
is why every supplied value is validated against its definition before rendering.

# Placeholder Discovery

ExtractParameters parses the template with mustache grammar (github.com/cbroglie/mustache)
and walks the parse tree:

  - Variable tags ({{name}}, {{{name}}}, {{& name}}) contribute their name.
  - Section tags ({{#name}}...{{/name}}) contribute their own name and, recursively,
    every name nested inside them.
  - Inverted sections, partials and comments contribute nothing.

Sections are only used to discover names. They never drive repeated rendering.

# Substitution

RenderTemplate replaces {{ name }} (inner whitespace allowed) with the context value.
Placeholders without a value are left in the output as {{name}} so a partially bound
template can be inspected and bound again later. The rendered text is trimmed.

Date range values are objects with start and end keys. BuildRenderContext flattens them
so templates address the bounds as {{name.start}} and {{name.end}}.

# List Values

A parameter whose definition carries multiValuesOptions accepts a list. Before rendering,
JoinListValues wraps each element with prefix and suffix and joins the wrapped elements
with the separator (defaults: ",", "", ""):

	{"separator": ",", "prefix": "'", "suffix": "'"}  +  ["open", "closed"]
	=> 'open','closed'

	SELECT * FROM orders WHERE status IN ({{statuses}})

# Safety

A schema containing a "text" parameter is unsafe: its rendered output may carry arbitrary
user text. Callers feeding rendered text into systems that must not accept injected text
check the schema first, and may screen text values with CheckTextParameters (libinjection).

# Implementation Reference

  - ExtractParameters(template) - placeholder names, depth first
  - RenderTemplate(template, context) - flat substitution
  - BuildRenderContext(params) - value stringification and range flattening
  - JoinListValues(params, schema) - multi-value joining
  - NormalizeStatement(sql) - single statement check before execution
  - CheckTextParameters(schema, params) - libinjection screening of free text
*/
