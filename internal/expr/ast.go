// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

// Package expr evaluates the small "{...}" expressions that plugin
// configuration uses for hide, disablePluginIf, showIn/hideFrom and cfg
// values. Expressions are parsed with participle into an explicit AST and
// interpreted over a restricted scope; nothing is executed as code.
package expr

import (
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// exprLexer keeps multi-character operators (===, &&, ||) as single tokens.
var exprLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "String", Pattern: `"(?:\\.|[^"\\])*"|'(?:\\.|[^'\\])*'`},
	{Name: "Number", Pattern: `-?\d+(?:\.\d+)?`},
	{Name: "Op", Pattern: `===|!==|==|!=|<=|>=|&&|\|\||[<>!?:]`},
	{Name: "Ident", Pattern: `[a-zA-Z_$][a-zA-Z0-9_$]*`},
	{Name: "Punct", Pattern: `[()\[\],.]`},
	{Name: "whitespace", Pattern: `\s+`},
})

// Expression is the root node: a condition with an optional ternary tail.
//
// Grammar: or [ "?" expression ":" expression ]
type Expression struct {
	Pos  lexer.Position `parser:"" json:"-"`
	Cond *Or            `parser:"@@" json:"cond"`
	Then *Expression    `parser:"( '?' @@" json:"then,omitempty"`
	Else *Expression    `parser:"  ':' @@ )?" json:"else,omitempty"`
}

// Or yields the first truthy term, or the last term.
type Or struct {
	Terms []*And `parser:"@@ ( '||' @@ )*" json:"terms"`
}

// And yields the first falsy term, or the last term.
type And struct {
	Terms []*Unary `parser:"@@ ( '&&' @@ )*" json:"terms"`
}

// Unary is either a negation or a comparison.
type Unary struct {
	Not        *Unary      `parser:"  '!' @@" json:"not,omitempty"`
	Comparison *Comparison `parser:"| @@" json:"comparison,omitempty"`
}

// Comparison is an operand optionally compared with a second operand.
type Comparison struct {
	Left  *Operand `parser:"@@" json:"left"`
	Op    string   `parser:"( @( '===' | '!==' | '==' | '!=' | '<=' | '>=' | '<' | '>' | 'in' | 'like' )" json:"op,omitempty"`
	Right *Operand `parser:"  @@ )?" json:"right,omitempty"`
}

// Operand is a literal, a list, a function call, a path or a group.
type Operand struct {
	Literal *Literal    `parser:"  @@" json:"literal,omitempty"`
	List    *List       `parser:"| @@" json:"list,omitempty"`
	Call    *Call       `parser:"| @@" json:"call,omitempty"`
	Path    *Path       `parser:"| @@" json:"path,omitempty"`
	Group   *Expression `parser:"| '(' @@ ')'" json:"group,omitempty"`
}

// Literal is a string, number, boolean or null value.
type Literal struct {
	Str    *string  `parser:"  @String" json:"str,omitempty"`
	Number *float64 `parser:"| @Number" json:"number,omitempty"`
	Bool   *string  `parser:"| @( 'true' | 'false' )" json:"bool,omitempty"`
	Null   *string  `parser:"| @( 'null' | 'undefined' )" json:"null,omitempty"`
}

// List is an array literal.
type List struct {
	Items []*Expression `parser:"'[' ( @@ ( ',' @@ )* )? ']'" json:"items"`
}

// Call is a function call such as state('mapType').
type Call struct {
	Func string        `parser:"@Ident '('" json:"func"`
	Args []*Expression `parser:"( @@ ( ',' @@ )* )? ')'" json:"args"`
}

// Path is a dotted reference rooted at one of the scope roots.
type Path struct {
	Root     string     `parser:"@Ident" json:"root"`
	Segments []*Segment `parser:"@@*" json:"segments,omitempty"`
}

// Segment is one step of a Path: .field, [0] or ['key'].
type Segment struct {
	Field *string `parser:"  '.' @Ident" json:"field,omitempty"`
	Index *int    `parser:"| '[' @Number ']'" json:"index,omitempty"`
	Key   *string `parser:"| '[' @String ']'" json:"key,omitempty"`
}

var unescaper = strings.NewReplacer(`\"`, `"`, `\'`, `'`, `\\`, `\`, `\n`, "\n", `\t`, "\t")

// unquote strips the surrounding quotes of either style.
func unquote(tok lexer.Token) (lexer.Token, error) {
	if len(tok.Value) >= 2 {
		tok.Value = unescaper.Replace(tok.Value[1 : len(tok.Value)-1])
	}
	return tok, nil
}

// NewParser constructs a participle parser for the expression grammar.
func NewParser() (*participle.Parser[Expression], error) {
	return participle.Build[Expression](
		participle.Lexer(exprLexer),
		participle.Map(unquote, "String"),
		participle.UseLookahead(3),
	)
}
