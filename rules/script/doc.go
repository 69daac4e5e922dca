// Package script compiles inline rule payloads written in JavaScript (goja)
// or CEL into rules callables.
//
// A JavaScript payload is a function expression. Its declared parameter
// count decides the calling convention: one parameter receives the value,
// two receive the value and the rule options.
//
//	subjects:
//	  "$..subject": {js: "(d, o) => ({doc_id: o.id, subject: d})"}
//
// A CEL payload is an expression over the variables d (the value) and o
// (the rule options).
//
//	score:
//	  "$.score": {cel: "d * 2"}
//
// Use Compilers with rules.NewLoader to enable both kinds in rule files.
package script

import "github.com/c360/datacollector/rules"

// Compilers returns loader options registering the "js" and "cel" payload
// kinds.
func Compilers() []rules.LoaderOption {
	return []rules.LoaderOption{
		rules.WithCompiler("js", JavaScript),
		rules.WithCompiler("cel", CEL),
	}
}
