// Package rules evaluates declarative mapping rules against decoded input
// and writes the results into a record.Record.
//
// A Set binds output keys to rules. Text rules emit literals, Filter rules
// extract values by path and List rules merge several rules under one key.
// Extracted values pass through a Payload: Lookup tables, Suffix, user
// Callables or a Sequence of those.
//
// The final value of each rule is a list unless one of the collapse flags
// is set in the run options:
//
//	_no_array_with_one_literal   singleton list of a scalar -> the scalar
//	_no_array_with_one_element   any singleton list -> its element
//
// Rule sets are usually loaded from YAML or JSON with LoadFile; see Loader
// for the document shapes.
package rules
