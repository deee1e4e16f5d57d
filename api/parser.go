// Package api
// Author: momentics <momentics@gmail.com>
//
// Contracts consumed from the binary metadata layer. The store never
// interprets row bytes on its own.

package api

// Parser validates a raw row payload.
type Parser interface {
	Validate(data []byte) error
}

// ParserMetadata is the opaque handle a row keeps for its external metadata.
type ParserMetadata interface {
	CreateParser() (Parser, error)
}

// ParserFunc adapts a plain function to Parser.
type ParserFunc func(data []byte) error

func (f ParserFunc) Validate(data []byte) error { return f(data) }
