// File: dataset/info.go
// Author: momentics <momentics@gmail.com>

package dataset

// TypeTag is the semantic type of a row's payload. The store never
// interprets payloads; the tag is carried for the metadata layer.
type TypeTag uint16

const (
	// RawType marks an opaque byte payload.
	RawType TypeTag = iota
	// EmptyType marks a zero-size, data-less row. Writes carry no bytes and
	// always notify.
	EmptyType
)

// RowInfo describes a row.
type RowInfo struct {
	Type        TypeTag
	Name        string
	Description string
	TypeName    string
}

// UnboundedSize declares a row whose payload size may change on every write.
const UnboundedSize = -1
