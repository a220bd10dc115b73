// Package op implements the operation model for collaborative document editing:
// versioned insert/delete edits, their application to document content, and
// transformation of concurrent operations for convergence.
package op

import (
	"fmt"
)

// Type identifies the kind of edit an operation performs.
type Type string

const (
	Insert Type = "insert"
	Delete Type = "delete"
)

// Operation represents a single edit computed against a known document version.
// The server uses DocumentVersion to detect concurrent conflicting edits.
type Operation struct {
	Type            Type   `json:"operation_type"`
	Position        int    `json:"position"`
	Content         string `json:"content,omitempty"` // For insert
	Length          int    `json:"length,omitempty"`  // For delete
	DocumentVersion int    `json:"document_version"`
}

// NewInsert creates an insert operation at the given position.
func NewInsert(position int, content string, version int) Operation {
	return Operation{
		Type:            Insert,
		Position:        position,
		Content:         content,
		DocumentVersion: version,
	}
}

// NewDelete creates a delete operation covering length bytes at position.
func NewDelete(position, length, version int) Operation {
	return Operation{
		Type:            Delete,
		Position:        position,
		Length:          length,
		DocumentVersion: version,
	}
}

// Apply applies the operation to content and returns the resulting text.
func (o Operation) Apply(content string) (string, error) {
	switch o.Type {
	case Insert:
		if o.Position < 0 || o.Position > len(content) {
			return content, fmt.Errorf("invalid insert position: %d (content length: %d)",
				o.Position, len(content))
		}
		return content[:o.Position] + o.Content + content[o.Position:], nil

	case Delete:
		if o.Position < 0 || o.Length < 0 || o.Position+o.Length > len(content) {
			return content, fmt.Errorf("invalid delete range: %d-%d (content length: %d)",
				o.Position, o.Position+o.Length, len(content))
		}
		return content[:o.Position] + content[o.Position+o.Length:], nil
	}

	return content, fmt.Errorf("unknown operation type: %q", o.Type)
}

// Transform transforms two concurrent operations computed against the same
// document state. Returns (a', b') such that applying a then b' converges
// with applying b then a'.
func Transform(a, b Operation) (Operation, Operation) {
	switch a.Type {
	case Insert:
		switch b.Type {
		case Insert:
			return transformInsertInsert(a, b)
		case Delete:
			return transformInsertDelete(a, b)
		}
	case Delete:
		switch b.Type {
		case Insert:
			bPrime, aPrime := transformInsertDelete(b, a)
			return aPrime, bPrime
		case Delete:
			return transformDeleteDelete(a, b)
		}
	}

	return a, b
}

// transformInsertInsert handles two concurrent insertions.
func transformInsertInsert(a, b Operation) (Operation, Operation) {
	aPrime := a
	bPrime := b

	if a.Position < b.Position {
		// a happens before b's position, so b needs to shift right
		bPrime.Position += len(a.Content)
	} else if a.Position > b.Position {
		// b happens before a's position, so a needs to shift right
		aPrime.Position += len(b.Content)
	} else {
		// Same position - the first argument wins the spot
		bPrime.Position += len(a.Content)
	}

	return aPrime, bPrime
}

// transformInsertDelete handles insert vs delete.
func transformInsertDelete(ins, del Operation) (Operation, Operation) {
	insPrime := ins
	delPrime := del

	if ins.Position <= del.Position {
		// Insert happens before the deleted range
		delPrime.Position += len(ins.Content)
	} else if ins.Position >= del.Position+del.Length {
		// Insert happens after the deleted range
		insPrime.Position -= del.Length
	} else {
		// Insert lands inside the deleted range
		insPrime.Position = del.Position
	}

	return insPrime, delPrime
}

// transformDeleteDelete handles two concurrent deletions.
func transformDeleteDelete(a, b Operation) (Operation, Operation) {
	aPrime := a
	bPrime := b

	aEnd := a.Position + a.Length
	bEnd := b.Position + b.Length

	switch {
	case aEnd <= b.Position:
		// a deletes before b
		bPrime.Position -= a.Length
	case bEnd <= a.Position:
		// b deletes before a
		aPrime.Position -= b.Length
	case a.Position <= b.Position && aEnd >= bEnd:
		// a swallows b entirely; b has nothing left to delete
		aPrime.Length -= b.Length
		bPrime.Position = a.Position
		bPrime.Length = 0
	case b.Position <= a.Position && bEnd >= aEnd:
		// b swallows a entirely
		bPrime.Length -= a.Length
		aPrime.Position = b.Position
		aPrime.Length = 0
	case a.Position < b.Position:
		// Partial overlap, a starts first
		overlap := aEnd - b.Position
		aPrime.Length -= overlap
		bPrime.Position = a.Position
		bPrime.Length -= overlap
	default:
		// Partial overlap, b starts first
		overlap := bEnd - a.Position
		bPrime.Length -= overlap
		aPrime.Position = b.Position
		aPrime.Length -= overlap
	}

	return aPrime, bPrime
}
