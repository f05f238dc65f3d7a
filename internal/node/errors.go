package node

import "errors"

var (
	// ErrDuplicateID is returned when a node is created with an id that is
	// live or was used before.
	ErrDuplicateID = errors.New("duplicate node id")
	// ErrCycle is returned when Add would make a node its own ancestor.
	ErrCycle = errors.New("node cycle")
	// ErrNotChild is returned when Remove names a node that is not a child.
	ErrNotChild = errors.New("not a child")
	// ErrNotSibling is returned when Reorder names nodes that are not
	// distinct children of the same parent.
	ErrNotSibling = errors.New("not siblings")
	// ErrUnknownNode is returned for ids that were never created or were
	// destroyed.
	ErrUnknownNode = errors.New("unknown node")
	// ErrUnknownConnection is returned for connection ids that are not open.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrPolicyRequired is returned when a destroy is requested without an
	// explicit orphan policy.
	ErrPolicyRequired = errors.New("orphan policy required")
	// ErrProtectedNode is returned when a request would destroy or detach a
	// service-owned node.
	ErrProtectedNode = errors.New("protected node")
	// ErrSurface wraps failures reported by the native surface. The logical
	// tree is unchanged when it is returned.
	ErrSurface = errors.New("native surface error")
)
