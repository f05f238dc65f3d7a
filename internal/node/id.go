package node

import (
	"fmt"
	"strconv"
	"strings"
)

// ConnectionID identifies the client connection that owns a node.
type ConnectionID uint32

// LocalID numbers nodes within one connection. It starts at 1.
type LocalID uint32

// ServiceConnection is the connection id of the service itself. It owns the
// root node and the orphan holder.
const ServiceConnection ConnectionID = 0

var (
	// RootID is the service-owned root node every client tree hangs from.
	RootID = ID{Connection: ServiceConnection, Local: 1}
	// HolderID is the hidden node that receives children under OrphanHold.
	HolderID = ID{Connection: ServiceConnection, Local: 2}
)

// ID names a node. The zero ID is never allocated and stands for "no node".
type ID struct {
	Connection ConnectionID
	Local      LocalID
}

// IsZero reports whether id is the "no node" value.
func (id ID) IsZero() bool { return id == ID{} }

func (id ID) String() string {
	return fmt.Sprintf("%d:%d", id.Connection, id.Local)
}

// ParseID parses the "<connection>:<local>" form produced by String.
func ParseID(s string) (ID, error) {
	connPart, localPart, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return ID{}, fmt.Errorf("invalid node id %q: want <connection>:<local>", s)
	}
	conn, err := strconv.ParseUint(connPart, 10, 32)
	if err != nil {
		return ID{}, fmt.Errorf("invalid node id %q: connection: %w", s, err)
	}
	local, err := strconv.ParseUint(localPart, 10, 32)
	if err != nil {
		return ID{}, fmt.Errorf("invalid node id %q: local: %w", s, err)
	}
	return ID{Connection: ConnectionID(conn), Local: LocalID(local)}, nil
}

// MarshalText encodes the zero ID as empty text so that "no node" fields
// stay blank on the wire.
func (id ID) MarshalText() ([]byte, error) {
	if id.IsZero() {
		return []byte{}, nil
	}
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*id = ID{}
		return nil
	}
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
