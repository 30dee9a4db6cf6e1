package pty

import "github.com/google/uuid"

// Handle identifies a session in a Registry. Handles are never reused.
type Handle struct {
	id uuid.UUID
}

func newHandle() Handle {
	return Handle{id: uuid.New()}
}

// ParseHandle parses the String form of a handle.
func ParseHandle(s string) (Handle, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return Handle{}, err
	}
	return Handle{id: id}, nil
}

func (h Handle) String() string {
	return h.id.String()
}

// IsZero reports whether h is the zero handle, which no session ever has.
func (h Handle) IsZero() bool {
	return h.id == uuid.Nil
}
