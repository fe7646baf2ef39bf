package router

import (
	"errors"
	"fmt"
	"strings"
)

// Method is one of the five supported HTTP methods, identified by a
// small integer id.
type Method uint8

const (
	GET Method = iota
	POST
	PUT
	DELETE
	PATCH
)

// ErrUnsupportedMethod is returned for methods outside the closed set
var ErrUnsupportedMethod = errors.New("unsupported method")

var methodNames = [...]string{"GET", "POST", "PUT", "DELETE", "PATCH"}

// ID returns the method id (0-4)
func (m Method) ID() uint8 {
	return uint8(m)
}

// String returns the HTTP token of the method
func (m Method) String() string {
	if int(m) < len(methodNames) {
		return methodNames[m]
	}
	return fmt.Sprintf("Method(%d)", uint8(m))
}

// HasBody reports whether requests with this method carry a body
func (m Method) HasBody() bool {
	return m == POST || m == PUT || m == PATCH
}

// MethodFromID converts an id back to a Method
func MethodFromID(id uint8) (Method, error) {
	if int(id) >= len(methodNames) {
		return 0, fmt.Errorf("%w: id %d", ErrUnsupportedMethod, id)
	}
	return Method(id), nil
}

// ParseMethod parses a method name case-insensitively. Used at
// registration time.
func ParseMethod(name string) (Method, error) {
	if m, ok := ParseWireMethod(strings.ToUpper(name)); ok {
		return m, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedMethod, name)
}

// ParseWireMethod matches the exact, case-sensitive request-line token
func ParseWireMethod(token string) (Method, bool) {
	switch token {
	case "GET":
		return GET, true
	case "POST":
		return POST, true
	case "PUT":
		return PUT, true
	case "DELETE":
		return DELETE, true
	case "PATCH":
		return PATCH, true
	default:
		return 0, false
	}
}
