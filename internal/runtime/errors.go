package runtime

import "errors"

// ErrInvalidArguments describes a tool call whose argument JSON is
// malformed. The executor does not return it; it writes its text into a
// status=error observation distinct from "tool not found", so callers can
// tell a dispatch problem from a bad request.
var ErrInvalidArguments = errors.New("runtime: invalid tool call arguments")
