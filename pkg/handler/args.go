package handler

import (
	"encoding/json"

	"github.com/morezero/rtbus/pkg/message"
)

// Arg decodes the i-th invoke argument into v. A missing or malformed
// argument is INVALID_ARGUMENTS.
func Arg(args []json.RawMessage, i int, v any) error {
	if i < 0 || i >= len(args) {
		return message.NewError(message.CodeInvalidArguments, "missing argument %d", i)
	}
	if err := json.Unmarshal(args[i], v); err != nil {
		return message.NewError(message.CodeInvalidArguments, "argument %d: %v", i, err)
	}
	return nil
}

// OptionalArg is Arg for trailing optional arguments. It reports whether the
// argument was present.
func OptionalArg(args []json.RawMessage, i int, v any) (bool, error) {
	if i >= len(args) {
		return false, nil
	}
	return true, Arg(args, i, v)
}
