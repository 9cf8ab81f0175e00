package command

import (
	shellerr "github.com/opal-lang/shellcore/core/errors"
	"github.com/opal-lang/shellcore/core/value"
)

func newCallError(msg string, span value.Span) error {
	return shellerr.NewSpanned(shellerr.KindTypeMismatch, msg, shellerr.Span{Start: span.Start, End: span.End})
}
