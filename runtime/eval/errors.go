package eval

import shellerr "github.com/opal-lang/shellcore/core/errors"

func automaticEnvErr(name string) error {
	return shellerr.AutomaticEnvError(name)
}
