package plugin

import (
	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"

	shellerr "github.com/opal-lang/shellcore/core/errors"
	"github.com/opal-lang/shellcore/core/value"
)

// Identity fingerprints the plugin that produced a CustomValue: the
// blake2b-256 digest of the plugin's filename and declared Hello version,
// computed once per process (Launch in host.go on the host side, Serve in
// plugin.go on the plugin side) and stamped into every CustomValue that
// plugin hands back across the wire.
type Identity = value.CustomValueIdentity

// CustomValue is the opaque-blob payload a plugin hands back in place of a
// Value it cannot (or chooses not to) represent as a base type. Defined in
// core/value (as value.CustomValue) so it can be carried inside a Value;
// aliased here so plugin-package code reads naturally.
type CustomValue = value.CustomValue

// ComputeIdentity derives a plugin's Identity from its canonical filename
// and protocol version string, so two loads of the same plugin binary at
// the same version always fingerprint identically, and a different plugin
// (or a different version of the same plugin) never collides by accident.
func ComputeIdentity(filename, version string) Identity {
	h, _ := blake2b.New256(nil)
	_, _ = h.Write([]byte(filename))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(version))
	var id Identity
	copy(id[:], h.Sum(nil))
	return id
}

// VerifyOwner refuses to operate on cv unless it was fingerprinted by the
// plugin identified by wantIdentity, implementing the protocol's
// cross-plugin-identity refusal: a custom value minted by plugin A can
// never be unwrapped or dropped by plugin B, even if both declare the same
// PluginName.
func VerifyOwner(cv CustomValue, wantIdentity Identity) error {
	if cv.Identity != wantIdentity {
		return shellerr.New(shellerr.KindPluginLoad,
			"custom value belongs to a different plugin instance and cannot be opened here").
			WithHelp("custom values are not transferable between plugin processes")
	}
	return nil
}

// customValuePayload is the cbor-encoded content of a CustomValue's Data
// field: enough of a base Value's shape to round-trip the scalar kinds a
// plugin is expected to wrap (Nothing/Bool/Int/Float/String/Binary).
// Structured kinds (List/Record) are left to a plugin's own richer
// encoding — this generic payload only covers what the host-side plugin
// interface itself needs to mint and unwrap.
type customValuePayload struct {
	Kind  value.Kind `cbor:"kind"`
	Bool  bool       `cbor:"bool,omitempty"`
	Int   int64      `cbor:"int,omitempty"`
	Float float64    `cbor:"float,omitempty"`
	Str   string     `cbor:"str,omitempty"`
	Bytes []byte     `cbor:"bytes,omitempty"`
}

// MintCustomValue wraps base as an opaque CustomValue stamped with
// identity, for a plugin command that wants to hand back a value the host
// cannot inspect directly until asked to convert it back.
func MintCustomValue(pluginName string, identity Identity, base value.Value) (CustomValue, error) {
	payload := customValuePayload{Kind: base.Kind}
	switch base.Kind {
	case value.KindNothing:
	case value.KindBool:
		payload.Bool, _ = base.AsBool()
	case value.KindInt:
		payload.Int, _ = base.AsInt()
	case value.KindFloat:
		payload.Float, _ = base.AsFloat()
	case value.KindString, value.KindGlob:
		payload.Str, _ = base.AsString()
	case value.KindBinary:
		payload.Bytes, _ = base.AsBinary()
	default:
		return CustomValue{}, shellerr.New(shellerr.KindGeneric,
			"cannot mint a custom value wrapping a "+base.Kind.String()+" value")
	}
	data, err := cbor.Marshal(payload)
	if err != nil {
		return CustomValue{}, shellerr.Wrap(shellerr.KindPluginLoad, "failed to encode custom value payload", err)
	}
	return CustomValue{PluginName: pluginName, Identity: identity, Data: data}, nil
}

// ToBaseValue verifies cv belongs to wantIdentity and decodes it back to
// the base Value it was minted from.
func ToBaseValue(cv CustomValue, wantIdentity Identity, span value.Span) (value.Value, error) {
	if err := VerifyOwner(cv, wantIdentity); err != nil {
		return value.Value{}, err
	}
	var payload customValuePayload
	if err := cbor.Unmarshal(cv.Data, &payload); err != nil {
		return value.Value{}, shellerr.Wrap(shellerr.KindPluginLoad, "failed to decode custom value payload", err)
	}
	switch payload.Kind {
	case value.KindNothing:
		return value.Nothing(span), nil
	case value.KindBool:
		return value.Bool(payload.Bool, span), nil
	case value.KindInt:
		return value.Int(payload.Int, span), nil
	case value.KindFloat:
		return value.Float(payload.Float, span), nil
	case value.KindString:
		return value.String(payload.Str, span), nil
	case value.KindGlob:
		return value.Glob(payload.Str, span), nil
	case value.KindBinary:
		return value.Binary(payload.Bytes, span), nil
	default:
		return value.Value{}, shellerr.New(shellerr.KindGeneric, "custom value wraps an unsupported kind")
	}
}
