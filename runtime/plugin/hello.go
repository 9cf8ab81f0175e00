package plugin

import (
	"fmt"

	"golang.org/x/mod/semver"

	shellerr "github.com/opal-lang/shellcore/core/errors"
)

// ProtocolVersion is this host's (and any plugin built against this module's)
// protocol version, checked during the Hello handshake.
const ProtocolVersion = "v0.1.0"

// CheckCompatible implements the handshake's compatibility rule: the host
// and plugin must agree on protocol major version. A plugin compiled
// against an incompatible major version fails to load with KindPluginLoad
// rather than being allowed to exchange further messages, since a minor
// wire-shape mismatch past the major boundary cannot be assumed safe.
func CheckCompatible(hostVersion, pluginVersion string) error {
	if !semver.IsValid(hostVersion) {
		hostVersion = "v" + hostVersion
	}
	if !semver.IsValid(pluginVersion) {
		pluginVersion = "v" + pluginVersion
	}
	if !semver.IsValid(hostVersion) || !semver.IsValid(pluginVersion) {
		return shellerr.New(shellerr.KindPluginLoad, "plugin protocol version is not valid semver")
	}
	if semver.Major(hostVersion) != semver.Major(pluginVersion) {
		return shellerr.New(shellerr.KindPluginLoad, fmt.Sprintf(
			"plugin protocol version %s is incompatible with host version %s", pluginVersion, hostVersion,
		)).WithHelp("rebuild the plugin against the current shellcore protocol major version")
	}
	return nil
}

// defaultFeatures are the optional protocol features advertised in this
// side's Hello; the peer's Features are not inspected.
var defaultFeatures = []string{"eval_closure", "local_socket_streams"}

// HelloMessage returns this host's Hello payload.
func HelloMessage() ProtocolInfo {
	return ProtocolInfo{Version: ProtocolVersion, Features: defaultFeatures}
}
