package gpg

import (
	"strings"
)

// Operation identifies an engine entry point
type Operation string

// Engine operations
const (
	OpImport       Operation = "import"
	OpGenerate     Operation = "generate"
	OpEncrypt      Operation = "encrypt"
	OpDecrypt      Operation = "decrypt"
	OpExportPublic Operation = "export_public"
	OpExportSecret Operation = "export_secret"
	OpStopAgent    Operation = "stop_agent"
)

// TrustMode controls how the engine treats keys without explicit trust
type TrustMode string

// Trust modes, as accepted by --trust-model
const (
	TrustAlways  TrustMode = "always"
	TrustDirect  TrustMode = "direct"
	TrustPGP     TrustMode = "pgp"
	TrustClassic TrustMode = "classic"
	TrustTOFU    TrustMode = "tofu"
	TrustTOFUPGP TrustMode = "tofu+pgp"
	TrustAuto    TrustMode = "auto"
)

// DefaultTrustMode never blocks on trust prompts
const DefaultTrustMode = TrustAlways

var trustModes = []TrustMode{
	TrustAlways, TrustDirect, TrustPGP, TrustClassic, TrustTOFU, TrustTOFUPGP, TrustAuto,
}

// ParseTrustMode returns the trust mode for s.
// Empty value returns DefaultTrustMode.
func ParseTrustMode(s string) (TrustMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultTrustMode, nil
	}
	for _, m := range trustModes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", InvalidConfigurationf("unsupported trust mode: %q", s)
}

// PinentryMode controls how the engine asks for passphrases
type PinentryMode string

// Pinentry modes
const (
	// PinentryLoopback reads the passphrase from --passphrase-fd
	PinentryLoopback PinentryMode = "loopback"
	// PinentryError fails instead of prompting
	PinentryError PinentryMode = "error"
)

// statusFD is the descriptor of the status pipe in the child process:
// the first entry of ExtraFiles
const statusFD = "3"

// invocation describes a single engine call. It is built per call and
// not retained.
type invocation struct {
	operation  Operation
	args       []string
	workDir    string
	homeDir    string
	passphrase string
	// paths are reported in errors
	paths []string
}

func (inv *invocation) pinentryMode() PinentryMode {
	if inv.passphrase != "" {
		return PinentryLoopback
	}
	return PinentryError
}

// commandLine returns the full argument list. It never contains the
// passphrase.
func (inv *invocation) commandLine() []string {
	args := []string{
		"--homedir", inv.homeDir,
		"--batch",
		"--no-tty",
		"--status-fd", statusFD,
		"--pinentry-mode", string(inv.pinentryMode()),
	}
	if inv.passphrase != "" {
		args = append(args, "--passphrase-fd", "0")
	}
	return append(args, inv.args...)
}

func trustArgs(mode TrustMode) ([]string, error) {
	mode, err := ParseTrustMode(string(mode))
	if err != nil {
		return nil, err
	}
	return []string{"--trust-model", string(mode)}, nil
}

func armorArgs(armor bool) []string {
	if armor {
		return []string{"--armor"}
	}
	return nil
}
