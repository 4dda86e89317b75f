package gpg

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
)

// ExpiryNever is the expiry value for keys that do not expire
const ExpiryNever = "never"

// accepted by Expire-Date: 0, <n>, <n>d|w|m|y, ISO date or timestamp
var expiryRegex = regexp.MustCompile(`^(0|[0-9]+[dwmy]?|[0-9]{4}-[0-9]{2}-[0-9]{2}|[0-9]{8}T[0-9]{6})$`)

// KeyParams describes a key to generate unattended
type KeyParams struct {
	OwnerName    string `json:"owner_name,omitempty" yaml:"owner_name" mapstructure:"owner_name"`
	OwnerEmail   string `json:"owner_email,omitempty" yaml:"owner_email" mapstructure:"owner_email"`
	OwnerComment string `json:"owner_comment,omitempty" yaml:"owner_comment" mapstructure:"owner_comment"`

	KeyType      string `json:"key_type,omitempty" yaml:"key_type" mapstructure:"key_type"`
	KeyLength    int    `json:"key_length,omitempty" yaml:"key_length" mapstructure:"key_length"`
	KeyCurve     string `json:"key_curve,omitempty" yaml:"key_curve" mapstructure:"key_curve"`
	SubkeyType   string `json:"subkey_type,omitempty" yaml:"subkey_type" mapstructure:"subkey_type"`
	SubkeyLength int    `json:"subkey_length,omitempty" yaml:"subkey_length" mapstructure:"subkey_length"`
	SubkeyCurve  string `json:"subkey_curve,omitempty" yaml:"subkey_curve" mapstructure:"subkey_curve"`

	// Expiry is "never" or a GnuPG expiry token, like 1y, 6m, 2w, 10d or
	// an ISO date
	Expiry string `json:"expiry,omitempty" yaml:"expiry" mapstructure:"expiry"`

	// Passphrase protects the generated key. It is not rendered in the
	// parameter file.
	Passphrase string `json:"-" yaml:"passphrase" mapstructure:"passphrase"`
}

// HasPassphrase returns true if the key is to be protected
func (p *KeyParams) HasPassphrase() bool {
	return p.Passphrase != ""
}

// Validate returns ErrInvalidConfiguration if params can not be rendered
func (p *KeyParams) Validate() error {
	if strings.TrimSpace(p.OwnerName) == "" {
		return InvalidConfigurationf("owner name is required")
	}
	if strings.TrimSpace(p.OwnerEmail) == "" {
		return InvalidConfigurationf("owner email is required")
	}
	if p.KeyType == "" {
		return InvalidConfigurationf("key type is required")
	}
	if p.KeyCurve == "" && p.KeyLength <= 0 {
		return InvalidConfigurationf("key length must be positive: %d", p.KeyLength)
	}
	if p.SubkeyType != "" && p.SubkeyCurve == "" && p.SubkeyLength <= 0 {
		return InvalidConfigurationf("subkey length must be positive: %d", p.SubkeyLength)
	}
	if p.Expiry != "" && p.Expiry != ExpiryNever && !expiryRegex.MatchString(p.Expiry) {
		return InvalidConfigurationf("invalid expiry: %q", p.Expiry)
	}

	for name, val := range map[string]string{
		"owner name":    p.OwnerName,
		"owner email":   p.OwnerEmail,
		"owner comment": p.OwnerComment,
		"key type":      p.KeyType,
		"key curve":     p.KeyCurve,
		"subkey type":   p.SubkeyType,
		"subkey curve":  p.SubkeyCurve,
	} {
		if strings.ContainsAny(val, "\r\n") {
			return InvalidConfigurationf("%s must be a single line", name)
		}
	}
	if strings.ContainsAny(p.OwnerComment, "()") {
		return InvalidConfigurationf("owner comment must not contain parentheses")
	}
	return nil
}

// Render returns the unattended key generation parameter document
func (p *KeyParams) Render() string {
	var b strings.Builder
	line := func(key string, val any) {
		fmt.Fprintf(&b, "%s: %v\n", key, val)
	}

	line("Key-Type", p.KeyType)
	if p.KeyCurve != "" {
		line("Key-Curve", p.KeyCurve)
	} else {
		line("Key-Length", p.KeyLength)
	}
	if p.SubkeyType != "" {
		line("Subkey-Type", p.SubkeyType)
		if p.SubkeyCurve != "" {
			line("Subkey-Curve", p.SubkeyCurve)
		} else {
			line("Subkey-Length", p.SubkeyLength)
		}
	}
	line("Name-Real", p.OwnerName)
	if p.OwnerComment != "" {
		line("Name-Comment", p.OwnerComment)
	}
	line("Name-Email", p.OwnerEmail)

	expiry := p.Expiry
	if expiry == "" || expiry == ExpiryNever {
		expiry = "0"
	}
	line("Expire-Date", expiry)

	if !p.HasPassphrase() {
		b.WriteString("%no-protection\n")
	}
	b.WriteString("%commit\n")
	return b.String()
}

// ParameterFile is a rendered parameter document on disk
type ParameterFile struct {
	path     string
	released bool
}

// WriteParameterFile renders params into a new file in workDir.
// The caller must Release the returned file.
func WriteParameterFile(params *KeyParams, workDir string) (*ParameterFile, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(workDir, "gpg-parameters-*")
	if err != nil {
		return nil, directoryUnavailable(err, workDir)
	}
	pf := &ParameterFile{path: f.Name()}

	_, err = f.WriteString(params.Render())
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = pf.Release()
		return nil, errors.WithMessagef(err, "unable to write parameter file: %q", pf.path)
	}

	logger.KV(xlog.DEBUG, "parameter_file", pf.path)
	return pf, nil
}

// Path returns the location of the file
func (f *ParameterFile) Path() string {
	return f.path
}

// Release deletes the file. It is safe to call more than once.
func (f *ParameterFile) Release() error {
	if f == nil || f.released {
		return nil
	}
	f.released = true
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		logger.KV(xlog.WARNING, "reason", "remove_parameter_file", "file", f.path, "err", err.Error())
		return errors.WithStack(err)
	}
	return nil
}
