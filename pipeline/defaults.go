package pipeline

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xgpg/gpg"
	"github.com/jinzhu/copier"
	"gopkg.in/yaml.v3"
)

// Default values
const (
	DefaultNamePrefix   = "gpg"
	DefaultKeyType      = "RSA"
	DefaultKeyLength    = 2048
	DefaultSubkeyType   = "RSA"
	DefaultSubkeyLength = 2048
)

// Defaults provides values for configuration fields left unset.
// Fields are matched by name with the pipeline configurations.
type Defaults struct {
	WorkDirectory string        `yaml:"work_directory" mapstructure:"work_directory"`
	HomeDirectory gpg.HomeDir   `yaml:"-" mapstructure:"home_directory"`
	TrustMode     gpg.TrustMode `yaml:"trust_mode" mapstructure:"trust_mode"`
	Armor         *bool         `yaml:"armor" mapstructure:"armor"`
	NamePrefix    string        `yaml:"name_prefix" mapstructure:"name_prefix"`

	KeyType      string `yaml:"key_type" mapstructure:"key_type"`
	KeyLength    int    `yaml:"key_length" mapstructure:"key_length"`
	SubkeyType   string `yaml:"subkey_type" mapstructure:"subkey_type"`
	SubkeyLength int    `yaml:"subkey_length" mapstructure:"subkey_length"`
	Expiry       string `yaml:"expiry" mapstructure:"expiry"`
}

// NewDefaults returns the built-in defaults: work directory in the system
// temp folder, ephemeral home under the work directory, trust mode always,
// armored output, RSA 2048 key and subkey that never expire.
func NewDefaults() Defaults {
	armor := true
	return Defaults{
		WorkDirectory: os.TempDir(),
		HomeDirectory: gpg.Ephemeral{},
		TrustMode:     gpg.DefaultTrustMode,
		Armor:         &armor,
		NamePrefix:    DefaultNamePrefix,
		KeyType:       DefaultKeyType,
		KeyLength:     DefaultKeyLength,
		SubkeyType:    DefaultSubkeyType,
		SubkeyLength:  DefaultSubkeyLength,
		Expiry:        gpg.ExpiryNever,
	}
}

// LoadDefaults returns the built-in defaults overridden by the values
// from a YAML file
func LoadDefaults(file string) (*Defaults, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	bag := map[string]any{}
	if err = yaml.Unmarshal(raw, &bag); err != nil {
		return nil, errors.Mark(
			errors.WithMessagef(err, "failed to decode file: %s", file),
			gpg.ErrInvalidConfiguration)
	}

	var override Defaults
	if err = Decode(bag, &override); err != nil {
		return nil, errors.WithMessagef(err, "failed to decode file: %s", file)
	}

	d := NewDefaults()
	if err = copier.CopyWithOption(&d, &override, copier.Option{IgnoreEmpty: true}); err != nil {
		return nil, errors.WithStack(err)
	}
	if _, err = gpg.ParseTrustMode(string(d.TrustMode)); err != nil {
		return nil, err
	}
	return &d, nil
}

// applyDefaults returns a copy of cfg where unset fields take values from d
func applyDefaults[T any](d *Defaults, cfg *T) (*T, error) {
	merged := new(T)
	if err := copier.Copy(merged, d); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := copier.CopyWithOption(merged, cfg, copier.Option{IgnoreEmpty: true}); err != nil {
		return nil, errors.WithStack(err)
	}
	return merged, nil
}
