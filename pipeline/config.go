package pipeline

import (
	"path/filepath"
	"strings"

	"github.com/effective-security/xgpg/gpg"
)

// ImportConfig configures the Import pipeline
type ImportConfig struct {
	// KeyFilePath is a single key file to import
	KeyFilePath string `json:"key_file_path,omitempty" yaml:"key_file_path" mapstructure:"key_file_path"`
	// KeyFilePaths are additional key files to import
	KeyFilePaths []string `json:"key_file_paths,omitempty" yaml:"key_file_paths" mapstructure:"key_file_paths"`

	WorkDirectory string      `json:"work_directory,omitempty" yaml:"work_directory" mapstructure:"work_directory"`
	HomeDirectory gpg.HomeDir `json:"-" yaml:"-" mapstructure:"home_directory"`
}

// GenerateConfig configures the Generate pipeline
type GenerateConfig struct {
	OwnerName    string `json:"owner_name,omitempty" yaml:"owner_name" mapstructure:"owner_name"`
	OwnerEmail   string `json:"owner_email,omitempty" yaml:"owner_email" mapstructure:"owner_email"`
	OwnerComment string `json:"owner_comment,omitempty" yaml:"owner_comment" mapstructure:"owner_comment"`

	KeyType      string `json:"key_type,omitempty" yaml:"key_type" mapstructure:"key_type"`
	KeyLength    int    `json:"key_length,omitempty" yaml:"key_length" mapstructure:"key_length"`
	KeyCurve     string `json:"key_curve,omitempty" yaml:"key_curve" mapstructure:"key_curve"`
	SubkeyType   string `json:"subkey_type,omitempty" yaml:"subkey_type" mapstructure:"subkey_type"`
	SubkeyLength int    `json:"subkey_length,omitempty" yaml:"subkey_length" mapstructure:"subkey_length"`
	SubkeyCurve  string `json:"subkey_curve,omitempty" yaml:"subkey_curve" mapstructure:"subkey_curve"`
	Expiry       string `json:"expiry,omitempty" yaml:"expiry" mapstructure:"expiry"`
	Passphrase   string `json:"-" yaml:"passphrase" mapstructure:"passphrase"`

	// OutputDirectory, if set, receives <NamePrefix>.public and
	// <NamePrefix>.private exports of the generated key
	OutputDirectory string `json:"output_directory,omitempty" yaml:"output_directory" mapstructure:"output_directory"`
	NamePrefix      string `json:"name_prefix,omitempty" yaml:"name_prefix" mapstructure:"name_prefix"`
	Armor           *bool  `json:"armor,omitempty" yaml:"armor" mapstructure:"armor"`

	WorkDirectory string      `json:"work_directory,omitempty" yaml:"work_directory" mapstructure:"work_directory"`
	HomeDirectory gpg.HomeDir `json:"-" yaml:"-" mapstructure:"home_directory"`
}

// EncryptConfig configures the Encrypt pipeline
type EncryptConfig struct {
	KeyFilePath    string        `json:"key_file_path,omitempty" yaml:"key_file_path" mapstructure:"key_file_path"`
	InputFilePath  string        `json:"input_file_path,omitempty" yaml:"input_file_path" mapstructure:"input_file_path"`
	OutputFilePath string        `json:"output_file_path,omitempty" yaml:"output_file_path" mapstructure:"output_file_path"`
	Armor          *bool         `json:"armor,omitempty" yaml:"armor" mapstructure:"armor"`
	TrustMode      gpg.TrustMode `json:"trust_mode,omitempty" yaml:"trust_mode" mapstructure:"trust_mode"`

	WorkDirectory string      `json:"work_directory,omitempty" yaml:"work_directory" mapstructure:"work_directory"`
	HomeDirectory gpg.HomeDir `json:"-" yaml:"-" mapstructure:"home_directory"`
}

// DecryptConfig configures the Decrypt pipeline
type DecryptConfig struct {
	KeyFilePath    string        `json:"key_file_path,omitempty" yaml:"key_file_path" mapstructure:"key_file_path"`
	InputFilePath  string        `json:"input_file_path,omitempty" yaml:"input_file_path" mapstructure:"input_file_path"`
	OutputFilePath string        `json:"output_file_path,omitempty" yaml:"output_file_path" mapstructure:"output_file_path"`
	TrustMode      gpg.TrustMode `json:"trust_mode,omitempty" yaml:"trust_mode" mapstructure:"trust_mode"`
	Passphrase     string        `json:"-" yaml:"passphrase" mapstructure:"passphrase"`

	WorkDirectory string      `json:"work_directory,omitempty" yaml:"work_directory" mapstructure:"work_directory"`
	HomeDirectory gpg.HomeDir `json:"-" yaml:"-" mapstructure:"home_directory"`
}

func (c *ImportConfig) keyFiles() []string {
	var list []string
	if c.KeyFilePath != "" {
		list = append(list, c.KeyFilePath)
	}
	for _, p := range c.KeyFilePaths {
		if p != "" {
			list = append(list, p)
		}
	}
	return list
}

func (c *ImportConfig) validate() error {
	if len(c.keyFiles()) == 0 {
		return gpg.InvalidConfigurationf("key file path is required")
	}
	return validateDirs(c.WorkDirectory, c.HomeDirectory)
}

func (c *GenerateConfig) keyParams() *gpg.KeyParams {
	return &gpg.KeyParams{
		OwnerName:    c.OwnerName,
		OwnerEmail:   c.OwnerEmail,
		OwnerComment: c.OwnerComment,
		KeyType:      c.KeyType,
		KeyLength:    c.KeyLength,
		KeyCurve:     c.KeyCurve,
		SubkeyType:   c.SubkeyType,
		SubkeyLength: c.SubkeyLength,
		SubkeyCurve:  c.SubkeyCurve,
		Expiry:       c.Expiry,
		Passphrase:   c.Passphrase,
	}
}

func (c *GenerateConfig) validate() error {
	if err := c.keyParams().Validate(); err != nil {
		return err
	}
	if c.OutputDirectory != "" {
		if c.NamePrefix == "" {
			return gpg.InvalidConfigurationf("name prefix is required with output directory")
		}
		if strings.ContainsAny(c.NamePrefix, `/\`) {
			return gpg.InvalidConfigurationf("name prefix must not contain path separators: %q", c.NamePrefix)
		}
	}
	return validateDirs(c.WorkDirectory, c.HomeDirectory)
}

func (c *GenerateConfig) publicKeyPath() string {
	return filepath.Join(c.OutputDirectory, c.NamePrefix+".public")
}

func (c *GenerateConfig) privateKeyPath() string {
	return filepath.Join(c.OutputDirectory, c.NamePrefix+".private")
}

func (c *EncryptConfig) validate() error {
	if err := requireFiles(c.KeyFilePath, c.InputFilePath, c.OutputFilePath); err != nil {
		return err
	}
	if _, err := gpg.ParseTrustMode(string(c.TrustMode)); err != nil {
		return err
	}
	return validateDirs(c.WorkDirectory, c.HomeDirectory)
}

func (c *DecryptConfig) validate() error {
	if err := requireFiles(c.KeyFilePath, c.InputFilePath, c.OutputFilePath); err != nil {
		return err
	}
	if _, err := gpg.ParseTrustMode(string(c.TrustMode)); err != nil {
		return err
	}
	return validateDirs(c.WorkDirectory, c.HomeDirectory)
}

func requireFiles(key, input, output string) error {
	if key == "" {
		return gpg.InvalidConfigurationf("key file path is required")
	}
	if input == "" {
		return gpg.InvalidConfigurationf("input file path is required")
	}
	if output == "" {
		return gpg.InvalidConfigurationf("output file path is required")
	}
	return nil
}

func validateDirs(workDir string, home gpg.HomeDir) error {
	if workDir == "" {
		return gpg.InvalidConfigurationf("work directory is required")
	}
	if p, ok := home.(gpg.Persistent); ok && p.Path == "" {
		return gpg.InvalidConfigurationf("persistent home directory requires a path")
	}
	return nil
}

func boolValue(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
