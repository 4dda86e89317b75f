package pipeline

import (
	"reflect"
	"strings"

	"github.com/effective-security/x/configloader"
	"github.com/effective-security/xgpg/gpg"
	"github.com/mitchellh/mapstructure"
)

var (
	homeDirType   = reflect.TypeOf((*gpg.HomeDir)(nil)).Elem()
	trustModeType = reflect.TypeOf(gpg.TrustMode(""))
)

// secretResolver is implemented by configurations holding secrets that may
// be given as file:// or env:// references
type secretResolver interface {
	resolveSecrets() error
}

// Decode decodes a parameter bag into a configuration struct.
// Keys are the snake_case names of the fields; unknown keys are rejected.
// home_directory accepts "temporary" or a path, and passphrase values
// may reference a file with file:// or an environment variable with env://.
func Decode(bag map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			homeDirHook,
			trustModeHook,
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return gpg.InvalidConfigurationf("%s", err.Error())
	}
	if err = dec.Decode(bag); err != nil {
		return gpg.InvalidConfigurationf("%s", err.Error())
	}
	if r, ok := out.(secretResolver); ok {
		if err = r.resolveSecrets(); err != nil {
			return err
		}
	}
	return nil
}

func homeDirHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != homeDirType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return gpg.ParseHomeDir(v), nil
	case map[string]any:
		// {temporary: <parent>} places an ephemeral home under parent
		if parent, ok := v[gpg.TemporaryHome].(string); ok && len(v) == 1 {
			return gpg.Ephemeral{Parent: parent}, nil
		}
		return nil, gpg.InvalidConfigurationf("unsupported home directory: %v", v)
	}
	return data, nil
}

func trustModeHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != trustModeType {
		return data, nil
	}
	if s, ok := data.(string); ok {
		return gpg.ParseTrustMode(s)
	}
	return data, nil
}

func resolveSecret(val string) (string, error) {
	if val == "" {
		return val, nil
	}
	s, err := configloader.ResolveValue(val)
	if err != nil {
		return "", gpg.InvalidConfigurationf("unable to load passphrase: %s", err.Error())
	}
	return TrimSecret(s), nil
}

// TrimSecret removes a single trailing line break left by a secret file
func TrimSecret(s string) string {
	if t, ok := strings.CutSuffix(s, "\n"); ok {
		return strings.TrimSuffix(t, "\r")
	}
	return s
}

func (c *GenerateConfig) resolveSecrets() (err error) {
	c.Passphrase, err = resolveSecret(c.Passphrase)
	return
}

func (c *DecryptConfig) resolveSecrets() (err error) {
	c.Passphrase, err = resolveSecret(c.Passphrase)
	return
}
