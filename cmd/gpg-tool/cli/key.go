package cli

import (
	"github.com/effective-security/xgpg/gpg"
	"github.com/effective-security/xgpg/pipeline"
)

// KeyCmd specifies key commands
type KeyCmd struct {
	Import   KeyImportCmd   `cmd:"" help:"import key files into a keyring"`
	Generate KeyGenerateCmd `cmd:"" help:"generate a key and export it"`
	Info     KeyInfoCmd     `cmd:"" help:"print info about exported keys"`
}

// HomeFlags specifies the keyring location
type HomeFlags struct {
	Home    string `help:"GnuPG home: 'temporary' or path to a persistent keyring, temporary by default"`
	WorkDir string `help:"Work directory for temporary files"`
}

// homeDirectory returns nil if the flag is not set, so the default applies
func (f *HomeFlags) homeDirectory() gpg.HomeDir {
	if f.Home == "" {
		return nil
	}
	return gpg.ParseHomeDir(f.Home)
}

// KeyImportCmd imports keys
type KeyImportCmd struct {
	HomeFlags `embed:""`

	Files []string `kong:"arg" required:"" help:"key files to import"`
}

// Run the command
func (a *KeyImportCmd) Run(ctx *Cli) error {
	p, err := ctx.Pipelines()
	if err != nil {
		return err
	}

	res, err := p.Import(ctx.Context(), &pipeline.ImportConfig{
		KeyFilePaths:  a.Files,
		WorkDirectory: a.WorkDir,
		HomeDirectory: a.homeDirectory(),
	})
	if err != nil {
		return err
	}
	ctx.WriteJSON(res)
	return nil
}

// KeyGenerateCmd generates a key
type KeyGenerateCmd struct {
	HomeFlags `embed:""`

	Name         string `required:"" help:"owner name"`
	Email        string `required:"" help:"owner email"`
	Comment      string `help:"owner comment"`
	KeyType      string `help:"key type, RSA by default"`
	KeyLength    int    `help:"key length, 2048 by default"`
	KeyCurve     string `help:"key curve, instead of length for ECC keys"`
	SubkeyType   string `help:"subkey type, RSA by default"`
	SubkeyLength int    `help:"subkey length, 2048 by default"`
	SubkeyCurve  string `help:"subkey curve, instead of length for ECC keys"`
	Expiry       string `help:"key expiry: never, or 1y, 6m, 2w, 10d, or ISO date"`

	Out    string `help:"output folder for <prefix>.public and <prefix>.private exports"`
	Prefix string `help:"file name prefix of exported keys"`
	Armor  *bool  `help:"ASCII armored output, true by default"`

	Passphrase    string `help:"passphrase to protect the key, may use file:// or env:// schema"`
	AskPassphrase bool   `help:"prompt for the passphrase"`
}

// Run the command
func (a *KeyGenerateCmd) Run(ctx *Cli) error {
	p, err := ctx.Pipelines()
	if err != nil {
		return err
	}
	pass, err := ctx.Passphrase(a.Passphrase, a.AskPassphrase)
	if err != nil {
		return err
	}

	res, err := p.Generate(ctx.Context(), &pipeline.GenerateConfig{
		OwnerName:       a.Name,
		OwnerEmail:      a.Email,
		OwnerComment:    a.Comment,
		KeyType:         a.KeyType,
		KeyLength:       a.KeyLength,
		KeyCurve:        a.KeyCurve,
		SubkeyType:      a.SubkeyType,
		SubkeyLength:    a.SubkeyLength,
		SubkeyCurve:     a.SubkeyCurve,
		Expiry:          a.Expiry,
		Passphrase:      pass,
		OutputDirectory: a.Out,
		NamePrefix:      a.Prefix,
		Armor:           a.Armor,
		WorkDirectory:   a.WorkDir,
		HomeDirectory:   a.homeDirectory(),
	})
	if err != nil {
		return err
	}
	ctx.WriteJSON(res)
	return nil
}

// KeyInfoCmd prints key info
type KeyInfoCmd struct {
	Files []string `kong:"arg" required:"" help:"exported key files"`
}

// Run the command
func (a *KeyInfoCmd) Run(ctx *Cli) error {
	kr, err := gpg.KeyRingFromFiles(a.Files)
	if err != nil {
		return err
	}
	ctx.WriteJSON(gpg.DescribeKeys(kr))
	return nil
}
