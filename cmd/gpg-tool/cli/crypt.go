package cli

import (
	"github.com/effective-security/xgpg/gpg"
	"github.com/effective-security/xgpg/pipeline"
)

// EncryptCmd encrypts a file
type EncryptCmd struct {
	HomeFlags `embed:""`

	Key   string `required:"" help:"public key file of the recipient"`
	In    string `required:"" help:"file to encrypt"`
	Out   string `required:"" help:"encrypted file"`
	Armor *bool  `help:"ASCII armored output, true by default"`
	Trust string `help:"trust model: always, direct, pgp, classic, tofu, tofu+pgp or auto"`
}

// Run the command
func (a *EncryptCmd) Run(ctx *Cli) error {
	p, err := ctx.Pipelines()
	if err != nil {
		return err
	}
	res, err := p.Encrypt(ctx.Context(), &pipeline.EncryptConfig{
		KeyFilePath:    a.Key,
		InputFilePath:  a.In,
		OutputFilePath: a.Out,
		Armor:          a.Armor,
		TrustMode:      gpg.TrustMode(a.Trust),
		WorkDirectory:  a.WorkDir,
		HomeDirectory:  a.homeDirectory(),
	})
	if err != nil {
		return err
	}
	ctx.WriteJSON(res)
	return nil
}

// DecryptCmd decrypts a file
type DecryptCmd struct {
	HomeFlags `embed:""`

	Key   string `required:"" help:"private key file"`
	In    string `required:"" help:"file to decrypt"`
	Out   string `required:"" help:"decrypted file"`
	Trust string `help:"trust model: always, direct, pgp, classic, tofu, tofu+pgp or auto"`

	Passphrase    string `help:"passphrase of the private key, may use file:// or env:// schema"`
	AskPassphrase bool   `help:"prompt for the passphrase"`
}

// Run the command
func (a *DecryptCmd) Run(ctx *Cli) error {
	p, err := ctx.Pipelines()
	if err != nil {
		return err
	}
	pass, err := ctx.Passphrase(a.Passphrase, a.AskPassphrase)
	if err != nil {
		return err
	}

	res, err := p.Decrypt(ctx.Context(), &pipeline.DecryptConfig{
		KeyFilePath:    a.Key,
		InputFilePath:  a.In,
		OutputFilePath: a.Out,
		TrustMode:      gpg.TrustMode(a.Trust),
		Passphrase:     pass,
		WorkDirectory:  a.WorkDir,
		HomeDirectory:  a.homeDirectory(),
	})
	if err != nil {
		return err
	}
	ctx.WriteJSON(res)
	return nil
}
