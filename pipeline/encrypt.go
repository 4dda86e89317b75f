package pipeline

import (
	"context"
	"time"

	"github.com/effective-security/xgpg/gpg"
	"github.com/effective-security/xlog"
)

// EncryptResult is returned by Encrypt
type EncryptResult struct {
	// Recipient is the fingerprint of the key the file is encrypted for
	Recipient      string `json:"recipient"`
	OutputFilePath string `json:"output_file_path"`
}

// Encrypt encrypts a file for the key in KeyFilePath
func (p *Pipelines) Encrypt(ctx context.Context, cfg *EncryptConfig) (res *EncryptResult, err error) {
	defer measure("encrypt", time.Now(), &err)

	c, err := applyDefaults(&p.defaults, cfg)
	if err != nil {
		return nil, err
	}
	if err = c.validate(); err != nil {
		return nil, err
	}
	trust, _ := gpg.ParseTrustMode(string(c.TrustMode))

	if err = gpg.EnsureDirectory(c.WorkDirectory); err != nil {
		return nil, err
	}

	logger.KV(xlog.NOTICE, "pipeline", "encrypt", "input", c.InputFilePath, "key", c.KeyFilePath)

	err = p.withHome(ctx, c.WorkDirectory, c.HomeDirectory, func(home *gpg.Home) error {
		r, err := p.engine.ImportKeys(ctx, []string{c.KeyFilePath}, home.Path(), c.WorkDirectory)
		if err != nil {
			return err
		}
		rec, err := r.Status.FirstOfKind(gpg.KindImportOK)
		if err != nil {
			return err
		}
		recipient, err := rec.Fingerprint()
		if err != nil {
			return err
		}

		if err = gpg.EnsureParentDirectory(c.OutputFilePath); err != nil {
			return err
		}

		_, err = p.engine.Encrypt(ctx, &gpg.EncryptRequest{
			Recipient:  recipient,
			InputPath:  c.InputFilePath,
			OutputPath: c.OutputFilePath,
			HomeDir:    home.Path(),
			Armor:      boolValue(c.Armor, true),
			TrustMode:  trust,
		})
		if err != nil {
			return err
		}
		res = &EncryptResult{
			Recipient:      recipient,
			OutputFilePath: c.OutputFilePath,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.KV(xlog.NOTICE, "pipeline", "encrypt", "status", "done", "output", res.OutputFilePath)
	return res, nil
}
