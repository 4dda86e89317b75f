package pipeline

import (
	"context"
	"time"

	"github.com/effective-security/xgpg/gpg"
	"github.com/effective-security/xlog"
)

// DecryptResult is returned by Decrypt
type DecryptResult struct {
	// Fingerprints of the imported keys
	Fingerprints   []string `json:"fingerprints,omitempty"`
	OutputFilePath string   `json:"output_file_path"`
}

// Decrypt decrypts a file with the key in KeyFilePath
func (p *Pipelines) Decrypt(ctx context.Context, cfg *DecryptConfig) (res *DecryptResult, err error) {
	defer measure("decrypt", time.Now(), &err)

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

	logger.KV(xlog.NOTICE, "pipeline", "decrypt", "input", c.InputFilePath, "key", c.KeyFilePath)

	err = p.withHome(ctx, c.WorkDirectory, c.HomeDirectory, func(home *gpg.Home) error {
		r, err := p.engine.ImportKeys(ctx, []string{c.KeyFilePath}, home.Path(), c.WorkDirectory)
		if err != nil {
			return err
		}
		fps, err := r.Status.Fingerprints(gpg.KindImportOK)
		if err != nil {
			return err
		}

		if err = gpg.EnsureParentDirectory(c.OutputFilePath); err != nil {
			return err
		}

		_, err = p.engine.Decrypt(ctx, &gpg.DecryptRequest{
			InputPath:  c.InputFilePath,
			OutputPath: c.OutputFilePath,
			HomeDir:    home.Path(),
			TrustMode:  trust,
			Passphrase: c.Passphrase,
		})
		if err != nil {
			return err
		}
		res = &DecryptResult{
			Fingerprints:   fps,
			OutputFilePath: c.OutputFilePath,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.KV(xlog.NOTICE, "pipeline", "decrypt", "status", "done", "output", res.OutputFilePath)
	return res, nil
}
