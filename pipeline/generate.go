package pipeline

import (
	"context"
	"time"

	"github.com/effective-security/xgpg/gpg"
	"github.com/effective-security/xlog"
)

// GenerateResult is returned by Generate
type GenerateResult struct {
	Fingerprint    string `json:"fingerprint"`
	PublicKeyPath  string `json:"public_key_path,omitempty"`
	PrivateKeyPath string `json:"private_key_path,omitempty"`
	// HomeDirectory is the keyring that holds the key, empty for an
	// ephemeral home
	HomeDirectory string `json:"home_directory,omitempty"`
}

// Generate generates a key and, if OutputDirectory is set, exports its
// public and private parts
func (p *Pipelines) Generate(ctx context.Context, cfg *GenerateConfig) (res *GenerateResult, err error) {
	defer measure("generate", time.Now(), &err)

	c, err := applyDefaults(&p.defaults, cfg)
	if err != nil {
		return nil, err
	}
	if err = c.validate(); err != nil {
		return nil, err
	}

	if err = gpg.EnsureDirectory(c.WorkDirectory); err != nil {
		return nil, err
	}

	logger.KV(xlog.NOTICE, "pipeline", "generate", "owner", c.OwnerName, "email", c.OwnerEmail)

	err = p.withHome(ctx, c.WorkDirectory, c.HomeDirectory, func(home *gpg.Home) error {
		fingerprint, err := p.generateKey(ctx, c, home)
		if err != nil {
			return err
		}
		logger.KV(xlog.NOTICE, "pipeline", "generate", "fingerprint", fingerprint)

		res = &GenerateResult{Fingerprint: fingerprint}
		if !home.Ephemeral() {
			res.HomeDirectory = home.Path()
		}
		if c.OutputDirectory == "" {
			return nil
		}
		return p.exportKey(ctx, c, home, res)
	})
	if err != nil {
		return nil, err
	}

	logger.KV(xlog.NOTICE, "pipeline", "generate", "status", "done", "fingerprint", res.Fingerprint)
	return res, nil
}

func (p *Pipelines) generateKey(ctx context.Context, c *GenerateConfig, home *gpg.Home) (string, error) {
	params := c.keyParams()
	pf, err := gpg.WriteParameterFile(params, c.WorkDirectory)
	if err != nil {
		return "", err
	}
	defer func() { _ = pf.Release() }()

	r, err := p.engine.GenerateKey(ctx, pf.Path(), home.Path(), c.WorkDirectory, params.Passphrase)
	if err != nil {
		return "", err
	}

	rec, err := r.Status.FirstOfKind(gpg.KindKeyCreated)
	if err != nil {
		return "", err
	}
	return rec.Fingerprint()
}

func (p *Pipelines) exportKey(ctx context.Context, c *GenerateConfig, home *gpg.Home, res *GenerateResult) error {
	logger.KV(xlog.NOTICE, "pipeline", "generate", "export", c.OutputDirectory)

	if err := gpg.EnsureDirectory(c.OutputDirectory); err != nil {
		return err
	}

	armor := boolValue(c.Armor, true)
	pub := c.publicKeyPath()
	_, err := p.engine.ExportPublicKey(ctx, &gpg.ExportRequest{
		Fingerprint: res.Fingerprint,
		OutputPath:  pub,
		HomeDir:     home.Path(),
		Armor:       armor,
	})
	if err != nil {
		return err
	}
	res.PublicKeyPath = pub

	priv := c.privateKeyPath()
	_, err = p.engine.ExportSecretKey(ctx, &gpg.ExportRequest{
		Fingerprint: res.Fingerprint,
		OutputPath:  priv,
		HomeDir:     home.Path(),
		Armor:       armor,
		Passphrase:  c.Passphrase,
	})
	if err != nil {
		return err
	}
	res.PrivateKeyPath = priv
	return nil
}
