package pipeline

import (
	"context"
	"time"

	"github.com/effective-security/xgpg/gpg"
	"github.com/effective-security/xlog"
)

// ImportResult is returned by Import
type ImportResult struct {
	// Fingerprints of the keys reported by IMPORT_OK, in order
	Fingerprints []string           `json:"fingerprints,omitempty"`
	Summary      *gpg.ImportSummary `json:"summary,omitempty"`
	// HomeDirectory is the keyring that received the keys, empty for an
	// ephemeral home
	HomeDirectory string `json:"home_directory,omitempty"`
}

// Import imports key files into a home directory
func (p *Pipelines) Import(ctx context.Context, cfg *ImportConfig) (res *ImportResult, err error) {
	defer measure("import", time.Now(), &err)

	c, err := applyDefaults(&p.defaults, cfg)
	if err != nil {
		return nil, err
	}
	if err = c.validate(); err != nil {
		return nil, err
	}

	keys := c.keyFiles()
	if err = gpg.EnsureDirectory(c.WorkDirectory); err != nil {
		return nil, err
	}

	logger.KV(xlog.NOTICE, "pipeline", "import", "keys", keys, "home", c.HomeDirectory.String())

	err = p.withHome(ctx, c.WorkDirectory, c.HomeDirectory, func(home *gpg.Home) error {
		r, err := p.engine.ImportKeys(ctx, keys, home.Path(), c.WorkDirectory)
		if err != nil {
			return err
		}
		res, err = importResult(r.Status)
		if err != nil {
			return err
		}
		if !home.Ephemeral() {
			res.HomeDirectory = home.Path()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.KV(xlog.NOTICE, "pipeline", "import", "status", "done", "fingerprints", res.Fingerprints)
	return res, nil
}

func importResult(status gpg.Status) (*ImportResult, error) {
	fps, err := status.Fingerprints(gpg.KindImportOK)
	if err != nil {
		return nil, err
	}
	res := &ImportResult{Fingerprints: fps}
	if rec, err := status.FirstOfKind(gpg.KindImportRes); err == nil {
		res.Summary, err = rec.ImportSummary()
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}
