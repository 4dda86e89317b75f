package pipeline

import (
	"context"
	"time"

	"github.com/effective-security/xgpg/gpg"
	"github.com/effective-security/xgpg/metricskey"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xgpg", "pipeline")

// Engine is the GPG engine used by pipelines, implemented by *gpg.Engine
type Engine interface {
	ImportKeys(ctx context.Context, paths []string, home, workDir string) (*gpg.Result, error)
	GenerateKey(ctx context.Context, parameterFile, home, workDir, passphrase string) (*gpg.Result, error)
	Encrypt(ctx context.Context, req *gpg.EncryptRequest) (*gpg.Result, error)
	Decrypt(ctx context.Context, req *gpg.DecryptRequest) (*gpg.Result, error)
	ExportPublicKey(ctx context.Context, req *gpg.ExportRequest) (*gpg.Result, error)
	ExportSecretKey(ctx context.Context, req *gpg.ExportRequest) (*gpg.Result, error)
	StopAgent(ctx context.Context, home string) error
}

// Pipelines runs GPG workflows.
// It holds only immutable state and is safe for concurrent use.
type Pipelines struct {
	engine   Engine
	defaults Defaults
}

// New returns Pipelines. If defaults is nil, NewDefaults is used.
func New(engine Engine, defaults *Defaults) *Pipelines {
	d := NewDefaults()
	if defaults != nil {
		d = *defaults
	}
	return &Pipelines{
		engine:   engine,
		defaults: d,
	}
}

// Defaults returns the defaults applied to configurations
func (p *Pipelines) Defaults() Defaults {
	return p.defaults
}

// withHome resolves the home directory, runs fn and releases the home
// directory whatever fn returns
func (p *Pipelines) withHome(ctx context.Context, workDir string, dir gpg.HomeDir, fn func(home *gpg.Home) error) error {
	home, err := gpg.ResolveHome(dir, workDir)
	if err != nil {
		return err
	}
	defer p.release(ctx, home)

	return fn(home)
}

func (p *Pipelines) release(ctx context.Context, home *gpg.Home) {
	if home.Ephemeral() {
		// the agent must not outlive its keyring
		if err := p.engine.StopAgent(context.WithoutCancel(ctx), home.Path()); err != nil {
			logger.KV(xlog.WARNING, "reason", "stop_agent", "home", home.Path(), "err", err.Error())
		}
	}
	if err := home.Release(); err != nil {
		logger.KV(xlog.WARNING, "reason", "release", "home", home.Path(), "err", err.Error())
	}
}

func measure(pipeline string, started time.Time, err *error) {
	status := "ok"
	if *err != nil {
		status = "failed"
	}
	metricskey.PerfPipeline.MeasureSince(started, pipeline, status)
}
