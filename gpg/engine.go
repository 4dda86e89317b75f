package gpg

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xgpg/metricskey"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xgpg", "gpg")

const (
	// DefaultBinary is the engine executable looked up in PATH
	DefaultBinary = "gpg"
	// DefaultAgentControl is the agent control executable looked up in PATH
	DefaultAgentControl = "gpgconf"

	// pipeDrainTimeout bounds reads of stdout, stderr and status after the
	// engine exits, in case a spawned daemon inherited a descriptor
	pipeDrainTimeout = 5 * time.Second
)

// Result is the outcome of a successful engine invocation
type Result struct {
	Operation Operation
	ExitCode  int
	Stdout    []byte
	Stderr    []byte
	Status    Status
}

// EncryptRequest specifies Encrypt parameters
type EncryptRequest struct {
	Recipient  string
	InputPath  string
	OutputPath string
	HomeDir    string
	Armor      bool
	TrustMode  TrustMode
}

// DecryptRequest specifies Decrypt parameters
type DecryptRequest struct {
	InputPath  string
	OutputPath string
	HomeDir    string
	TrustMode  TrustMode
	// Passphrase unlocks the secret key, optional
	Passphrase string
}

// ExportRequest specifies ExportPublicKey and ExportSecretKey parameters
type ExportRequest struct {
	Fingerprint string
	OutputPath  string
	HomeDir     string
	Armor       bool
	// Passphrase unlocks the secret key, used by ExportSecretKey only
	Passphrase string
}

// Engine invokes an external GnuPG compatible binary.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	binary       string
	agentControl string
	env          []string
}

// EngineOption configures Engine
type EngineOption func(*Engine)

// WithBinary sets the engine executable
func WithBinary(path string) EngineOption {
	return func(e *Engine) {
		if path != "" {
			e.binary = path
		}
	}
}

// WithAgentControl sets the gpgconf executable used to stop agents
func WithAgentControl(path string) EngineOption {
	return func(e *Engine) {
		if path != "" {
			e.agentControl = path
		}
	}
}

// WithEnv adds KEY=VALUE pairs to the engine environment
func WithEnv(kv ...string) EngineOption {
	return func(e *Engine) {
		e.env = append(e.env, kv...)
	}
}

// NewEngine returns Engine
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		binary:       DefaultBinary,
		agentControl: DefaultAgentControl,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Binary returns the engine executable
func (e *Engine) Binary() string {
	return e.binary
}

// Available returns true if the engine executable can be found
func (e *Engine) Available() bool {
	_, err := exec.LookPath(e.binary)
	return err == nil
}

// ImportKeys imports key files into the keyring at home
func (e *Engine) ImportKeys(ctx context.Context, paths []string, home, workDir string) (*Result, error) {
	if len(paths) == 0 {
		return nil, InvalidConfigurationf("at least one key file is required")
	}
	for _, p := range paths {
		if p == "" {
			return nil, InvalidConfigurationf("key file path is empty")
		}
	}
	return e.run(ctx, &invocation{
		operation: OpImport,
		args:      append([]string{"--import"}, paths...),
		workDir:   workDir,
		homeDir:   home,
		paths:     paths,
	})
}

// GenerateKey runs unattended key generation from parameterFile.
// passphrase, if not empty, protects the new key and must match the
// parameter file, rendered without %no-protection.
func (e *Engine) GenerateKey(ctx context.Context, parameterFile, home, workDir, passphrase string) (*Result, error) {
	if parameterFile == "" {
		return nil, InvalidConfigurationf("parameter file is required")
	}
	return e.run(ctx, &invocation{
		operation:  OpGenerate,
		args:       []string{"--generate-key", parameterFile},
		workDir:    workDir,
		homeDir:    home,
		passphrase: passphrase,
		paths:      []string{parameterFile},
	})
}

// Encrypt encrypts InputPath to OutputPath for Recipient
func (e *Engine) Encrypt(ctx context.Context, req *EncryptRequest) (*Result, error) {
	if req.Recipient == "" {
		return nil, InvalidConfigurationf("recipient is required")
	}
	if err := checkInOut(req.InputPath, req.OutputPath); err != nil {
		return nil, err
	}
	trust, err := trustArgs(req.TrustMode)
	if err != nil {
		return nil, err
	}
	if err := EnsureParentDirectory(req.OutputPath); err != nil {
		return nil, err
	}

	args := append(trust, armorArgs(req.Armor)...)
	args = append(args,
		"--yes",
		"--recipient", req.Recipient,
		"--output", req.OutputPath,
		"--encrypt", req.InputPath)

	return e.run(ctx, &invocation{
		operation: OpEncrypt,
		args:      args,
		homeDir:   req.HomeDir,
		paths:     []string{req.InputPath, req.OutputPath},
	})
}

// Decrypt decrypts InputPath to OutputPath
func (e *Engine) Decrypt(ctx context.Context, req *DecryptRequest) (*Result, error) {
	if err := checkInOut(req.InputPath, req.OutputPath); err != nil {
		return nil, err
	}
	trust, err := trustArgs(req.TrustMode)
	if err != nil {
		return nil, err
	}
	if err := EnsureParentDirectory(req.OutputPath); err != nil {
		return nil, err
	}

	args := append(trust,
		"--yes",
		"--output", req.OutputPath,
		"--decrypt", req.InputPath)

	return e.run(ctx, &invocation{
		operation:  OpDecrypt,
		args:       args,
		homeDir:    req.HomeDir,
		passphrase: req.Passphrase,
		paths:      []string{req.InputPath, req.OutputPath},
	})
}

// ExportPublicKey writes the public key to OutputPath
func (e *Engine) ExportPublicKey(ctx context.Context, req *ExportRequest) (*Result, error) {
	return e.export(ctx, OpExportPublic, "--export", req, "")
}

// ExportSecretKey writes the secret key to OutputPath
func (e *Engine) ExportSecretKey(ctx context.Context, req *ExportRequest) (*Result, error) {
	return e.export(ctx, OpExportSecret, "--export-secret-keys", req, req.Passphrase)
}

func (e *Engine) export(ctx context.Context, op Operation, command string, req *ExportRequest, passphrase string) (*Result, error) {
	if req.Fingerprint == "" {
		return nil, InvalidConfigurationf("fingerprint is required")
	}
	if req.OutputPath == "" {
		return nil, InvalidConfigurationf("output path is required")
	}
	if err := EnsureParentDirectory(req.OutputPath); err != nil {
		return nil, err
	}

	args := append(armorArgs(req.Armor),
		"--yes",
		"--output", req.OutputPath,
		command, req.Fingerprint)

	return e.run(ctx, &invocation{
		operation:  op,
		args:       args,
		homeDir:    req.HomeDir,
		passphrase: passphrase,
		paths:      []string{req.OutputPath},
	})
}

// StopAgent stops the gpg-agent serving home, if one is running
func (e *Engine) StopAgent(ctx context.Context, home string) error {
	if home == "" {
		return InvalidConfigurationf("home directory is required")
	}
	cmd := exec.CommandContext(ctx, e.agentControl, "--homedir", home, "--kill", "gpg-agent")
	cmd.Env = e.environ()
	cmd.WaitDelay = pipeDrainTimeout
	out, err := cmd.CombinedOutput()
	if err != nil {
		code := -1
		if cmd.ProcessState != nil {
			code = cmd.ProcessState.ExitCode()
		}
		return &EngineError{
			Operation: OpStopAgent,
			ExitCode:  code,
			Stderr:    stderrSnippet(out),
			Paths:     []string{home},
			cause:     err,
		}
	}
	return nil
}

func (e *Engine) environ() []string {
	env := os.Environ()
	env = append(env, e.env...)
	return env
}

func (e *Engine) run(ctx context.Context, inv *invocation) (*Result, error) {
	if inv.homeDir == "" {
		return nil, InvalidConfigurationf("home directory is required for %s", inv.operation)
	}

	defer metricskey.PerfEngineOperation.MeasureSince(time.Now(), e.binary, string(inv.operation))

	args := inv.commandLine()
	logger.KV(xlog.DEBUG, "operation", inv.operation, "binary", e.binary, "args", strings.Join(args, " "))

	statusR, statusW, err := os.Pipe()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer statusR.Close()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.binary, args...)
	cmd.Dir = inv.workDir
	cmd.Env = e.environ()
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.ExtraFiles = []*os.File{statusW}
	cmd.WaitDelay = pipeDrainTimeout
	if inv.passphrase != "" {
		cmd.Stdin = strings.NewReader(inv.passphrase + "\n")
	}

	if err = cmd.Start(); err != nil {
		_ = statusW.Close()
		return nil, &EngineError{
			Operation: inv.operation,
			ExitCode:  -1,
			Paths:     inv.paths,
			cause:     err,
		}
	}
	// the child owns its copy now
	_ = statusW.Close()

	statusCh := make(chan []byte, 1)
	go func() {
		// ReadAll returns what was read so far on deadline
		raw, _ := io.ReadAll(statusR)
		statusCh <- raw
	}()

	waitErr := cmd.Wait()
	_ = statusR.SetReadDeadline(time.Now().Add(pipeDrainTimeout))
	status := ParseStatus(<-statusCh)

	for _, r := range status {
		logger.KV(xlog.TRACE, "operation", inv.operation, "status", r.Kind, "fields", len(r.Fields))
	}

	exitCode := cmd.ProcessState.ExitCode()
	if waitErr != nil && !(errors.Is(waitErr, exec.ErrWaitDelay) && cmd.ProcessState.Success()) {
		logger.KV(xlog.DEBUG,
			"operation", inv.operation,
			"exit_code", exitCode,
			"err", waitErr.Error())
		return nil, &EngineError{
			Operation: inv.operation,
			ExitCode:  exitCode,
			Stderr:    stderrSnippet(stderr.Bytes()),
			Paths:     inv.paths,
			Status:    status,
			cause:     waitErr,
		}
	}

	return &Result{
		Operation: inv.operation,
		ExitCode:  exitCode,
		Stdout:    stdout.Bytes(),
		Stderr:    stderr.Bytes(),
		Status:    status,
	}, nil
}

func checkInOut(input, output string) error {
	if input == "" {
		return InvalidConfigurationf("input file path is required")
	}
	if output == "" {
		return InvalidConfigurationf("output file path is required")
	}
	return nil
}
