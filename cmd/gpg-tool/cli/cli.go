package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/configloader"
	"github.com/effective-security/x/ctl"
	"github.com/effective-security/x/print"
	"github.com/effective-security/xgpg/gpg"
	"github.com/effective-security/xgpg/pipeline"
	"github.com/effective-security/xlog"
	"golang.org/x/term"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xgpg", "cli")

// Cli provides CLI context to run commands
type Cli struct {
	Version ctl.VersionFlag `name:"version" help:"Print version information and quit" hidden:""`

	Cfg      string `help:"Location of YAML file with defaults" type:"existingfile"`
	Gpg      string `help:"GnuPG executable" default:"gpg"`
	Gpgconf  string `help:"gpgconf executable, used to stop agents of temporary homes" default:"gpgconf"`
	Debug    bool   `short:"D" help:"Enable debug mode"`
	LogLevel string `short:"l" help:"Set the logging level (debug|info|notice|warn|error)" default:"error"`

	// Stdin is the source to read from, typically set to os.Stdin
	stdin io.Reader
	// Output is the destination for all output from the command, typically set to os.Stdout
	output io.Writer
	// ErrOutput is the destinaton for errors.
	// If not set, errors will be written to os.StdError
	errOutput io.Writer

	ctx       context.Context
	engine    pipeline.Engine
	pipelines *pipeline.Pipelines
	lineIn    *bufio.Reader
}

// Context for requests
func (c *Cli) Context() context.Context {
	if c.ctx == nil {
		c.ctx = context.Background()
	}
	return c.ctx
}

// WithContext allows to specify a custom context
func (c *Cli) WithContext(ctx context.Context) *Cli {
	c.ctx = ctx
	return c
}

// Reader is the source to read from, typically set to os.Stdin
func (c *Cli) Reader() io.Reader {
	if c.stdin != nil {
		return c.stdin
	}
	return os.Stdin
}

// WithReader allows to specify a custom reader
func (c *Cli) WithReader(reader io.Reader) *Cli {
	c.stdin = reader
	c.lineIn = nil
	return c
}

// Writer returns a writer for control output
func (c *Cli) Writer() io.Writer {
	if c.output != nil {
		return c.output
	}
	return os.Stdout
}

// WithWriter allows to specify a custom writer
func (c *Cli) WithWriter(out io.Writer) *Cli {
	c.output = out
	return c
}

// ErrWriter returns a writer for control output
func (c *Cli) ErrWriter() io.Writer {
	if c.errOutput != nil {
		return c.errOutput
	}
	return os.Stderr
}

// WithErrWriter allows to specify a custom error writer
func (c *Cli) WithErrWriter(out io.Writer) *Cli {
	c.errOutput = out
	return c
}

// WithEngine allows to specify a custom engine
func (c *Cli) WithEngine(e pipeline.Engine) *Cli {
	c.engine = e
	c.pipelines = nil
	return c
}

// AfterApply hook sets the log level
func (c *Cli) AfterApply(_ *kong.Kong, _ kong.Vars) error {
	if c.Debug {
		xlog.SetGlobalLogLevel(xlog.DEBUG)
		return nil
	}

	val := strings.TrimLeft(c.LogLevel, "=")
	if val == "" {
		val = "error"
	}
	l, err := xlog.ParseLevel(strings.ToUpper(val))
	if err != nil {
		return errors.WithStack(err)
	}
	xlog.SetGlobalLogLevel(l)
	return nil
}

// Engine returns the GPG engine
func (c *Cli) Engine() pipeline.Engine {
	if c.engine == nil {
		c.engine = gpg.NewEngine(
			gpg.WithBinary(c.Gpg),
			gpg.WithAgentControl(c.Gpgconf),
		)
	}
	return c.engine
}

// Pipelines returns pipelines with defaults loaded from --cfg
func (c *Cli) Pipelines() (*pipeline.Pipelines, error) {
	if c.pipelines != nil {
		return c.pipelines, nil
	}

	var defaults *pipeline.Defaults
	if c.Cfg != "" {
		var err error
		defaults, err = pipeline.LoadDefaults(c.Cfg)
		if err != nil {
			return nil, err
		}
		logger.KV(xlog.DEBUG, "defaults", c.Cfg)
	}

	c.pipelines = pipeline.New(c.Engine(), defaults)
	return c.pipelines, nil
}

// WriteJSON prints response to out
func (c *Cli) WriteJSON(value any) {
	print.JSON(c.Writer(), value)
}

// Passphrase returns the passphrase from the flag value, which may use
// file:// or env:// schema, or prompts for it if ask is set
func (c *Cli) Passphrase(val string, ask bool) (string, error) {
	if ask {
		if val != "" {
			return "", errors.New("--passphrase and --ask-passphrase are mutually exclusive")
		}
		return c.ReadPassphrase("Passphrase: ")
	}
	if val == "" {
		return "", nil
	}
	s, err := configloader.ResolveValue(val)
	if err != nil {
		return "", errors.WithMessage(err, "unable to load passphrase")
	}
	return pipeline.TrimSecret(s), nil
}

// ReadPassphrase prompts on the terminal, or reads a line if the input
// is not a terminal
func (c *Cli) ReadPassphrase(prompt string) (string, error) {
	if f, ok := c.Reader().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(c.ErrWriter(), prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(c.ErrWriter())
		if err != nil {
			return "", errors.WithMessage(err, "unable to read passphrase")
		}
		return string(b), nil
	}

	if c.lineIn == nil {
		c.lineIn = bufio.NewReader(c.Reader())
	}
	line, err := c.lineIn.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", errors.WithMessage(err, "unable to read passphrase")
	}
	return strings.TrimRight(line, "\r\n"), nil
}
