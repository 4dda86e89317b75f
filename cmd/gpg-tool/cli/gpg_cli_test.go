package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/xgpg/gpg"
	"github.com/effective-security/xlog"
	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
	"golang.org/x/crypto/openpgp/packet"
)

func (s *testSuite) TestKeyImport() {
	cmd := KeyImportCmd{
		HomeFlags: HomeFlags{WorkDir: s.tmpdir},
		Files:     []string{"a.asc", "b.asc"},
	}
	err := cmd.Run(s.ctl)
	s.Require().NoError(err)
	s.HasText(`"fingerprints": [`, testFingerprint)
	s.Equal([]string{"import"}, s.engine.calls)

	home := filepath.Join(s.tmpdir, "keyring")
	s.Out.Reset()
	cmd.Home = home
	err = cmd.Run(s.ctl)
	s.Require().NoError(err)
	s.HasText(`"home_directory": "` + home + `"`)
	s.DirExists(home)
}

func (s *testSuite) TestKeyGenerate() {
	out := filepath.Join(s.tmpdir, "generate", "keys")
	cmd := KeyGenerateCmd{
		HomeFlags:  HomeFlags{WorkDir: s.tmpdir},
		Name:       "Amanda Greeves",
		Email:      "amanda.greeves@example.com",
		Out:        out,
		Prefix:     "amanda",
		Passphrase: "plain secret",
	}
	err := cmd.Run(s.ctl)
	s.Require().NoError(err)
	s.HasText(`"fingerprint": "`+testFingerprint+`"`, filepath.Join(out, "amanda.public"))
	s.HasNoText("plain secret")
	s.Equal([]string{"generate", "export_public", "export_secret"}, s.engine.calls)
	s.Equal([]string{"plain secret", "", "plain secret"}, s.engine.passes)
	s.FileExists(filepath.Join(out, "amanda.private"))

	cmd.Email = ""
	err = cmd.Run(s.ctl)
	s.Require().Error(err)
	s.True(errors.Is(err, gpg.ErrInvalidConfiguration))
}

func (s *testSuite) TestKeyGenerate_AskPassphrase() {
	s.ctl.WithReader(bytes.NewBufferString("typed secret\n"))
	defer s.ctl.WithReader(nil)

	cmd := KeyGenerateCmd{
		HomeFlags:     HomeFlags{WorkDir: s.tmpdir},
		Name:          "Amanda Greeves",
		Email:         "amanda.greeves@example.com",
		AskPassphrase: true,
	}
	err := cmd.Run(s.ctl)
	s.Require().NoError(err)
	s.Equal([]string{"typed secret"}, s.engine.passes)

	cmd.Passphrase = "x"
	err = cmd.Run(s.ctl)
	s.EqualError(err, "--passphrase and --ask-passphrase are mutually exclusive")
}

func (s *testSuite) TestPassphrase() {
	file := filepath.Join(s.tmpdir, "passphrase.txt")
	s.Require().NoError(os.WriteFile(file, []byte("from file\r\n"), 0o600))

	val, err := s.ctl.Passphrase("file://"+file, false)
	s.Require().NoError(err)
	s.Equal("from file", val)

	val, err = s.ctl.Passphrase("", false)
	s.Require().NoError(err)
	s.Empty(val)

	_, err = s.ctl.Passphrase("env://XGPG_CLI_UNSET_PASSPHRASE", false)
	s.EqualError(err, "unable to load passphrase: environment variable not set: XGPG_CLI_UNSET_PASSPHRASE")
}

func (s *testSuite) TestKeyInfo() {
	e, err := openpgp.NewEntity("Amanda Greeves", "", "amanda.greeves@example.com", &packet.Config{RSABits: 1024})
	s.Require().NoError(err)

	file := filepath.Join(s.tmpdir, "amanda.public")
	f, err := os.Create(file)
	s.Require().NoError(err)
	w, err := armor.Encode(f, openpgp.PublicKeyType, nil)
	s.Require().NoError(err)
	s.Require().NoError(e.Serialize(w))
	s.Require().NoError(w.Close())
	s.Require().NoError(f.Close())

	cmd := KeyInfoCmd{Files: []string{file}}
	err = cmd.Run(s.ctl)
	s.Require().NoError(err)
	s.HasText(`"algorithm": "RSA"`, `"bit_length": 1024`, `"name": "Amanda Greeves"`, `"email": "amanda.greeves@example.com"`, `"private": false`)

	cmd = KeyInfoCmd{Files: []string{"testdata/job.yaml"}}
	s.Error(cmd.Run(s.ctl))
}

func (s *testSuite) TestEncryptDecrypt() {
	out := filepath.Join(s.tmpdir, "crypt")
	enc := EncryptCmd{
		HomeFlags: HomeFlags{WorkDir: s.tmpdir},
		Key:       "amanda.public",
		In:        "testdata/job.yaml",
		Out:       filepath.Join(out, "job.gpg"),
	}
	err := enc.Run(s.ctl)
	s.Require().NoError(err)
	s.HasText(`"recipient": "`+testFingerprint+`"`, `"output_file_path": "`+enc.Out+`"`)

	s.T().Setenv("XGPG_CLI_PASSPHRASE", "from env")
	dec := DecryptCmd{
		HomeFlags:  HomeFlags{WorkDir: s.tmpdir},
		Key:        "amanda.private",
		In:         enc.Out,
		Out:        filepath.Join(out, "plain", "job.yaml"),
		Passphrase: "env://XGPG_CLI_PASSPHRASE",
	}
	err = dec.Run(s.ctl)
	s.Require().NoError(err)
	s.HasTextInFile(dec.Out, "decrypted")
	s.Equal([]string{"import", "encrypt", "import", "decrypt"}, s.engine.calls)
	s.Equal("from env", s.engine.passes[3])

	enc.Trust = "ultimate"
	err = enc.Run(s.ctl)
	s.Require().Error(err)
	s.True(errors.Is(err, gpg.ErrInvalidConfiguration))
}

func (s *testSuite) TestRun() {
	out := filepath.Join(s.tmpdir, "job")
	raw, err := os.ReadFile("testdata/job.yaml")
	s.Require().NoError(err)

	job := filepath.Join(s.tmpdir, "job.yaml")
	s.Require().NoError(os.WriteFile(job, []byte(strings.ReplaceAll(string(raw), "${OUT}", out)), 0o600))

	s.T().Setenv("XGPG_TEST_PASSPHRASE", "job secret")
	cmd := RunCmd{Job: job}
	err = cmd.Run(s.ctl)
	s.Require().NoError(err)
	s.HasText(`"step": "generate build key"`, `"step": "encrypt"`, `"step": "decrypt"`)
	s.Equal([]string{"generate", "export_public", "export_secret", "import", "encrypt", "import", "decrypt"}, s.engine.calls)
	s.Equal("job secret", s.engine.passes[6])
	s.FileExists(filepath.Join(out, "plain", "job.yaml"))
}

func (s *testSuite) TestRun_StopsOnFailure() {
	job := filepath.Join(s.tmpdir, "failing.yaml")
	s.Require().NoError(os.WriteFile(job, []byte(`
- operation: import
  key_file_path: a.asc
  work_directory: `+s.tmpdir+`
- operation: encrypt
  key_file_path: a.asc
- operation: import
  key_file_path: b.asc
`), 0o600))

	cmd := RunCmd{Job: job}
	err := cmd.Run(s.ctl)
	s.Require().Error(err)
	s.True(errors.Is(err, gpg.ErrInvalidConfiguration))
	s.Contains(err.Error(), `step 2 "encrypt" failed`)
	s.Equal([]string{"import"}, s.engine.calls)
	s.HasText(`"step": "import"`)
}

func (s *testSuite) TestRun_InvalidJob() {
	tcases := []struct {
		content string
		err     string
	}{
		{content: "steps: []", err: "no steps in job"},
		{content: "- operation: sign", err: `step 1: invalid configuration: unsupported step operation: "sign"`},
		{content: "[unterminated", err: "failed to decode job"},
	}
	for _, tc := range tcases {
		job := filepath.Join(s.tmpdir, "invalid.yaml")
		s.Require().NoError(os.WriteFile(job, []byte(tc.content), 0o600))

		cmd := RunCmd{Job: job}
		err := cmd.Run(s.ctl)
		s.Require().Error(err)
		s.Contains(err.Error(), tc.err)
		s.True(errors.Is(err, gpg.ErrInvalidConfiguration))
	}
	s.Empty(s.engine.calls)
}

func (s *testSuite) TestPipelines_Cfg() {
	c := &Cli{Cfg: "testdata/missing.yaml"}
	c.WithEngine(s.engine)
	_, err := c.Pipelines()
	s.Error(err)

	cfg := filepath.Join(s.tmpdir, "defaults.yaml")
	s.Require().NoError(os.WriteFile(cfg, []byte("work_directory: "+s.tmpdir+"\nname_prefix: build\n"), 0o600))
	c = &Cli{Cfg: cfg}
	c.WithEngine(s.engine)
	p, err := c.Pipelines()
	s.Require().NoError(err)
	s.Equal("build", p.Defaults().NamePrefix)
	s.Equal(s.tmpdir, p.Defaults().WorkDirectory)

	p2, err := c.Pipelines()
	s.Require().NoError(err)
	s.Same(p, p2)
}

func (s *testSuite) TestAfterApply() {
	defer xlog.SetGlobalLogLevel(xlog.ERROR)

	c := &Cli{LogLevel: "info"}
	s.NoError(c.AfterApply(&kong.Kong{}, kong.Vars{}))
	c = &Cli{Debug: true}
	s.NoError(c.AfterApply(&kong.Kong{}, kong.Vars{}))
	c = &Cli{LogLevel: "loud"}
	s.Error(c.AfterApply(&kong.Kong{}, kong.Vars{}))
}

func (s *testSuite) TestEngine() {
	c := &Cli{Gpg: "/opt/gnupg/bin/gpg", Gpgconf: "/opt/gnupg/bin/gpgconf"}
	e, ok := c.Engine().(*gpg.Engine)
	s.Require().True(ok)
	s.Equal("/opt/gnupg/bin/gpg", e.Binary())
}
