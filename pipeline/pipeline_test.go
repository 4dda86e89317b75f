package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xgpg/gpg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFingerprint = "0A1B2C3D4E5F60718293A4B5C6D7E8F901234567"

// fakeEngine records calls and checks that the home directory exists
// while the engine runs
type fakeEngine struct {
	t *testing.T

	lock     sync.Mutex
	calls    []gpg.Operation
	homes    []string
	params   string
	passes   []string
	failOn   gpg.Operation
	noStatus bool
	stopped  []string
}

func (f *fakeEngine) record(op gpg.Operation, home, passphrase string) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	assert.DirExists(f.t, home, "home must exist during %s", op)
	f.calls = append(f.calls, op)
	f.homes = append(f.homes, home)
	f.passes = append(f.passes, passphrase)
	if op == f.failOn {
		return &gpg.EngineError{Operation: op, ExitCode: 2, Stderr: "gpg: failed"}
	}
	return nil
}

func (f *fakeEngine) status(line string) gpg.Status {
	if f.noStatus {
		return gpg.ParseStatus([]byte("[GNUPG:] KEY_CONSIDERED " + testFingerprint + " 0\n"))
	}
	return gpg.ParseStatus([]byte(line))
}

func (f *fakeEngine) ImportKeys(_ context.Context, paths []string, home, _ string) (*gpg.Result, error) {
	if err := f.record(gpg.OpImport, home, ""); err != nil {
		return nil, err
	}
	var st string
	for range paths {
		st += "[GNUPG:] IMPORT_OK 1 " + testFingerprint + "\n"
	}
	st += "[GNUPG:] IMPORT_RES 1 0 1 0 0 0 0 0 0 0 0 0 0 0\n"
	return &gpg.Result{Operation: gpg.OpImport, Status: f.status(st)}, nil
}

func (f *fakeEngine) GenerateKey(_ context.Context, parameterFile, home, _, passphrase string) (*gpg.Result, error) {
	b, err := os.ReadFile(parameterFile)
	require.NoError(f.t, err)
	f.params = string(b)

	if err := f.record(gpg.OpGenerate, home, passphrase); err != nil {
		return nil, err
	}
	return &gpg.Result{Operation: gpg.OpGenerate, Status: f.status("[GNUPG:] KEY_CREATED B " + testFingerprint + "\n")}, nil
}

func (f *fakeEngine) Encrypt(_ context.Context, req *gpg.EncryptRequest) (*gpg.Result, error) {
	assert.Equal(f.t, testFingerprint, req.Recipient)
	if err := f.record(gpg.OpEncrypt, req.HomeDir, ""); err != nil {
		return nil, err
	}
	return &gpg.Result{Operation: gpg.OpEncrypt}, writeOutput(req.OutputPath)
}

func (f *fakeEngine) Decrypt(_ context.Context, req *gpg.DecryptRequest) (*gpg.Result, error) {
	if err := f.record(gpg.OpDecrypt, req.HomeDir, req.Passphrase); err != nil {
		return nil, err
	}
	return &gpg.Result{Operation: gpg.OpDecrypt}, writeOutput(req.OutputPath)
}

func (f *fakeEngine) ExportPublicKey(_ context.Context, req *gpg.ExportRequest) (*gpg.Result, error) {
	if err := f.record(gpg.OpExportPublic, req.HomeDir, ""); err != nil {
		return nil, err
	}
	return &gpg.Result{Operation: gpg.OpExportPublic}, writeOutput(req.OutputPath)
}

func (f *fakeEngine) ExportSecretKey(_ context.Context, req *gpg.ExportRequest) (*gpg.Result, error) {
	if err := f.record(gpg.OpExportSecret, req.HomeDir, req.Passphrase); err != nil {
		return nil, err
	}
	return &gpg.Result{Operation: gpg.OpExportSecret}, writeOutput(req.OutputPath)
}

func (f *fakeEngine) StopAgent(_ context.Context, home string) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.stopped = append(f.stopped, home)
	return nil
}

func writeOutput(path string) error {
	// the pipeline creates the parent folder before the engine runs
	return os.WriteFile(path, []byte("output"), 0o600)
}

func newTestPipelines(t *testing.T) (*Pipelines, *fakeEngine, string) {
	work := t.TempDir()
	f := &fakeEngine{t: t}
	d := NewDefaults()
	d.WorkDirectory = work
	return New(f, &d), f, work
}

func assertHomesReleased(t *testing.T, f *fakeEngine) {
	t.Helper()
	require.NotEmpty(t, f.homes)
	for _, h := range f.homes {
		assert.NoDirExists(t, h)
	}
	assert.Contains(t, f.stopped, f.homes[0])
}

func keyFile(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "key.asc")
	require.NoError(t, os.WriteFile(path, []byte("key"), 0o600))
	return path
}

func TestNew(t *testing.T) {
	p := New(&fakeEngine{t: t}, nil)
	assert.Equal(t, NewDefaults(), p.Defaults())
}

func TestImport(t *testing.T) {
	p, f, work := newTestPipelines(t)

	res, err := p.Import(context.Background(), &ImportConfig{
		KeyFilePath:  "a.asc",
		KeyFilePaths: []string{"b.asc", ""},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{testFingerprint, testFingerprint}, res.Fingerprints)
	require.NotNil(t, res.Summary)
	assert.Equal(t, 1, res.Summary.Imported)
	assert.Empty(t, res.HomeDirectory)

	assert.Equal(t, []gpg.Operation{gpg.OpImport}, f.calls)
	assert.Equal(t, work, filepath.Dir(f.homes[0]))
	assertHomesReleased(t, f)
}

func TestImport_Persistent(t *testing.T) {
	p, f, _ := newTestPipelines(t)
	home := filepath.Join(t.TempDir(), "gnupg")

	res, err := p.Import(context.Background(), &ImportConfig{
		KeyFilePath:   "a.asc",
		HomeDirectory: gpg.Persistent{Path: home},
	})
	require.NoError(t, err)
	assert.Equal(t, home, res.HomeDirectory)
	assert.Equal(t, []string{home}, f.homes)
	assert.DirExists(t, home)
	assert.Empty(t, f.stopped)
}

func TestImport_Failure(t *testing.T) {
	p, f, _ := newTestPipelines(t)
	f.failOn = gpg.OpImport

	_, err := p.Import(context.Background(), &ImportConfig{KeyFilePath: "a.asc"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, gpg.ErrEngineInvocationFailed))
	assertHomesReleased(t, f)
}

func TestGenerate(t *testing.T) {
	p, f, _ := newTestPipelines(t)
	out := filepath.Join(t.TempDir(), "keys", "amanda")

	res, err := p.Generate(context.Background(), &GenerateConfig{
		OwnerName:       "Amanda Greeves",
		OwnerEmail:      "amanda.greeves@example.com",
		OutputDirectory: out,
		NamePrefix:      "amanda",
	})
	require.NoError(t, err)
	assert.Equal(t, testFingerprint, res.Fingerprint)
	assert.Equal(t, filepath.Join(out, "amanda.public"), res.PublicKeyPath)
	assert.Equal(t, filepath.Join(out, "amanda.private"), res.PrivateKeyPath)
	assert.FileExists(t, res.PublicKeyPath)
	assert.FileExists(t, res.PrivateKeyPath)

	assert.Equal(t, []gpg.Operation{gpg.OpGenerate, gpg.OpExportPublic, gpg.OpExportSecret}, f.calls)
	// one home for the whole run
	assert.Equal(t, f.homes[0], f.homes[1])
	assert.Equal(t, f.homes[0], f.homes[2])
	assertHomesReleased(t, f)

	// defaults applied
	assert.Contains(t, f.params, "Key-Type: RSA\nKey-Length: 2048\nSubkey-Type: RSA\nSubkey-Length: 2048\n")
	assert.Contains(t, f.params, "Expire-Date: 0\n%no-protection\n")
}

func TestGenerate_NoExport(t *testing.T) {
	p, f, work := newTestPipelines(t)

	res, err := p.Generate(context.Background(), &GenerateConfig{
		OwnerName:  "Amanda Greeves",
		OwnerEmail: "amanda.greeves@example.com",
		Passphrase: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, testFingerprint, res.Fingerprint)
	assert.Empty(t, res.PublicKeyPath)
	assert.Equal(t, []gpg.Operation{gpg.OpGenerate}, f.calls)
	assert.Equal(t, []string{"secret"}, f.passes)
	assert.NotContains(t, f.params, "secret")
	assert.NotContains(t, f.params, "%no-protection")

	// parameter file and home are gone
	entries, err := os.ReadDir(work)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGenerate_Passphrase_Export(t *testing.T) {
	p, f, _ := newTestPipelines(t)

	_, err := p.Generate(context.Background(), &GenerateConfig{
		OwnerName:       "Amanda Greeves",
		OwnerEmail:      "amanda.greeves@example.com",
		Passphrase:      "secret",
		OutputDirectory: t.TempDir(),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"secret", "", "secret"}, f.passes)
}

func TestGenerate_MissingKeyCreated(t *testing.T) {
	p, f, work := newTestPipelines(t)
	f.noStatus = true

	_, err := p.Generate(context.Background(), &GenerateConfig{
		OwnerName:       "Amanda Greeves",
		OwnerEmail:      "amanda.greeves@example.com",
		OutputDirectory: filepath.Join(work, "out"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, gpg.ErrExpectedStatusRecordMissing))
	assert.Equal(t, []gpg.Operation{gpg.OpGenerate}, f.calls)
	assert.NoDirExists(t, filepath.Join(work, "out"))
	assertHomesReleased(t, f)
}

func TestGenerate_ExportFailure(t *testing.T) {
	p, f, _ := newTestPipelines(t)
	f.failOn = gpg.OpExportSecret

	_, err := p.Generate(context.Background(), &GenerateConfig{
		OwnerName:       "Amanda Greeves",
		OwnerEmail:      "amanda.greeves@example.com",
		OutputDirectory: t.TempDir(),
	})
	require.Error(t, err)
	var ee *gpg.EngineError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, gpg.OpExportSecret, ee.Operation)
	assertHomesReleased(t, f)
}

func TestEncrypt(t *testing.T) {
	p, f, _ := newTestPipelines(t)
	out := filepath.Join(t.TempDir(), "a", "b", "message.gpg")

	res, err := p.Encrypt(context.Background(), &EncryptConfig{
		KeyFilePath:    keyFile(t),
		InputFilePath:  "message.txt",
		OutputFilePath: out,
	})
	require.NoError(t, err)
	assert.Equal(t, testFingerprint, res.Recipient)
	assert.Equal(t, out, res.OutputFilePath)
	assert.FileExists(t, out)
	assert.Equal(t, []gpg.Operation{gpg.OpImport, gpg.OpEncrypt}, f.calls)
	assertHomesReleased(t, f)
}

func TestEncrypt_MissingImportOK(t *testing.T) {
	p, f, _ := newTestPipelines(t)
	f.noStatus = true
	out := filepath.Join(t.TempDir(), "a", "message.gpg")

	_, err := p.Encrypt(context.Background(), &EncryptConfig{
		KeyFilePath:    "key.asc",
		InputFilePath:  "message.txt",
		OutputFilePath: out,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, gpg.ErrExpectedStatusRecordMissing))
	assert.Equal(t, []gpg.Operation{gpg.OpImport}, f.calls)
	assert.NoDirExists(t, filepath.Dir(out))
	assertHomesReleased(t, f)
}

func TestDecrypt(t *testing.T) {
	p, f, _ := newTestPipelines(t)
	out := filepath.Join(t.TempDir(), "plain", "message.txt")

	res, err := p.Decrypt(context.Background(), &DecryptConfig{
		KeyFilePath:    "key.asc",
		InputFilePath:  "message.gpg",
		OutputFilePath: out,
		Passphrase:     "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, out, res.OutputFilePath)
	assert.Equal(t, []string{testFingerprint}, res.Fingerprints)
	assert.FileExists(t, out)
	assert.Equal(t, []gpg.Operation{gpg.OpImport, gpg.OpDecrypt}, f.calls)
	assert.Equal(t, []string{"", "secret"}, f.passes)
	assertHomesReleased(t, f)
}

func TestDecrypt_Failure(t *testing.T) {
	p, f, _ := newTestPipelines(t)
	f.failOn = gpg.OpDecrypt

	_, err := p.Decrypt(context.Background(), &DecryptConfig{
		KeyFilePath:    "key.asc",
		InputFilePath:  "message.gpg",
		OutputFilePath: filepath.Join(t.TempDir(), "message.txt"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, gpg.ErrEngineInvocationFailed))
	assertHomesReleased(t, f)
}

func TestInvalidConfiguration(t *testing.T) {
	ctx := context.Background()
	newWork := func(t *testing.T) (*Pipelines, *fakeEngine, string) {
		p, f, work := newTestPipelines(t)
		// not created yet
		work = filepath.Join(work, "work")
		p.defaults.WorkDirectory = work
		return p, f, work
	}

	tcases := []struct {
		name string
		run  func(p *Pipelines, out string) error
	}{
		{name: "import_no_keys", run: func(p *Pipelines, _ string) error {
			_, err := p.Import(ctx, &ImportConfig{})
			return err
		}},
		{name: "import_persistent_no_path", run: func(p *Pipelines, _ string) error {
			_, err := p.Import(ctx, &ImportConfig{KeyFilePath: "a", HomeDirectory: gpg.Persistent{}})
			return err
		}},
		{name: "generate_no_email", run: func(p *Pipelines, out string) error {
			_, err := p.Generate(ctx, &GenerateConfig{OwnerName: "Amanda Greeves", OutputDirectory: out})
			return err
		}},
		{name: "generate_bad_prefix", run: func(p *Pipelines, out string) error {
			_, err := p.Generate(ctx, &GenerateConfig{
				OwnerName:       "Amanda Greeves",
				OwnerEmail:      "amanda.greeves@example.com",
				OutputDirectory: out,
				NamePrefix:      "../amanda",
			})
			return err
		}},
		{name: "encrypt_no_key", run: func(p *Pipelines, out string) error {
			_, err := p.Encrypt(ctx, &EncryptConfig{InputFilePath: "in", OutputFilePath: filepath.Join(out, "f")})
			return err
		}},
		{name: "encrypt_no_output", run: func(p *Pipelines, _ string) error {
			_, err := p.Encrypt(ctx, &EncryptConfig{KeyFilePath: "k", InputFilePath: "in"})
			return err
		}},
		{name: "encrypt_trust", run: func(p *Pipelines, out string) error {
			_, err := p.Encrypt(ctx, &EncryptConfig{
				KeyFilePath:    "k",
				InputFilePath:  "in",
				OutputFilePath: filepath.Join(out, "f"),
				TrustMode:      "ultimate",
			})
			return err
		}},
		{name: "decrypt_no_input", run: func(p *Pipelines, out string) error {
			_, err := p.Decrypt(ctx, &DecryptConfig{KeyFilePath: "k", OutputFilePath: filepath.Join(out, "f")})
			return err
		}},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			p, f, work := newWork(t)
			out := filepath.Join(t.TempDir(), "out")

			err := tc.run(p, out)
			require.Error(t, err)
			assert.True(t, errors.Is(err, gpg.ErrInvalidConfiguration), "%+v", err)
			assert.Empty(t, f.calls)
			assert.NoDirExists(t, work)
			assert.NoDirExists(t, out)
		})
	}
}

func TestWorkDirectoryUnavailable(t *testing.T) {
	p, f, work := newTestPipelines(t)
	file := filepath.Join(work, "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	_, err := p.Import(context.Background(), &ImportConfig{
		KeyFilePath:   "a.asc",
		WorkDirectory: filepath.Join(file, "work"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, gpg.ErrDirectoryUnavailable))
	assert.Empty(t, f.calls)
}

func TestConcurrentRuns(t *testing.T) {
	p, f, _ := newTestPipelines(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Import(context.Background(), &ImportConfig{KeyFilePath: "a.asc"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, f.homes, 8)
	seen := map[string]bool{}
	for _, h := range f.homes {
		assert.False(t, seen[h], "home must not be shared: %s", h)
		seen[h] = true
		assert.NoDirExists(t, h)
	}
}
