// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/netSkope/sharepoint-extractor/internal/config"
	"github.com/netSkope/sharepoint-extractor/internal/credpath"
	"github.com/netSkope/sharepoint-extractor/internal/errs"
	"github.com/netSkope/sharepoint-extractor/internal/extractor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type countingTransport struct {
	calls atomic.Int32
	next  http.RoundTripper
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return c.next.RoundTrip(r)
}

// fakeMicrosoft serves the token endpoint and the three Graph calls of a run.
func fakeMicrosoft(t *testing.T) (*httptest.Server, *countingTransport) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/tenant-1/oauth2/v2.0/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/v1.0/sites/contoso.sharepoint.com/sites", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"value":[{"id":"site-1","displayName":"HR"},{"id":"site-2"}]}`))
	})
	mux.HandleFunc("/v1.0/sites/site-1/lists/Staff", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"list-1","name":"Staff"}`))
	})
	mux.HandleFunc("/v1.0/sites/site-1/lists/list-1/items", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"value":[
			{"id":"1","fields":{"Name":"Ada,Ada","Dept":"Eng, Ops","Site":"HQ,Remote"}},
			{"id":"2","fields":{"Name":"Ada","Dept":"Eng","Site":"HQ"}},
			{"id":"3","fields":{"Name":"Bob","Dept":"Ops","Site":"HQ"}}
		]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &countingTransport{next: srv.Client().Transport}
}

type fixture struct {
	cfg       *config.Config
	credsFile string
	output    string
	transport *countingTransport
}

func newFixture(t *testing.T, creds string) *fixture {
	t.Helper()
	dir := t.TempDir()
	srv, rt := fakeMicrosoft(t)

	output := filepath.Join(dir, "staff.csv")
	credsFile := filepath.Join(dir, "credentials.txt")
	creds = strings.ReplaceAll(creds, "{output}", output)
	require.NoError(t, os.WriteFile(credsFile, []byte(creds), 0600))

	cfg := &config.Config{
		AuthorityBase: srv.URL,
		GraphRoot:     srv.URL + "/v1.0",
		GraphScope:    config.DefaultGraphScope,
		EnvFile:       filepath.Join(dir, ".env"),
		CSVDelimiter:  ",",
	}
	return &fixture{cfg: cfg, credsFile: credsFile, output: output, transport: rt}
}

func (f *fixture) runner(t *testing.T, opts ...Option) *Runner {
	opts = append([]Option{
		WithHTTPClient(&http.Client{Transport: f.transport}),
		WithLocator(func() string { return f.credsFile }),
		WithPublishers(),
	}, opts...)
	return NewRunner(f.cfg, zaptest.NewLogger(t), opts...)
}

const validCreds = `# SharePoint extractor
CLIENT_ID=client
CLIENT_SECRET=secret
TENANT_ID=tenant-1
SHAREPOINT_HOSTNAME=contoso.sharepoint.com
SHAREPOINT_SITE_NAME=HR
SHAREPOINT_LIST_NAME=Staff
SHAREPOINT_LIST_FIELDS=Name, Dept, Site
OUTPUT_FILENAME={output}
`

func collect(events <-chan Event) (stages []Stage, logs []string, last Event) {
	for ev := range events {
		switch ev.Type {
		case EventStage:
			stages = append(stages, ev.Stage)
		case EventLog:
			logs = append(logs, ev.Line.Message)
		case EventFinished:
			last = ev
		}
	}
	return stages, logs, last
}

func TestRunner_EndToEnd(t *testing.T) {
	f := newFixture(t, validCreds)

	stages, logs, last := collect(f.runner(t).Start(context.Background()))

	require.NoError(t, last.Err)
	assert.Equal(t, []Stage{StageStart, StageLoadSecrets, StageResolveSite, StageExtractData, StageDone}, stages)
	assert.Contains(t, logs, "Output written")

	data, err := os.ReadFile(f.output)
	require.NoError(t, err)
	assert.Equal(t, "Name,Dept,Site\nAda,Eng,HQ\nAda,Ops,Remote\nBob,Ops,HQ\n", string(data))

	require.NotNil(t, last.Summary)
	assert.Equal(t, "site-1", last.Summary.SiteID)
	assert.Equal(t, 3, last.Summary.Extract.Items)
	assert.Equal(t, f.credsFile, last.Summary.CredentialsFile)

	_, err = os.Stat(f.cfg.EnvFile)
	assert.True(t, os.IsNotExist(err), "env file must be removed after the run")
}

func TestRunner_KeepEnv(t *testing.T) {
	f := newFixture(t, validCreds)
	f.cfg.KeepEnv = true

	_, err := f.runner(t).Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(f.cfg.EnvFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `TENANT_ID="tenant-1"`)
}

func TestRunner_MissingSiteKeyFailsFast(t *testing.T) {
	f := newFixture(t, strings.Replace(validCreds, "TENANT_ID=tenant-1\n", "", 1))

	stages, _, last := collect(f.runner(t).Start(context.Background()))

	var se *StageError
	require.True(t, errors.As(last.Err, &se))
	assert.Equal(t, StageLoadSecrets, se.Stage)
	assert.Equal(t, errs.ErrConfiguration, se.Kind)
	assert.Equal(t, StageAborted, stages[len(stages)-1])
	assert.Equal(t, int32(0), f.transport.calls.Load())

	_, err := os.Stat(f.output)
	assert.True(t, os.IsNotExist(err), "aborted run must not write output")
	_, err = os.Stat(f.cfg.EnvFile)
	assert.True(t, os.IsNotExist(err), "env file must be removed after an aborted run")
}

func TestRunner_MissingListKeyFailsBeforeNetwork(t *testing.T) {
	tests := []struct {
		name string
		line string
		with string
	}{
		{"list name", "SHAREPOINT_LIST_NAME=Staff\n", ""},
		{"list fields", "SHAREPOINT_LIST_FIELDS=Name, Dept, Site\n", ""},
		{"unnamed fields", "SHAREPOINT_LIST_FIELDS=Name, Dept, Site\n", "SHAREPOINT_LIST_FIELDS= , \n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, strings.Replace(validCreds, tt.line, tt.with, 1))

			_, err := f.runner(t).Run(context.Background())

			var se *StageError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, StageLoadSecrets, se.Stage)
			assert.ErrorIs(t, err, errs.ErrConfiguration)
			assert.Equal(t, int32(0), f.transport.calls.Load())
		})
	}
}

type stubPrompter struct {
	path  string
	err   error
	asked string
	panic bool
}

func (p *stubPrompter) Prompt(missing string) (string, error) {
	p.asked = missing
	if p.panic {
		panic("prompter exploded")
	}
	return p.path, p.err
}

func TestRunner_MissingCredentials(t *testing.T) {
	t.Run("no prompter aborts", func(t *testing.T) {
		f := newFixture(t, validCreds)
		r := f.runner(t, WithLocator(func() string { return filepath.Join(t.TempDir(), "absent.txt") }))

		_, err := r.Run(context.Background())

		var se *StageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, StageLoadSecrets, se.Stage)
		assert.ErrorIs(t, err, errs.ErrConfiguration)
		assert.Equal(t, int32(0), f.transport.calls.Load())
	})

	t.Run("prompter picks a file", func(t *testing.T) {
		f := newFixture(t, validCreds)
		missing := filepath.Join(t.TempDir(), "absent.txt")
		p := &stubPrompter{path: f.credsFile}
		r := f.runner(t, WithLocator(func() string { return missing }), WithPrompter(p))

		sum, err := r.Run(context.Background())

		require.NoError(t, err)
		assert.Equal(t, missing, p.asked)
		assert.Equal(t, f.credsFile, sum.CredentialsFile)
	})

	t.Run("prompter cancelled", func(t *testing.T) {
		f := newFixture(t, validCreds)
		r := f.runner(t,
			WithLocator(func() string { return filepath.Join(t.TempDir(), "absent.txt") }),
			WithPrompter(&stubPrompter{err: credpath.ErrCancelled}))

		_, err := r.Run(context.Background())

		assert.ErrorIs(t, err, errs.ErrConfiguration)
		assert.ErrorIs(t, err, credpath.ErrCancelled)
	})
}

func TestRunner_ExplicitCredentialsFile(t *testing.T) {
	f := newFixture(t, validCreds)
	f.cfg.CredentialsFile = f.credsFile
	r := f.runner(t, WithLocator(func() string {
		t.Error("secure location must not be consulted")
		return ""
	}))

	_, err := r.Run(context.Background())
	require.NoError(t, err)
}

func TestRunner_PanicIsUnexpected(t *testing.T) {
	f := newFixture(t, validCreds)
	r := f.runner(t,
		WithLocator(func() string { return filepath.Join(t.TempDir(), "absent.txt") }),
		WithPrompter(&stubPrompter{panic: true}))

	stages, _, last := collect(r.Start(context.Background()))

	var se *StageError
	require.ErrorAs(t, last.Err, &se)
	assert.Equal(t, StageLoadSecrets, se.Stage)
	assert.Equal(t, errs.ErrUnexpected, se.Kind)
	assert.Contains(t, se.Error(), "prompter exploded")
	assert.Equal(t, StageAborted, stages[len(stages)-1])
}

func TestRunner_SecretFromSecretStore(t *testing.T) {
	creds := strings.Replace(validCreds, "CLIENT_SECRET=secret\n", "SPX_CLIENT_SECRET_ID=spx/client\n", 1)
	f := newFixture(t, creds)

	var asked string
	r := f.runner(t, WithSecretResolver(func(_ context.Context, cfg *config.Config) (string, error) {
		asked = cfg.ClientSecretID
		return "secret", nil
	}))

	_, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "spx/client", asked)
	assert.Equal(t, "secret", f.cfg.ClientSecret)
}

func TestRunner_SecretStoreSkippedWhenConfigIncomplete(t *testing.T) {
	creds := strings.Replace(validCreds, "CLIENT_SECRET=secret\n", "SPX_CLIENT_SECRET_ID=spx/client\n", 1)
	f := newFixture(t, strings.Replace(creds, "SHAREPOINT_LIST_NAME=Staff\n", "", 1))
	r := f.runner(t, WithSecretResolver(func(context.Context, *config.Config) (string, error) {
		t.Error("secret store must not be queried")
		return "", nil
	}))

	_, err := r.Run(context.Background())

	assert.ErrorIs(t, err, errs.ErrConfiguration)
	assert.Contains(t, err.Error(), config.KeyListName)
	assert.NotContains(t, err.Error(), config.KeyClientSecret)
}

func TestRunner_SecretStoreFailure(t *testing.T) {
	creds := strings.Replace(validCreds, "CLIENT_SECRET=secret\n", "SPX_CLIENT_SECRET_ID=spx/client\n", 1)
	f := newFixture(t, creds)
	r := f.runner(t, WithSecretResolver(func(context.Context, *config.Config) (string, error) {
		return "", errors.New("access denied")
	}))

	_, err := r.Run(context.Background())

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageLoadSecrets, se.Stage)
	assert.Equal(t, errs.ErrAuthentication, se.Kind)
}

type stubPublisher struct {
	name   string
	err    error
	panic  bool
	called atomic.Bool
}

func (p *stubPublisher) Name() string { return p.name }

func (p *stubPublisher) Publish(_ context.Context, res *extractor.Result) (string, error) {
	p.called.Store(true)
	if p.panic {
		panic("boom")
	}
	if p.err != nil {
		return "", p.err
	}
	return p.name + "://" + filepath.Base(res.File.FilePath), nil
}

func TestRunner_Publishers(t *testing.T) {
	t.Run("all succeed", func(t *testing.T) {
		f := newFixture(t, validCreds)
		a, b := &stubPublisher{name: "a"}, &stubPublisher{name: "b"}

		sum, err := f.runner(t, WithPublishers(a, b)).Run(context.Background())

		require.NoError(t, err)
		require.Len(t, sum.Publications, 2)
		assert.Equal(t, "a://staff.csv", sum.Publications[0].Target)
		assert.Equal(t, "b://staff.csv", sum.Publications[1].Target)
	})

	t.Run("failure is an I/O error and keeps the local file", func(t *testing.T) {
		f := newFixture(t, validCreds)
		bad, good := &stubPublisher{name: "s3", err: errors.New("no bucket")}, &stubPublisher{name: "mysql"}

		_, err := f.runner(t, WithPublishers(bad, good)).Run(context.Background())

		var se *StageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, StageExtractData, se.Stage)
		assert.Equal(t, errs.ErrIO, se.Kind)
		assert.True(t, good.called.Load())
		_, statErr := os.Stat(f.output)
		assert.NoError(t, statErr)
	})

	t.Run("panic is unexpected", func(t *testing.T) {
		f := newFixture(t, validCreds)

		_, err := f.runner(t, WithPublishers(&stubPublisher{name: "x", panic: true})).Run(context.Background())

		assert.ErrorIs(t, err, errs.ErrUnexpected)
	})
}

func TestConfiguredPublishers(t *testing.T) {
	logger := zaptest.NewLogger(t)

	assert.Empty(t, configuredPublishers(&config.Config{}, logger))

	pubs := configuredPublishers(&config.Config{S3Bucket: "b", MySQLHost: "db"}, logger)
	require.Len(t, pubs, 2)
	assert.Equal(t, "s3", pubs[0].Name())
	assert.Equal(t, "mysql", pubs[1].Name())
}

func TestStage_String(t *testing.T) {
	assert.Equal(t, "resolve site", StageResolveSite.String())
	assert.Equal(t, "stage(42)", Stage(42).String())

	err := newStageError(StageExtractData, errs.New(errs.ErrRemoteLookup, "no list items found"))
	assert.Equal(t, "extract data failed: remote lookup error: no list items found", err.Error())
	assert.Equal(t, errs.ErrRemoteLookup, err.Kind)
}

func TestRunner_DuplicateItemsScenario(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/t/oauth2/v2.0/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer"}`))
	})
	mux.HandleFunc("/v1.0/sites/h/sites", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "S", r.URL.Query().Get("search"))
		_, _ = w.Write([]byte(`{"value":[{"id":"S1","name":"S"}]}`))
	})
	mux.HandleFunc("/v1.0/sites/S1/lists/Profs", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"L1"}`))
	})
	mux.HandleFunc("/v1.0/sites/S1/lists/L1/items", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"value":[{"fields":{"Name":"Ann","Dept":"CS"}},{"fields":{"Name":"Ann","Dept":"CS"}}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	output := filepath.Join(dir, "output.csv")
	creds := filepath.Join(dir, "credentials.txt")
	require.NoError(t, os.WriteFile(creds, []byte(
		"CLIENT_ID=c\nCLIENT_SECRET=s\nTENANT_ID=t\nSHAREPOINT_HOSTNAME=h\nSHAREPOINT_SITE_NAME=S\n"+
			"SHAREPOINT_LIST_NAME=Profs\nSHAREPOINT_LIST_FIELDS=Name,Dept\nOUTPUT_FILENAME="+output+"\n"), 0600))

	cfg := &config.Config{
		CredentialsFile: creds,
		AuthorityBase:   srv.URL,
		GraphRoot:       srv.URL + "/v1.0",
		EnvFile:         filepath.Join(dir, ".env"),
	}
	_, err := NewRunner(cfg, zaptest.NewLogger(t), WithHTTPClient(srv.Client()), WithPublishers()).Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "Name,Dept\nAnn,CS\n", string(data))
}
