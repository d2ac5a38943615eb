// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/deepagro/internal/advisor"
	"github.com/jeranaias/deepagro/internal/auth"
	"github.com/jeranaias/deepagro/internal/config"
	"github.com/jeranaias/deepagro/internal/storage"
	"github.com/jeranaias/deepagro/internal/stream"
)

// =============================================================================
// HARNESS
// =============================================================================

// fakeBackend serves the advisory API with canned answers.
func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/crop", func(w http.ResponseWriter, r *http.Request) {
		var in advisor.CropInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"crop":"rice","top3":[{"crop":"rice","confidence":0.91},{"crop":"jute","confidence":0.06},{"crop":"maize","confidence":0.03}]}`)
	})
	mux.HandleFunc("/api/fertilizer", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"fertilizer":"Urea"}`)
	})
	mux.HandleFunc("/api/disease", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"disease":"Tomato___Late_blight","confidence":0.87}`)
	})
	mux.HandleFunc("/api/chat/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, part := range []string{"Sow ", "after ", "the first rains."} {
			b, _ := json.Marshal(map[string]any{
				"choices": []any{map[string]any{"delta": map[string]string{"content": part}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
		}
		io.WriteString(w, "data: [DONE]\n\n")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// isolate points DEEPAGRO_HOME at a temp dir and clears every override.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DEEPAGRO_HOME", dir)
	for _, k := range []string{"DEEPAGRO_API_URL", "DEEPAGRO_API_TOKEN", "DEEPAGRO_LANG",
		"DEEPAGRO_LOG_LEVEL", "DEEPAGRO_DB", "DEEPAGRO_ADDR"} {
		t.Setenv(k, "")
	}
	return dir
}

type result struct {
	code   int
	stdout string
	stderr string
}

// run executes the CLI with stdin and returns what it printed.
func run(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	var out, errb bytes.Buffer
	app := &App{
		In:  strings.NewReader(stdin),
		Out: &out,
		Err: &errb,
		log: zerolog.Nop(),
	}
	code := ExecuteApp(context.Background(), app, args)
	return result{code: code, stdout: out.String(), stderr: errb.String()}
}

// decode parses a --json envelope and returns its data.
func decode(t *testing.T, r result, data any) JSONResponse {
	t.Helper()
	var env struct {
		JSONResponse
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &env), "stdout: %s", r.stdout)
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env.JSONResponse
}

var cropArgs = []string{"predict", "crop", "-N", "90", "-P", "42", "-K", "43",
	"--temperature", "20.8", "--humidity", "82", "--ph", "6.5", "--rainfall", "202.9"}

func signUp(t *testing.T) {
	t.Helper()
	r := run(t, "secret-pass\n", "user", "register",
		"--name", "Ravi", "--email", "ravi@example.com", "--phone", "9999999999")
	require.Equal(t, ExitSuccess, r.code, r.stderr)

	r = run(t, "secret-pass\n", "user", "login", "--email", "ravi@example.com")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
}

// =============================================================================
// COMMANDS
// =============================================================================

func TestVersionJSON(t *testing.T) {
	isolate(t)

	r := run(t, "", "version", "--json")
	require.Equal(t, ExitSuccess, r.code, r.stderr)

	var info versionInfo
	env := decode(t, r, &info)
	assert.True(t, env.Success)
	assert.Equal(t, "version", env.Command)
	assert.Equal(t, Version, info.Version)
}

func TestPredictCrop(t *testing.T) {
	isolate(t)
	srv := fakeBackend(t)

	r := run(t, "", append(cropArgs, "--api-url", srv.URL)...)
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Contains(t, r.stdout, "Best crop recommendation: rice")
	assert.Contains(t, r.stdout, "91.0%")
	assert.Contains(t, r.stdout, "jute")
}

func TestPredictCropLocalized(t *testing.T) {
	isolate(t)
	srv := fakeBackend(t)

	r := run(t, "", append(cropArgs, "--api-url", srv.URL, "--lang", "hi")...)
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Contains(t, r.stdout, "सबसे अच्छी फसल: rice")
}

func TestPredictCropMissingFlag(t *testing.T) {
	isolate(t)

	r := run(t, "", "predict", "crop", "-N", "90")
	assert.Equal(t, ExitUsageError, r.code)
	assert.Contains(t, r.stderr, "required flag")
}

func TestPredictCropOutOfRange(t *testing.T) {
	isolate(t)
	srv := fakeBackend(t)

	args := append([]string(nil), cropArgs...)
	args[len(args)-3] = "15" // --ph
	r := run(t, "", append(args, "--api-url", srv.URL)...)
	assert.Equal(t, ExitUsageError, r.code)
	assert.Contains(t, r.stderr, "ph")
}

func TestPredictFertilizerJSON(t *testing.T) {
	isolate(t)
	srv := fakeBackend(t)

	r := run(t, "", "predict", "fertilizer", "--temperature", "26", "--humidity", "52",
		"--moisture", "38", "-N", "37", "-P", "0", "-K", "0", "--ph", "6.8",
		"--api-url", srv.URL, "--json")
	require.Equal(t, ExitSuccess, r.code, r.stderr)

	var data struct {
		Fertilizer string `json:"fertilizer"`
	}
	decode(t, r, &data)
	assert.Equal(t, "Urea", data.Fertilizer)
}

func TestDisease(t *testing.T) {
	isolate(t)
	srv := fakeBackend(t)

	// A minimal PNG header is enough for content sniffing.
	img := filepath.Join(t.TempDir(), "leaf.png")
	require.NoError(t, os.WriteFile(img, append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...), 0o600))

	r := run(t, "", "disease", img, "--api-url", srv.URL)
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Contains(t, r.stdout, "Tomato___Late_blight")
	assert.Contains(t, r.stdout, "87.0%")

	r = run(t, "", "disease", filepath.Join(t.TempDir(), "missing.png"), "--api-url", srv.URL)
	assert.Equal(t, ExitGeneralError, r.code)
}

func TestAskStreamsPlainOutput(t *testing.T) {
	isolate(t)
	srv := fakeBackend(t)

	r := run(t, "", "ask", "When", "should", "I", "sow?", "--api-url", srv.URL)
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Equal(t, "Sow after the first rains.\n", r.stdout)
}

func TestAskFromStdinJSON(t *testing.T) {
	isolate(t)
	srv := fakeBackend(t)

	r := run(t, "When should I sow paddy?\n", "ask", "-", "--json", "--api-url", srv.URL)
	require.Equal(t, ExitSuccess, r.code, r.stderr)

	var data map[string]string
	decode(t, r, &data)
	assert.Equal(t, "When should I sow paddy?", data["question"])
	assert.Equal(t, "Sow after the first rains.", data["answer"])
	assert.Equal(t, "completed", data["state"])
}

func TestAskRateLimited(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":"slow down"}`)
	}))
	t.Cleanup(srv.Close)

	r := run(t, "", "ask", "hello", "--api-url", srv.URL)
	assert.Equal(t, ExitRateLimited, r.code)
	assert.Contains(t, r.stderr, "Too many requests")
	assert.Contains(t, r.stderr, "retry in 3s")
	assert.Empty(t, r.stdout)
}

func TestAskEmptyQuestion(t *testing.T) {
	isolate(t)

	r := run(t, "   \n", "ask", "-")
	assert.Equal(t, ExitUsageError, r.code)
}

func TestAccountAndHistory(t *testing.T) {
	isolate(t)
	srv := fakeBackend(t)

	r := run(t, "", "history")
	assert.Equal(t, ExitAuthError, r.code)

	signUp(t)

	r = run(t, "", "user", "whoami", "--json")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	var me accountView
	decode(t, r, &me)
	assert.Equal(t, "ravi@example.com", me.Email)
	assert.False(t, me.MFAEnabled)

	require.Equal(t, ExitSuccess, run(t, "", append(cropArgs, "--api-url", srv.URL)...).code)
	require.Equal(t, ExitSuccess, run(t, "", "ask", "When to sow?", "--api-url", srv.URL).code)

	r = run(t, "", "history", "--json")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	var records []storage.Record
	decode(t, r, &records)
	require.Len(t, records, 2)
	assert.Equal(t, storage.RecordChat, records[0].Type)
	assert.Equal(t, "When to sow?", records[0].Title)
	assert.Equal(t, storage.RecordCrop, records[1].Type)
	assert.Equal(t, "rice", records[1].Result)

	r = run(t, "", "history", "list", "--type", "crop")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Contains(t, r.stdout, "rice")
	assert.NotContains(t, r.stdout, "Chat")

	r = run(t, "", "history", "list", "--type", "weather")
	assert.Equal(t, ExitUsageError, r.code)

	r = run(t, "", "history", "delete", "99999")
	assert.Equal(t, ExitNotFound, r.code)

	outDir := t.TempDir()
	r = run(t, "", "history", "export", "--type", "crop", "-o", outDir, "--json")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	var exported struct {
		Path    string `json:"path"`
		Entries int    `json:"entries"`
	}
	decode(t, r, &exported)
	assert.Equal(t, 1, exported.Entries)
	assert.Equal(t, outDir, filepath.Dir(exported.Path))
	doc, err := os.ReadFile(exported.Path)
	require.NoError(t, err)
	assert.Contains(t, string(doc), "# DeepAgro history of Ravi")

	r = run(t, "", "history", "export", "--format", "pdf")
	assert.Equal(t, ExitUsageError, r.code)

	r = run(t, "n\n", "history", "clear")
	require.Equal(t, ExitSuccess, r.code)
	r = run(t, "", "history", "--json")
	decode(t, r, &records)
	assert.Len(t, records, 2)

	r = run(t, "", "history", "clear", "--yes")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Contains(t, r.stdout, "2 items deleted")

	r = run(t, "", "history")
	require.Equal(t, ExitSuccess, r.code)
	assert.Contains(t, r.stdout, "No history yet")

	r = run(t, "", "history", "export", "-o", t.TempDir())
	assert.Equal(t, ExitNotFound, r.code)

	r = run(t, "", "user", "logout")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Equal(t, ExitAuthError, run(t, "", "user", "whoami").code)
}

func TestLoginWrongPassword(t *testing.T) {
	isolate(t)
	signUp(t)

	r := run(t, "wrong-pass\n", "user", "login", "--email", "ravi@example.com")
	assert.Equal(t, ExitAuthError, r.code)
}

func TestRegisterValidation(t *testing.T) {
	isolate(t)

	r := run(t, "short\n", "user", "register",
		"--name", "Ravi", "--email", "ravi@example.com", "--phone", "9999999999")
	assert.Equal(t, ExitUsageError, r.code)
	assert.Contains(t, r.stderr, "password")
}

func TestProfileSetAndShow(t *testing.T) {
	isolate(t)
	signUp(t)

	r := run(t, "", "profile", "set", "location=Guntur, AP", "primary_crops=rice, chilli", "notify.tips=false", "language=te")
	require.Equal(t, ExitSuccess, r.code, r.stderr)

	r = run(t, "", "profile", "--json")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	var p storage.Profile
	decode(t, r, &p)
	assert.Equal(t, "Ravi", p.Name)
	assert.Equal(t, "Guntur, AP", p.Location)
	assert.Equal(t, []string{"rice", "chilli"}, p.PrimaryCrops)
	assert.Equal(t, "te", p.Language)
	assert.False(t, p.Notifications.Tips)

	r = run(t, "", "profile", "set", "units=furlongs")
	assert.Equal(t, ExitUsageError, r.code)
	r = run(t, "", "profile", "set", "location")
	assert.Equal(t, ExitUsageError, r.code)
}

func TestConfigSetGetPath(t *testing.T) {
	dir := isolate(t)

	r := run(t, "", "config", "path")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Equal(t, filepath.Join(dir, "config.toml")+"\n", r.stdout)

	// Environment overrides must not be written to the file.
	t.Setenv("DEEPAGRO_LANG", "hi")
	r = run(t, "", "config", "set", "ui.word_wrap", "100")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	t.Setenv("DEEPAGRO_LANG", "")

	cfg, err := config.ReadFile(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.UI.WordWrap)
	assert.Equal(t, "en", cfg.UI.Language)

	r = run(t, "", "config", "get", "ui.word_wrap")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Equal(t, "100\n", r.stdout)

	r = run(t, "", "config", "get", "ui.nonsense")
	assert.Equal(t, ExitUsageError, r.code)

	r = run(t, "", "config", "set", "ui.language", "xx")
	assert.Equal(t, ExitConfigError, r.code)
}

func TestConfigShowRedactsToken(t *testing.T) {
	isolate(t)
	t.Setenv("DEEPAGRO_API_TOKEN", "super-secret")

	r := run(t, "", "config", "show")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.NotContains(t, r.stdout, "super-secret")

	r = run(t, "", "config", "get", "api.token")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.NotContains(t, r.stdout, "super-secret")
}

func TestLang(t *testing.T) {
	dir := isolate(t)

	r := run(t, "", "lang", "--json")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	var rows []languageRow
	decode(t, r, &rows)
	require.NotEmpty(t, rows)

	byCode := map[string]languageRow{}
	for _, row := range rows {
		byCode[row.Code] = row
	}
	assert.True(t, byCode["en"].Current)
	assert.True(t, byCode["hi"].Translated)
	assert.Zero(t, byCode["en"].Missing)
	assert.True(t, byCode["kn"].Translated)
	assert.Positive(t, byCode["kn"].Missing)

	r = run(t, "", "lang")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Contains(t, r.stdout, "keys in English")

	r = run(t, "", "lang", "te")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	cfg, err := config.ReadFile(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, "te", cfg.UI.Language)

	r = run(t, "", "lang", "klingon")
	assert.Equal(t, ExitUsageError, r.code)
}

func TestUnknownCommandIsUsageError(t *testing.T) {
	isolate(t)

	r := run(t, "", "harvest")
	assert.Equal(t, ExitUsageError, r.code)

	r = run(t, "", "version", "--bogus", "--json")
	assert.Equal(t, ExitUsageError, r.code)
}

func TestJSONErrorEnvelope(t *testing.T) {
	isolate(t)

	r := run(t, "", "history", "--json")
	assert.Equal(t, ExitAuthError, r.code)

	var env JSONResponse
	require.NoError(t, json.Unmarshal([]byte(r.stderr), &env), r.stderr)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Contains(t, *env.Error, "not signed in")
}

// =============================================================================
// HELPERS
// =============================================================================

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"usage", usagef("bad"), ExitUsageError},
		{"invalid input", &advisor.ValidationError{Field: "ph", Message: "too high"}, ExitUsageError},
		{"config", config.ValidateErrors{{Field: "ui.language", Message: "bad"}}, ExitConfigError},
		{"not signed in", NewCommandError("history", "list", ErrNotSignedIn), ExitAuthError},
		{"credentials", auth.ErrInvalidCredentials, ExitAuthError},
		{"not found", fmt.Errorf("x: %w", storage.ErrNotFound), ExitNotFound},
		{"rate limited", &stream.StatusError{Status: http.StatusTooManyRequests}, ExitRateLimited},
		{"quota", &stream.StatusError{Status: http.StatusPaymentRequired}, ExitRateLimited},
		{"server error", &stream.StatusError{Status: http.StatusBadGateway}, ExitNetworkError},
		{"timeout", context.DeadlineExceeded, ExitTimeout},
		{"other", errors.New("boom"), ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestIsFlagError(t *testing.T) {
	assert.True(t, isFlagError(errors.New(`unknown command "harvest" for "deepagro"`)))
	assert.True(t, isFlagError(errors.New(`required flag(s) "ph" not set`)))
	assert.True(t, isFlagError(errors.New("accepts 1 arg(s), received 2")))
	assert.False(t, isFlagError(usagef("unknown flag but already usage")))
	assert.False(t, isFlagError(NewCommandError("ask", "", errors.New("requires a question"))))
	assert.False(t, isFlagError(errors.New("connection refused")))
}

func TestNewCommandErrorNil(t *testing.T) {
	assert.NoError(t, NewCommandError("x", "y", nil))

	err := NewCommandError("history", "clear", storage.ErrNotFound)
	assert.EqualError(t, err, "history clear: "+storage.ErrNotFound.Error())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	table(&buf, 40, []string{"ID", "TITLE", "CONF"}, []int{3, 0, 6}, [][]string{
		{"1", "Rice\nPrediction", "91.0%"},
		{"22", strings.Repeat("x", 50), ""},
	})
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID   TITLE"))
	assert.Contains(t, lines[1], "Rice Prediction")
	for _, l := range lines {
		assert.LessOrEqual(t, len(l), 40)
	}
}

func TestSuggestionIndex(t *testing.T) {
	n, ok := suggestionIndex("/1")
	assert.True(t, ok)
	assert.Equal(t, 0, n)

	n, ok = suggestionIndex("/4")
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	for _, in := range []string{"/0", "/5", "/12", "/c", "1"} {
		_, ok := suggestionIndex(in)
		assert.False(t, ok, in)
	}
}

func TestApplyProfileSetting(t *testing.T) {
	p := storage.DefaultProfile(1)

	require.NoError(t, applyProfileSetting(p, "farm-size", "5 acres"))
	assert.Equal(t, "5 acres", p.FarmSize)

	require.NoError(t, applyProfileSetting(p, "crops", " rice ,, cotton"))
	assert.Equal(t, []string{"rice", "cotton"}, p.PrimaryCrops)

	require.NoError(t, applyProfileSetting(p, "notify.pest", "false"))
	assert.False(t, p.Notifications.Pest)

	assert.Error(t, applyProfileSetting(p, "notify.pest", "maybe"))
	assert.Error(t, applyProfileSetting(p, "language", "xx"))
	assert.Error(t, applyProfileSetting(p, "favourite_colour", "green"))
}

func TestReadQuestion(t *testing.T) {
	q, err := readQuestion(nil, []string{"how", "much", "urea?"})
	require.NoError(t, err)
	assert.Equal(t, "how much urea?", q)

	q, err = readQuestion(strings.NewReader("  from stdin\n"), []string{"-"})
	require.NoError(t, err)
	assert.Equal(t, "from stdin", q)

	_, err = readQuestion(strings.NewReader(""), []string{"-"})
	assert.Equal(t, ExitUsageError, ExitCode(err))
}

func TestInterruptible(t *testing.T) {
	var i interruptible
	assert.False(t, i.interrupt())

	ctx := i.begin(context.Background())
	assert.True(t, i.interrupt())
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.False(t, i.interrupt())

	ctx = i.begin(context.Background())
	i.end()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.False(t, i.interrupt())
}
