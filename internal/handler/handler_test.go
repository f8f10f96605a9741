package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"headswap/internal/engine"
	"headswap/internal/graph"
	"headswap/internal/images"
)

const testWorkflow = `{
  "448": {"inputs": {"image": "cut_00003_.png", "upload": "image"}, "class_type": "LoadImage"},
  "449": {"inputs": {"image": "ComfyUI_temp_rnpvx_00002_.png", "upload": "image"}, "class_type": "LoadImage"},
  "458": {"inputs": {"filename_prefix": "ComfyUI", "images": ["457", 0]}, "class_type": "SaveImage"}
}`

const outputName = "ComfyUI_00001_.png"

var (
	headBytes   = []byte("\x89PNG\r\n\x1a\nhead-pixels")
	bodyBytes   = []byte("\x89PNG\r\n\x1a\nbody-pixels-longer")
	outputBytes = []byte("\x89PNG\r\n\x1a\ngenerated")
)

type engineMode int

const (
	modeReady engineMode = iota
	modeNever
	modeNoImages
	modeMissingFile
)

// fakeEngine mimics /prompt and /history and writes the output file the way
// the real engine would
type fakeEngine struct {
	inputDir  string
	outputDir string
	mode      engineMode

	mu         sync.Mutex
	prompt     map[string]any
	clientID   string
	headOnDisk []byte
	bodyOnDisk []byte
}

func (f *fakeEngine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/prompt":
		var req struct {
			Prompt   map[string]any `json:"prompt"`
			ClientID string         `json:"client_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		f.prompt = req.Prompt
		f.clientID = req.ClientID
		f.headOnDisk, _ = os.ReadFile(filepath.Join(f.inputDir, inputName(req.Prompt, "448")))
		f.bodyOnDisk, _ = os.ReadFile(filepath.Join(f.inputDir, inputName(req.Prompt, "449")))
		f.mu.Unlock()

		if f.mode != modeMissingFile {
			os.WriteFile(filepath.Join(f.outputDir, outputName), outputBytes, 0o644)
		}
		w.Write([]byte(`{"prompt_id": "p-1", "number": 1}`))

	case r.Method == http.MethodGet && r.URL.Path == "/history/p-1":
		switch f.mode {
		case modeNever:
			w.Write([]byte(`{}`))
		case modeNoImages:
			w.Write([]byte(`{"p-1": {"outputs": {"458": {"images": []}}}}`))
		default:
			w.Write([]byte(`{"p-1": {"outputs": {"458": {"images": [{"filename": "` + outputName + `", "subfolder": "", "type": "output"}]}}}}`))
		}

	default:
		http.NotFound(w, r)
	}
}

func inputName(prompt map[string]any, node string) string {
	n, _ := prompt[node].(map[string]any)
	inputs, _ := n["inputs"].(map[string]any)
	name, _ := inputs["image"].(string)
	return name
}

type flakyTransport struct {
	failures int32
	calls    atomic.Int32
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Path == "/prompt" && f.calls.Add(1) <= f.failures {
		return nil, errors.New("connect: connection refused")
	}
	return http.DefaultTransport.RoundTrip(req)
}

type testEnv struct {
	inputDir  string
	outputDir string
	engine    *fakeEngine
	srv       *httptest.Server
}

func newTestEnv(t *testing.T, mode engineMode) *testEnv {
	dir := t.TempDir()
	env := &testEnv{
		inputDir:  filepath.Join(dir, "input"),
		outputDir: filepath.Join(dir, "output"),
	}
	require.NoError(t, os.MkdirAll(env.outputDir, 0o755))

	env.engine = &fakeEngine{inputDir: env.inputDir, outputDir: env.outputDir, mode: mode}
	env.srv = httptest.NewServer(env.engine)
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) handler(t *testing.T, transport http.RoundTripper, archiver Archiver) *Handler {
	tmpl, err := graph.Parse([]byte(testWorkflow))
	require.NoError(t, err)

	opts := engine.Options{
		BaseURL:          e.srv.URL,
		SubmitAttempts:   3,
		SubmitRetryDelay: time.Millisecond,
		PollInterval:     time.Millisecond,
		Timeout:          200 * time.Millisecond,
		OutputNode:       "458",
	}
	if transport != nil {
		opts.HTTPClient = &http.Client{Transport: transport}
	}

	return New(tmpl, engine.NewClient(opts), images.NewMaterializer(images.Options{}), Options{
		InputDir:   e.inputDir,
		OutputDir:  e.outputDir,
		HeadNode:   "448",
		BodyNode:   "449",
		InputField: "image",
		Archiver:   archiver,
		Logger:     zerolog.Nop(),
	})
}

// assertNoJobFiles checks that nothing the job created is left behind
func (e *testEnv) assertNoJobFiles(t *testing.T) {
	t.Helper()
	for _, dir := range []string{e.inputDir, e.outputDir} {
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		require.NoError(t, err)
		assert.Empty(t, entries, "files left in %s", dir)
	}
}

func validInput() Input {
	return Input{
		HeadImage: "data:image/png;base64," + base64.StdEncoding.EncodeToString(headBytes),
		BodyImage: base64.StdEncoding.EncodeToString(bodyBytes),
	}
}

func TestHandle_Success(t *testing.T) {
	env := newTestEnv(t, modeReady)
	h := env.handler(t, nil, nil)

	var polls int
	out := h.Handle(context.Background(), validInput(), func(stage string, n int) {
		if stage == StagePoll {
			polls++
		}
	})

	require.True(t, out.Result.OK(), out.Result.Error)
	assert.Equal(t, base64.StdEncoding.EncodeToString(outputBytes), out.Result.Image)
	assert.Empty(t, out.Result.Error)
	assert.Equal(t, "p-1", out.PromptID)
	assert.Equal(t, outputName, out.OutputName)
	assert.NotEmpty(t, out.JobID)
	assert.Len(t, out.Checksum, 64)
	assert.GreaterOrEqual(t, polls, 1)

	// Inputs reached the engine intact under unique names
	assert.Equal(t, headBytes, env.engine.headOnDisk)
	assert.Equal(t, bodyBytes, env.engine.bodyOnDisk)
	assert.Equal(t, out.JobID+"_head.png", inputName(env.engine.prompt, "448"))
	assert.Equal(t, out.JobID+"_body.png", inputName(env.engine.prompt, "449"))
	assert.Equal(t, out.JobID, env.engine.clientID)

	env.assertNoJobFiles(t)
}

func TestHandle_ResultJSON(t *testing.T) {
	env := newTestEnv(t, modeReady)
	out := env.handler(t, nil, nil).Handle(context.Background(), validInput(), nil)

	data, err := json.Marshal(out.Result)
	require.NoError(t, err)
	assert.JSONEq(t, `{"result": "`+base64.StdEncoding.EncodeToString(outputBytes)+`"}`, string(data))

	data, err = json.Marshal(Failure(errors.New("boom")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"error": "boom"}`, string(data))
}

func TestHandle_MissingInputs(t *testing.T) {
	testCases := []struct {
		name    string
		input   Input
		missing []string
	}{
		{name: "both", input: Input{}, missing: []string{"head_image", "body_image"}},
		{name: "head", input: Input{BodyImage: "AAAA"}, missing: []string{"head_image"}},
		{name: "body", input: Input{HeadImage: "AAAA", BodyImage: "   "}, missing: []string{"body_image"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, modeReady)
			out := env.handler(t, nil, nil).Handle(context.Background(), tc.input, nil)

			require.False(t, out.Result.OK())
			assert.Empty(t, out.Result.Image)
			assert.Contains(t, out.Result.Error, "missing required input")
			for _, field := range tc.missing {
				assert.Contains(t, out.Result.Error, field)
			}
			assert.NoDirExists(t, env.inputDir)
			assert.Nil(t, env.engine.prompt)
		})
	}
}

func TestHandle_InvalidJobID(t *testing.T) {
	env := newTestEnv(t, modeReady)
	in := validInput()
	in.JobID = "../../etc/passwd"

	out := env.handler(t, nil, nil).Handle(context.Background(), in, nil)
	assert.Contains(t, out.Result.Error, "invalid job id")
	assert.NoDirExists(t, env.inputDir)
}

func TestHandle_UsesGivenJobID(t *testing.T) {
	env := newTestEnv(t, modeReady)
	in := validInput()
	in.JobID = "job-42"

	out := env.handler(t, nil, nil).Handle(context.Background(), in, nil)
	require.True(t, out.Result.OK(), out.Result.Error)
	assert.Equal(t, "job-42", out.JobID)
	assert.Equal(t, "job-42_head.png", inputName(env.engine.prompt, "448"))
}

func TestHandle_BadImage(t *testing.T) {
	env := newTestEnv(t, modeReady)
	in := validInput()
	in.BodyImage = "data:image/png;base64,***"

	out := env.handler(t, nil, nil).Handle(context.Background(), in, nil)
	assert.Contains(t, out.Result.Error, "failed to process input images")
	assert.Contains(t, out.Result.Error, "body_image")
	assert.Nil(t, env.engine.prompt)
	env.assertNoJobFiles(t)
}

func TestHandle_TransientSubmitFailures(t *testing.T) {
	env := newTestEnv(t, modeReady)
	transport := &flakyTransport{failures: 2}

	out := env.handler(t, transport, nil).Handle(context.Background(), validInput(), nil)
	require.True(t, out.Result.OK(), out.Result.Error)
	assert.Equal(t, int32(3), transport.calls.Load())
	env.assertNoJobFiles(t)
}

func TestHandle_SubmitExhausted(t *testing.T) {
	env := newTestEnv(t, modeReady)
	transport := &flakyTransport{failures: 3}

	out := env.handler(t, transport, nil).Handle(context.Background(), validInput(), nil)
	require.False(t, out.Result.OK())
	assert.Contains(t, out.Result.Error, "could not reach engine")
	assert.Empty(t, out.PromptID)
	env.assertNoJobFiles(t)
}

func TestHandle_Timeout(t *testing.T) {
	env := newTestEnv(t, modeNever)
	h := env.handler(t, nil, nil)

	done := make(chan Outcome, 1)
	go func() {
		done <- h.Handle(context.Background(), validInput(), nil)
	}()

	select {
	case out := <-done:
		require.False(t, out.Result.OK())
		assert.Contains(t, out.Result.Error, "timeout")
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not return after the polling budget")
	}
	env.assertNoJobFiles(t)
}

func TestHandle_NoImages(t *testing.T) {
	env := newTestEnv(t, modeNoImages)

	out := env.handler(t, nil, nil).Handle(context.Background(), validInput(), nil)
	assert.Contains(t, out.Result.Error, "produced no images")
	env.assertNoJobFiles(t)
}

func TestHandle_OutputFileMissing(t *testing.T) {
	env := newTestEnv(t, modeMissingFile)

	out := env.handler(t, nil, nil).Handle(context.Background(), validInput(), nil)
	assert.Contains(t, out.Result.Error, "output file not found")
	assert.Contains(t, out.Result.Error, outputName)
	env.assertNoJobFiles(t)
}

func TestHandle_ReportsProgressBeforeEachStage(t *testing.T) {
	env := newTestEnv(t, modeReady)
	transport := &flakyTransport{failures: 1}

	var stages []string
	out := env.handler(t, transport, nil).Handle(context.Background(), validInput(), func(stage string, n int) {
		if stage == StagePoll && n > 1 {
			return
		}
		stages = append(stages, stage)
	})

	require.True(t, out.Result.OK(), out.Result.Error)
	assert.Equal(t, []string{StageHeadImage, StageBodyImage, StageSubmit, StageSubmit, StagePoll}, stages)
}

func TestHandle_LargeResultReturnsLocation(t *testing.T) {
	env := newTestEnv(t, modeReady)
	h := env.handler(t, nil, &fakeArchiver{})
	h.opts.MaxResultBytes = 8

	out := h.Handle(context.Background(), validInput(), nil)
	require.True(t, out.Result.OK(), out.Result.Error)
	assert.Empty(t, out.Result.Image)
	assert.Equal(t, "s3://results/"+out.JobID+"/"+outputName, out.Result.Location)
	env.assertNoJobFiles(t)
}

func TestHandle_LargeResultWithoutArchive(t *testing.T) {
	env := newTestEnv(t, modeReady)
	h := env.handler(t, nil, nil)
	h.opts.MaxResultBytes = 8

	out := h.Handle(context.Background(), validInput(), nil)
	require.False(t, out.Result.OK())
	assert.Contains(t, out.Result.Error, ErrResultTooLarge.Error())
	assert.Empty(t, out.Result.Image)
	env.assertNoJobFiles(t)
}

type fakeArchiver struct {
	jobID string
	name  string
	data  []byte
	err   error
}

func (f *fakeArchiver) Archive(ctx context.Context, jobID, name string, data []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.jobID, f.name, f.data = jobID, name, data
	return "s3://results/" + jobID + "/" + name, nil
}

func TestHandle_Archive(t *testing.T) {
	env := newTestEnv(t, modeReady)
	archiver := &fakeArchiver{}

	out := env.handler(t, nil, archiver).Handle(context.Background(), validInput(), nil)
	require.True(t, out.Result.OK(), out.Result.Error)
	assert.Equal(t, "s3://results/"+out.JobID+"/"+outputName, out.Result.Location)
	assert.Equal(t, outputBytes, archiver.data)
	env.assertNoJobFiles(t)
}

func TestHandle_ArchiveFailureKeepsResult(t *testing.T) {
	env := newTestEnv(t, modeReady)
	archiver := &fakeArchiver{err: errors.New("bucket not found")}

	out := env.handler(t, nil, archiver).Handle(context.Background(), validInput(), nil)
	require.True(t, out.Result.OK(), out.Result.Error)
	assert.Empty(t, out.Result.Location)
	assert.NotEmpty(t, out.Result.Image)
}

type panicEngine struct{}

func (panicEngine) Submit(ctx context.Context, g graph.Graph, clientID string, onAttempt func(int)) (string, error) {
	panic("engine exploded")
}

func (panicEngine) Wait(ctx context.Context, promptID string, onPoll func(int)) (*engine.Image, error) {
	return nil, nil
}

func TestHandle_RecoversPanic(t *testing.T) {
	env := newTestEnv(t, modeReady)
	tmpl, err := graph.Parse([]byte(testWorkflow))
	require.NoError(t, err)

	h := New(tmpl, panicEngine{}, images.NewMaterializer(images.Options{}), Options{
		InputDir:   env.inputDir,
		OutputDir:  env.outputDir,
		HeadNode:   "448",
		BodyNode:   "449",
		InputField: "image",
		Logger:     zerolog.Nop(),
	})

	out := h.Handle(context.Background(), validInput(), nil)
	require.False(t, out.Result.OK())
	assert.Contains(t, out.Result.Error, "execution failed")
	assert.Contains(t, out.Result.Error, "engine exploded")
	env.assertNoJobFiles(t)
}

func TestHandle_ConcurrentJobsDoNotCollide(t *testing.T) {
	env := newTestEnv(t, modeReady)
	h := env.handler(t, nil, nil)

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 4)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = h.Handle(context.Background(), validInput(), nil)
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, out := range outcomes {
		assert.False(t, seen[out.JobID])
		seen[out.JobID] = true
	}
	for _, out := range outcomes {
		for _, p := range h.InputPaths(out.JobID) {
			assert.NoFileExists(t, p)
		}
	}
}

func TestOutputPath_RejectsEscape(t *testing.T) {
	h := &Handler{opts: Options{OutputDir: "/ComfyUI/output"}}

	p, err := h.outputPath(&engine.Image{Filename: "a.png", Subfolder: "faces"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/ComfyUI/output", "faces", "a.png"), p)

	_, err = h.outputPath(&engine.Image{Filename: "passwd", Subfolder: "../../etc"})
	assert.Error(t, err)

	_, err = h.outputPath(&engine.Image{})
	assert.ErrorIs(t, err, ErrOutputMissing)
}
