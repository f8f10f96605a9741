// Package handler runs one head/body job against the engine: it writes the
// inputs, injects their names into the workflow, waits for the output node
// and returns the produced image. Every failure becomes an error Result.
package handler

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"headswap/internal/engine"
	"headswap/internal/graph"
	"headswap/internal/metrics"
)

var (
	ErrMissingInput   = errors.New("missing required input")
	ErrInvalidJobID   = errors.New("invalid job id")
	ErrOutputMissing  = errors.New("output file not found")
	ErrResultTooLarge = errors.New("output too large for result payload")
)

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Engine submits a prepared graph and waits for its output image
type Engine interface {
	Submit(ctx context.Context, g graph.Graph, clientID string, onAttempt func(attempt int)) (string, error)
	Wait(ctx context.Context, promptID string, onPoll func(poll int)) (*engine.Image, error)
}

// Materializer writes an image source to path
type Materializer interface {
	Save(ctx context.Context, source, path string) (int64, error)
}

// Archiver keeps a copy of the output and returns where it went
type Archiver interface {
	Archive(ctx context.Context, jobID, name string, data []byte) (string, error)
}

// Job stages reported through Progress
const (
	StageHeadImage = "head_image"
	StageBodyImage = "body_image"
	StageSubmit    = "submit"
	StagePoll      = "poll"
)

// Progress is called before every step of a job that may block; n counts
// submit attempts and polls and is 1 otherwise
type Progress func(stage string, n int)

type Options struct {
	InputDir   string
	OutputDir  string
	HeadNode   string
	BodyNode   string
	InputField string
	Archiver   Archiver

	// MaxResultBytes caps the base64 result. Larger outputs are returned by
	// archive location only, or fail when nothing was archived. Zero disables.
	MaxResultBytes int
	Logger         zerolog.Logger
}

type Handler struct {
	template *graph.Template
	engine   Engine
	images   Materializer
	opts     Options
}

func New(template *graph.Template, eng Engine, images Materializer, opts Options) *Handler {
	return &Handler{
		template: template,
		engine:   eng,
		images:   images,
		opts:     opts,
	}
}

// InputPaths returns the files a job with this id writes before submission
func (h *Handler) InputPaths(jobID string) []string {
	return []string{
		filepath.Join(h.opts.InputDir, jobID+"_head.png"),
		filepath.Join(h.opts.InputDir, jobID+"_body.png"),
	}
}

// Handle runs one job. It never panics and never returns an error; failures
// are reported in Outcome.Result. Files written for the job are removed
// before it returns. progress may be nil.
func (h *Handler) Handle(ctx context.Context, in Input, progress Progress) (out Outcome) {
	start := time.Now()
	out.JobID = in.JobID
	if out.JobID == "" {
		out.JobID = uuid.NewString()
	}

	logger := h.opts.Logger.With().Str("jobId", out.JobID).Logger()
	ctx = logger.WithContext(ctx)

	if progress == nil {
		progress = func(string, int) {}
	}

	metrics.ActiveJobs.Inc()
	var written []string

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("Job panicked")
			out.Result = Failure(fmt.Errorf("execution failed: %v", r))
		}

		RemoveFiles(logger, written)

		out.Duration = time.Since(start)
		metrics.ActiveJobs.Dec()
		metrics.JobDuration.Observe(out.Duration.Seconds())
		if out.Result.OK() {
			metrics.JobsTotal.WithLabelValues(metrics.StatusSucceeded).Inc()
			logger.Info().Dur("duration", out.Duration).Str("checksum", out.Checksum).Msg("Job completed")
		} else {
			metrics.JobsTotal.WithLabelValues(metrics.StatusFailed).Inc()
			logger.Warn().Dur("duration", out.Duration).Str("error", out.Result.Error).Msg("Job failed")
		}
	}()

	// 1. Validate input
	var missing []string
	if strings.TrimSpace(in.HeadImage) == "" {
		missing = append(missing, "head_image")
	}
	if strings.TrimSpace(in.BodyImage) == "" {
		missing = append(missing, "body_image")
	}
	if len(missing) > 0 {
		out.Result = Failure(fmt.Errorf("%w: %s", ErrMissingInput, strings.Join(missing, ", ")))
		return out
	}
	if !jobIDPattern.MatchString(out.JobID) {
		out.Result = Failure(fmt.Errorf("%w: %q", ErrInvalidJobID, out.JobID))
		return out
	}

	// 2. Materialize images under unique names
	paths := h.InputPaths(out.JobID)
	headPath, bodyPath := paths[0], paths[1]
	written = append(written, headPath, bodyPath)

	progress(StageHeadImage, 1)
	if _, err := h.images.Save(ctx, in.HeadImage, headPath); err != nil {
		out.Result = Failure(fmt.Errorf("failed to process input images: head_image: %w", err))
		return out
	}
	progress(StageBodyImage, 1)
	if _, err := h.images.Save(ctx, in.BodyImage, bodyPath); err != nil {
		out.Result = Failure(fmt.Errorf("failed to process input images: body_image: %w", err))
		return out
	}
	logger.Debug().Str("head", headPath).Str("body", bodyPath).Msg("Input images written")

	// 3. Prepare workflow
	g, err := h.prepare(filepath.Base(headPath), filepath.Base(bodyPath))
	if err != nil {
		out.Result = Failure(fmt.Errorf("failed to prepare workflow: %w", err))
		return out
	}

	// 4. Submit with retry
	promptID, err := h.engine.Submit(ctx, g, out.JobID, func(attempt int) {
		progress(StageSubmit, attempt)
	})
	if err != nil {
		out.Result = Failure(err)
		return out
	}
	out.PromptID = promptID

	// 5. Poll for completion
	image, err := h.engine.Wait(ctx, promptID, func(poll int) {
		progress(StagePoll, poll)
	})
	if err != nil {
		out.Result = Failure(err)
		return out
	}

	// 6. Retrieve output
	outputPath, err := h.outputPath(image)
	if err != nil {
		out.Result = Failure(err)
		return out
	}
	written = append(written, outputPath)
	out.OutputName = image.Filename

	data, err := os.ReadFile(outputPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			out.Result = Failure(fmt.Errorf("%w: %s", ErrOutputMissing, outputPath))
		} else {
			out.Result = Failure(fmt.Errorf("failed to read output file: %w", err))
		}
		return out
	}

	sum := sha256.Sum256(data)
	out.Checksum = hex.EncodeToString(sum[:])

	// 7. Archive copy, best effort
	var location string
	if h.opts.Archiver != nil {
		location, err = h.opts.Archiver.Archive(ctx, out.JobID, image.Filename, data)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to archive output")
			location = ""
		}
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	if h.opts.MaxResultBytes > 0 && len(encoded) > h.opts.MaxResultBytes {
		if location == "" {
			out.Result = Failure(fmt.Errorf("%w: %d bytes encoded, limit %d", ErrResultTooLarge, len(encoded), h.opts.MaxResultBytes))
			return out
		}
		logger.Info().Int("bytes", len(encoded)).Str("location", location).Msg("Output exceeds result limit, returning location only")
		encoded = ""
	}

	out.Result = Success(encoded, location)
	return out
}

func (h *Handler) prepare(headName, bodyName string) (graph.Graph, error) {
	g, err := h.template.Instantiate()
	if err != nil {
		return nil, err
	}
	if err := g.SetInput(h.opts.HeadNode, h.opts.InputField, headName); err != nil {
		return nil, err
	}
	if err := g.SetInput(h.opts.BodyNode, h.opts.InputField, bodyName); err != nil {
		return nil, err
	}
	return g, nil
}

// outputPath resolves an engine image descriptor inside OutputDir
func (h *Handler) outputPath(image *engine.Image) (string, error) {
	if image.Filename == "" {
		return "", fmt.Errorf("%w: engine returned an empty filename", ErrOutputMissing)
	}
	p := filepath.Join(h.opts.OutputDir, image.Subfolder, image.Filename)
	rel, err := filepath.Rel(h.opts.OutputDir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("output path escapes output directory: %s", p)
	}
	return p, nil
}

// RemoveFiles deletes paths, ignoring files that do not exist
func RemoveFiles(logger zerolog.Logger, paths []string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Debug().Err(err).Str("path", p).Msg("Failed to remove file")
		}
	}
}
