package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fetchrelay/types"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dhowden/tag"
	"github.com/google/uuid"
)

const (
	DefaultFetchBinary  = "yt-dlp"
	DefaultFetchTimeout = 2 * time.Hour
	DefaultProbeTimeout = 45 * time.Second

	// diagnostic lines kept for error messages
	diagnosticTail = 6
)

// FetchOptions are the per-user knobs passed to the fetch tool
type FetchOptions struct {
	Proxy   *types.ProxyConfig
	Cookies string
}

// FetchRequest describes one fetch run
type FetchRequest struct {
	JobID    string
	URL      string
	Kind     types.OutputKind
	Quality  string
	Duration float64
	Options  FetchOptions
}

// Artifact is the file a successful fetch left behind
type Artifact struct {
	Path  string
	Size  int64
	Title string
}

// Fetcher probes and downloads remote media. The real implementation shells
// out to yt-dlp; tests substitute their own.
type Fetcher interface {
	Probe(ctx context.Context, url string, opts FetchOptions) (*types.MediaInfo, error)
	Fetch(ctx context.Context, req FetchRequest, onProgress func(ProgressUpdate) error) (*Artifact, error)
}

// YtDlpFetcher runs the yt-dlp binary as a subprocess
type YtDlpFetcher struct {
	Binary       string
	OutputDir    string
	Timeout      time.Duration
	ProbeTimeout time.Duration
	// PlayerClient selects a client-emulation mode to get past bot checks
	PlayerClient string
}

// NewYtDlpFetcher creates a fetcher writing artifacts into outputDir
func NewYtDlpFetcher(binary, outputDir string) *YtDlpFetcher {
	if binary == "" {
		binary = DefaultFetchBinary
	}
	return &YtDlpFetcher{
		Binary:       binary,
		OutputDir:    outputDir,
		Timeout:      DefaultFetchTimeout,
		ProbeTimeout: DefaultProbeTimeout,
	}
}

// ArtifactPath is where the artifact of jobID ends up
func (f *YtDlpFetcher) ArtifactPath(jobID string, kind types.OutputKind) string {
	return filepath.Join(f.OutputDir, jobID+"."+kind.Extension())
}

// Probe asks the tool for metadata without downloading anything
func (f *YtDlpFetcher) Probe(ctx context.Context, url string, opts FetchOptions) (*types.MediaInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, f.ProbeTimeout)
	defer cancel()

	args := []string{"--dump-single-json", "--no-playlist", "--skip-download", "--no-warnings"}
	optArgs, cleanup, err := f.optionArgs("probe-"+uuid.NewString(), opts)
	if err != nil {
		return nil, &ProbeError{URL: url, Err: err}
	}
	defer cleanup()
	args = append(args, optArgs...)
	args = append(args, "--", url)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.Binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &ProbeError{URL: url, Err: fmt.Errorf("timed out after %s", f.ProbeTimeout)}
		}
		msg := lastLines(stderr.String(), 2)
		if msg == "" {
			msg = err.Error()
		}
		return nil, &ProbeError{URL: url, Err: errors.New(msg)}
	}

	var info types.MediaInfo
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return nil, &ProbeError{URL: url, Err: fmt.Errorf("unreadable metadata: %w", err)}
	}
	return &info, nil
}

// Fetch downloads and transcodes req.URL. Every output line of the tool goes
// through one ProgressParser and onProgress is called in emission order. A
// non-nil return from onProgress stops the tool and is returned as is.
func (f *YtDlpFetcher) Fetch(ctx context.Context, req FetchRequest, onProgress func(ProgressUpdate) error) (*Artifact, error) {
	if err := os.MkdirAll(f.OutputDir, 0755); err != nil {
		return nil, &FetchError{Reason: "cannot create artifact directory", Err: err}
	}

	optArgs, cleanup, err := f.optionArgs(req.JobID, req.Options)
	if err != nil {
		return nil, &FetchError{Reason: "invalid fetch options", Err: err}
	}
	defer cleanup()

	runCtx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	args := append(f.BuildArgs(req), optArgs...)
	args = append(args, "--", req.URL)

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()

	cmd := exec.CommandContext(runCtx, f.Binary, args...)
	cmd.Stdout = outW
	cmd.Stderr = errW
	cmd.WaitDelay = 5 * time.Second

	if err := cmd.Start(); err != nil {
		return nil, &FetchError{Reason: "failed to start " + f.Binary, Err: err}
	}
	log.Printf("Fetch started for job %s: %s %s", req.JobID, f.Binary, strings.Join(redactArgs(args), " "))

	waitErr := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		outW.Close()
		errW.Close()
		waitErr <- err
	}()

	lines := make(chan string, 64)
	var wg sync.WaitGroup
	for _, r := range []io.Reader{outR, errR} {
		wg.Add(1)
		go func(r io.Reader) {
			defer wg.Done()
			scanLines(r, lines)
		}(r)
	}
	go func() {
		wg.Wait()
		close(lines)
	}()

	parser := NewProgressParser(req.Duration)
	var diagnostics []string
	var callbackErr error

	for line := range lines {
		update, ok := parser.Parse(line)
		if !ok {
			if trimmed := strings.TrimSpace(line); trimmed != "" && !strings.HasPrefix(trimmed, "[download]") {
				diagnostics = appendTail(diagnostics, trimmed, diagnosticTail)
			}
			continue
		}
		if callbackErr != nil || onProgress == nil {
			continue
		}
		if err := onProgress(update); err != nil {
			callbackErr = err
			cancel()
		}
	}

	err = <-waitErr
	switch {
	case callbackErr != nil:
		return nil, callbackErr
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return nil, &FetchError{Reason: fmt.Sprintf("fetch timed out after %s", f.Timeout), Output: strings.Join(diagnostics, "\n")}
	case ctx.Err() != nil:
		return nil, &FetchError{Reason: "fetch cancelled", Err: ctx.Err()}
	case err != nil:
		return nil, &FetchError{Reason: f.Binary + " failed", Err: err, Output: strings.Join(diagnostics, "\n")}
	}

	path := f.ArtifactPath(req.JobID, req.Kind)
	info, err := os.Stat(path)
	if err != nil {
		return nil, &FetchError{Reason: "artifact missing after fetch", Err: err}
	}

	artifact := &Artifact{Path: path, Size: info.Size()}
	if req.Kind == types.KindAudio {
		artifact.Title = readTitle(path)
	}
	return artifact, nil
}

// BuildArgs returns the format and output arguments for req
func (f *YtDlpFetcher) BuildArgs(req FetchRequest) []string {
	args := []string{
		"--newline",
		"--no-playlist",
		"--no-mtime",
		"-o", filepath.Join(f.OutputDir, req.JobID+".%(ext)s"),
	}

	if req.Kind == types.KindAudio {
		return append(args, "-x", "--audio-format", "mp3", "--audio-quality", "0", "--embed-metadata")
	}

	// the single-file fallback may be webm; remux so the artifact is always mp4
	return append(args, "-f", formatSelector(req.Quality), "--merge-output-format", "mp4", "--remux-video", "mp4")
}

// optionArgs renders proxy, cookie and bypass flags. Cookies are written to a
// side file readable only by this user; cleanup removes it.
func (f *YtDlpFetcher) optionArgs(name string, opts FetchOptions) ([]string, func(), error) {
	var args []string
	cleanup := func() {}

	if opts.Proxy != nil {
		if err := opts.Proxy.Validate(); err != nil {
			return nil, cleanup, err
		}
		args = append(args, "--proxy", opts.Proxy.URL())
	}

	if opts.Cookies != "" {
		dir := filepath.Join(f.OutputDir, ".cookies")
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, cleanup, fmt.Errorf("cannot create cookie directory: %w", err)
		}
		path := filepath.Join(dir, name+".txt")
		if err := os.WriteFile(path, []byte(opts.Cookies), 0600); err != nil {
			return nil, cleanup, fmt.Errorf("cannot write cookie file: %w", err)
		}
		cleanup = func() { os.Remove(path) }
		args = append(args, "--cookies", path)
	}

	if f.PlayerClient != "" {
		args = append(args, "--extractor-args", "youtube:player_client="+f.PlayerClient)
	}

	return args, cleanup, nil
}

func formatSelector(quality string) string {
	if quality == "" || quality == types.QualityBest {
		return "bestvideo+bestaudio/best"
	}
	height := strings.TrimSuffix(quality, "p")
	return fmt.Sprintf("bestvideo[height<=%s]+bestaudio/best[height<=%s]", height, height)
}

// scanLines splits on both \n and \r so carriage-return progress redraws
// arrive as separate lines
func scanLines(r io.Reader, out chan<- string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(func(data []byte, atEOF bool) (int, []byte, error) {
		if atEOF && len(data) == 0 {
			return 0, nil, nil
		}
		if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
			return i + 1, data[:i], nil
		}
		if atEOF {
			return len(data), data, nil
		}
		return 0, nil, nil
	})
	for scanner.Scan() {
		out <- scanner.Text()
	}
	// keep draining so the subprocess never blocks on a full pipe
	io.Copy(io.Discard, r)
}

// readTitle pulls the title tag out of an audio artifact
func readTitle(path string) string {
	file, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer file.Close()

	meta, err := tag.ReadFrom(file)
	if err != nil {
		log.Printf("Warning: Could not read tags from %s: %v", path, err)
		return ""
	}
	return strings.TrimSpace(meta.Title())
}

func redactArgs(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	for i := 0; i < len(out)-1; i++ {
		if out[i] == "--proxy" {
			out[i+1] = "<redacted>"
		}
	}
	return out
}

func appendTail(lines []string, line string, limit int) []string {
	lines = append(lines, line)
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return lines
}

func lastLines(s string, n int) string {
	var kept []string
	for _, line := range strings.Split(strings.TrimSpace(s), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			kept = appendTail(kept, line, n)
		}
	}
	return strings.Join(kept, "\n")
}
