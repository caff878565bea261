package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// Static errors for media operations.
var (
	// ErrInvalidSize is returned when the output size is not a positive even number.
	ErrInvalidSize = errors.New("media: invalid size: must be positive and even")
	// ErrInvalidBackground is returned when the background color cannot be passed to ffmpeg.
	ErrInvalidBackground = errors.New("media: invalid background color")
	// ErrTransformFailed is returned when ffmpeg exits unsuccessfully.
	ErrTransformFailed = errors.New("media: transform failed")
	// ErrFFmpegNotFound is returned when the ffmpeg binary cannot be executed.
	ErrFFmpegNotFound = errors.New("media: ffmpeg not found")
)

// maxStderrTail bounds how much ffmpeg stderr is kept on an error.
const maxStderrTail = 2048

var backgroundPattern = regexp.MustCompile(`^(#[0-9A-Fa-f]{6}|[A-Za-z]+)$`)

// Compile-time check that FFmpegTransformer implements Transformer.
var _ Transformer = (*FFmpegTransformer)(nil)

// FFmpegTransformer implements Transformer using the ffmpeg CLI.
type FFmpegTransformer struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	policy     Policy
}

// NewFFmpegTransformer creates a new FFmpegTransformer.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
// An empty policy means PolicyCrop.
func NewFFmpegTransformer(ffmpegPath string, policy Policy) *FFmpegTransformer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if policy == "" {
		policy = PolicyCrop
	}
	return &FFmpegTransformer{ffmpegPath: ffmpegPath, policy: policy}
}

// Policy returns the configured transform policy.
func (t *FFmpegTransformer) Policy() Policy {
	return t.policy
}

// CheckAvailable verifies that the configured ffmpeg binary can be run.
func (t *FFmpegTransformer) CheckAvailable(ctx context.Context) error {
	if _, err := exec.LookPath(t.ffmpegPath); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrFFmpegNotFound, t.ffmpegPath, err)
	}
	return t.runFFmpeg(ctx, []string{"-hide_banner", "-version"})
}

// TransformToSquare reads in, writes a size x size clip to out and fills
// any padding with background.
func (t *FFmpegTransformer) TransformToSquare(ctx context.Context, in, out string, size int, background string) error {
	args, err := buildArgs(t.policy, in, out, size, background)
	if err != nil {
		return err
	}
	return t.runFFmpeg(ctx, args)
}

// ValidateSize reports whether size can be used as the output side length.
func ValidateSize(size int) error {
	if size <= 0 || size%2 != 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	return nil
}

// ValidateBackground reports whether color can be passed to ffmpeg as a
// padding color: "#RRGGBB" or a plain color name. Empty means black.
func ValidateBackground(color string) error {
	if color != "" && !backgroundPattern.MatchString(color) {
		return fmt.Errorf("%w: %q", ErrInvalidBackground, color)
	}
	return nil
}

// buildArgs returns the ffmpeg argument vector for a policy.
func buildArgs(policy Policy, in, out string, size int, background string) ([]string, error) {
	if err := ValidateSize(size); err != nil {
		return nil, err
	}
	if err := ValidateBackground(background); err != nil {
		return nil, err
	}
	if background == "" {
		background = "black"
	}

	s := strconv.Itoa(size)
	squareCrop := "crop='min(iw,ih)':'min(iw,ih)',scale=" + s + ":" + s + ",setsar=1"

	var filter string
	switch policy {
	case PolicyCrop, "":
		filter = squareCrop
	case PolicyPad:
		color := strings.Replace(background, "#", "0x", 1)
		filter = fmt.Sprintf("scale=%s:%s:force_original_aspect_ratio=decrease,pad=%s:%s:(ow-iw)/2:(oh-ih)/2:color=%s,setsar=1",
			s, s, s, s, color)
	case PolicyCircle:
		filter = squareCrop + ",format=yuva420p," +
			"geq=lum='p(X,Y)':cb='cb(X,Y)':cr='cr(X,Y)':a='if(lte(hypot(X-W/2,Y-H/2),W/2),255,0)'"
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
	}

	args := []string{
		"-y",     // Overwrite output file without asking
		"-i", in, // Input file
		"-vf", filter, // Square filter chain
		"-r", "25", // Video note frame rate
	}

	if policy == PolicyCircle {
		args = append(args,
			"-c:v", "libvpx-vp9",
			"-pix_fmt", "yuva420p",
			"-b:v", "0", "-crf", "32",
			"-c:a", "libopus",
			"-b:a", "96k",
			out,
		)
		return args, nil
	}

	args = append(args,
		"-c:v", "libx264",
		"-profile:v", "baseline",
		"-level", "3.0",
		"-pix_fmt", "yuv420p",
		"-crf", "20",
		"-preset", "veryfast",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart", // Playable before fully downloaded
		out,
	)
	return args, nil
}

// runFFmpeg executes ffmpeg with the given arguments. Stdout and stderr are
// captured so that a chatty encoder never blocks on a full pipe.
func (t *FFmpegTransformer) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, t.ffmpegPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		// Check if context was cancelled
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return &FFmpegError{
			Args:     args,
			ExitCode: exitCode,
			Stderr:   tail(stderr.String(), maxStderrTail),
			Err:      err,
		}
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the tail of
// its stderr output.
type FFmpegError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error (exit %d): %v\nargs: %v\nstderr: %s", e.ExitCode, e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() []error {
	return []error{ErrTransformFailed, e.Err}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
