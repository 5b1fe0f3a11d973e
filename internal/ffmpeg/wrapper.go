package ffmpeg

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	// maxStderrLines bounds the stderr tail kept for diagnostics.
	maxStderrLines = 50
	waitDelay      = 2 * time.Second
)

// Command is a built FFmpeg invocation.
type Command struct {
	Binary  string
	Args    []string
	Inputs  []string
	Output  string
	started time.Time
	stderr  tailWriter
}

// CommandBuilder builds FFmpeg commands with a fluent API.
type CommandBuilder struct {
	binary     string
	globalArgs []string
	inputs     []string
	mapArgs    []string
	outputArgs []string
	output     string
	logLevel   string
	overwrite  bool
}

// NewCommandBuilder creates a new FFmpeg command builder.
func NewCommandBuilder(ffmpegPath string) *CommandBuilder {
	return &CommandBuilder{
		binary:   ffmpegPath,
		logLevel: "error",
	}
}

// LogLevel sets the FFmpeg log level.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	if level != "" {
		b.logLevel = level
	}
	return b
}

// HideBanner hides the FFmpeg banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// NoStdin stops FFmpeg from reading the terminal.
func (b *CommandBuilder) NoStdin() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-nostdin")
	return b
}

// Overwrite enables output file overwriting.
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.overwrite = true
	return b
}

// Input appends an input file. Inputs are numbered in the order added.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.inputs = append(b.inputs, input)
	return b
}

// Map selects a stream for the output, e.g. "0:v:0".
func (b *CommandBuilder) Map(spec string) *CommandBuilder {
	b.mapArgs = append(b.mapArgs, "-map", spec)
	return b
}

// VideoCodec sets the video codec.
func (b *CommandBuilder) VideoCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:v", codec)
	return b
}

// AudioCodec sets the audio codec.
func (b *CommandBuilder) AudioCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:a", codec)
	return b
}

// OutputArgs adds arbitrary output arguments.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// Output sets the output destination.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// Build builds the command. Argument order is global options, inputs, stream
// maps, output options, overwrite flag and finally the output path.
func (b *CommandBuilder) Build() *Command {
	args := []string{"-loglevel", b.logLevel}
	args = append(args, b.globalArgs...)

	for _, in := range b.inputs {
		args = append(args, "-i", in)
	}
	args = append(args, b.mapArgs...)
	args = append(args, b.outputArgs...)

	if b.overwrite {
		args = append(args, "-y")
	}
	args = append(args, b.output)

	return &Command{
		Binary: b.binary,
		Args:   args,
		Inputs: append([]string(nil), b.inputs...),
		Output: b.output,
	}
}

// String returns the command as a string.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Run executes the command and waits for completion. The process is killed
// when ctx is done. Stderr is captured for StderrTail.
func (c *Command) Run(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, c.Binary, c.Args...)
	cmd.Stderr = &c.stderr
	// Bound the wait for stderr if a killed process leaves children holding it.
	cmd.WaitDelay = waitDelay

	c.started = time.Now()
	return cmd.Run()
}

// Duration returns how long the command has been running, or ran.
func (c *Command) Duration() time.Duration {
	if c.started.IsZero() {
		return 0
	}
	return time.Since(c.started)
}

// StderrTail returns the most recent stderr lines joined by " | ".
func (c *Command) StderrTail() string {
	return c.stderr.String()
}

// tailWriter keeps the last maxStderrLines non-empty lines written to it.
type tailWriter struct {
	mu      sync.Mutex
	partial []byte
	lines   []string
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.push(string(w.partial[:i]))
		w.partial = w.partial[i+1:]
	}
	return len(p), nil
}

func (w *tailWriter) push(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if len(w.lines) >= maxStderrLines {
		w.lines = w.lines[1:]
	}
	w.lines = append(w.lines, line)
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	lines := w.lines
	if rest := strings.TrimSpace(string(w.partial)); rest != "" {
		lines = append(append([]string(nil), lines...), rest)
	}
	return strings.Join(lines, " | ")
}
