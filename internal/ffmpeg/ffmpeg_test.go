package ffmpeg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandBuilder_Build(t *testing.T) {
	cmd := NewCommandBuilder("/usr/bin/ffmpeg").
		HideBanner().
		Input("v.mp4").
		Input("a.m4a").
		Map("0:v:0").
		Map("1:a:0").
		VideoCodec("copy").
		AudioCodec("aac").
		Overwrite().
		Output("out.mp4").
		Build()

	assert.Equal(t, []string{
		"-loglevel", "error", "-hide_banner",
		"-i", "v.mp4", "-i", "a.m4a",
		"-map", "0:v:0", "-map", "1:a:0",
		"-c:v", "copy", "-c:a", "aac",
		"-y", "out.mp4",
	}, cmd.Args)
	assert.Equal(t, []string{"v.mp4", "a.m4a"}, cmd.Inputs)
	assert.Equal(t, "out.mp4", cmd.Output)
	assert.Contains(t, cmd.String(), "/usr/bin/ffmpeg -loglevel error")
}

func TestCommandBuilder_LogLevelIgnoresEmpty(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").LogLevel("").Output("o").Build()
	assert.Equal(t, []string{"-loglevel", "error", "o"}, cmd.Args)

	cmd = NewCommandBuilder("ffmpeg").LogLevel("warning").Output("o").Build()
	assert.Equal(t, "warning", cmd.Args[1])
}

func TestExecTranscoder_BuildCommand(t *testing.T) {
	tr := NewExecTranscoder("ffmpeg", "error", nil)

	tests := []struct {
		name      string
		codec     string
		wantAudio string
	}{
		{"copy for webm", CopyCodec, "copy"},
		{"aac for mp4", "aac", "aac"},
		{"empty defaults to copy", "", "copy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := tr.BuildCommand(MuxJob{
				VideoPath:  "/s/video",
				AudioPath:  "/s/audio",
				OutputPath: "/s/out.webm",
				AudioCodec: tt.codec,
			})

			assert.Equal(t, []string{
				"-loglevel", "error", "-hide_banner", "-nostdin",
				"-i", "/s/video", "-i", "/s/audio",
				"-map", "0:v:0", "-map", "1:a:0",
				"-c:v", "copy", "-c:a", tt.wantAudio,
				"-y", "/s/out.webm",
			}, cmd.Args)
		})
	}
}

func TestParseVersion(t *testing.T) {
	out := "ffmpeg version 6.1.1-3ubuntu5 Copyright (c) 2000-2023 the FFmpeg developers\nbuilt with gcc 13\n"
	info, err := parseVersion(out)
	require.NoError(t, err)
	assert.Equal(t, "6.1.1-3ubuntu5", info.Version)
	assert.Equal(t, 6, info.MajorVersion)
	assert.Equal(t, 1, info.MinorVersion)

	info, err = parseVersion("ffmpeg version n7.0-12-gabc Copyright")
	require.NoError(t, err)
	assert.Equal(t, 7, info.MajorVersion)

	_, err = parseVersion("not ffmpeg at all")
	assert.Error(t, err)
}

func TestParseEncoders(t *testing.T) {
	out := `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC
 A....D aac                  AAC (Advanced Audio Coding)
 A....D libopus              libopus Opus
 S..... srt                  SubRip subtitle
`
	encoders := parseEncoders(out)
	assert.Equal(t, []string{"libx264", "aac", "libopus", "srt"}, encoders)

	info := &BinaryInfo{Encoders: encoders, MajorVersion: 6, MinorVersion: 1}
	assert.True(t, info.HasEncoder("aac"))
	assert.False(t, info.HasEncoder("libmp3lame"))
	assert.True(t, info.SupportsMinVersion(5, 9))
	assert.True(t, info.SupportsMinVersion(6, 1))
	assert.False(t, info.SupportsMinVersion(6, 2))
	assert.False(t, info.SupportsMinVersion(7, 0))
}

func TestExitError(t *testing.T) {
	cause := errors.New("exit status 1")
	err := &ExitError{Err: cause, Stderr: "Invalid data found"}
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "ffmpeg: exit status 1: Invalid data found", err.Error())
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestExecTranscoder_Mux_Failure(t *testing.T) {
	bin := writeScript(t, "echo 'first line' >&2\necho 'Invalid data found when processing input' >&2\nexit 1\n")
	tr := NewExecTranscoder(bin, "error", nil)

	err := tr.Mux(context.Background(), MuxJob{VideoPath: "v", AudioPath: "a", OutputPath: "o"})

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Contains(t, exitErr.Stderr, "first line | Invalid data found")
}

func TestExecTranscoder_Mux_Success(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.webm")
	// The output path is the last argument.
	bin := writeScript(t, "for last; do :; done\nprintf merged > \"$last\"\n")
	tr := NewExecTranscoder(bin, "error", nil)

	require.NoError(t, tr.Mux(context.Background(), MuxJob{VideoPath: "v", AudioPath: "a", OutputPath: out}))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "merged", string(data))
}

func TestExecTranscoder_Mux_Deadline(t *testing.T) {
	bin := writeScript(t, "exec sleep 5\n")
	tr := NewExecTranscoder(bin, "error", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := tr.Mux(ctx, MuxJob{VideoPath: "v", AudioPath: "a", OutputPath: "o"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 4*time.Second)
}
