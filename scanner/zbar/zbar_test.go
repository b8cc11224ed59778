package zbar

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ytget/qrplay/errs"
	"github.com/ytget/qrplay/scanner"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestReadCodes(t *testing.T) {
	in := strings.Join([]string{
		"QR-Code:https://youtu.be/dQw4w9WgXcQ",
		"",
		"   ",
		"https://www.youtube.com/watch?v=abcdefghijk",
		"QR-Code:",
	}, "\n")

	var got []string
	readCodes(strings.NewReader(in), func(s string) { got = append(got, s) })

	want := []string{"https://youtu.be/dQw4w9WgXcQ", "https://www.youtube.com/watch?v=abcdefghijk"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("readCodes() = %v, want %v", got, want)
	}
}

func TestReadCodes_DrainsAfterOversizedLine(t *testing.T) {
	r, w := io.Pipe()
	written := make(chan error, 1)
	go func() {
		_, err := io.WriteString(w, "https://youtu.be/dQw4w9WgXcQ\n"+strings.Repeat("x", 70<<10)+"\nhttps://youtu.be/abcdefghijk\n")
		w.Close()
		written <- err
	}()

	var got []string
	readCodes(r, func(s string) { got = append(got, s) })

	select {
	case err := <-written:
		if err != nil {
			t.Fatalf("writer error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("decoder output blocked after an oversized line")
	}
	if len(got) == 0 || got[0] != "https://youtu.be/dQw4w9WgXcQ" {
		t.Errorf("readCodes() = %v", got)
	}
}

func TestArgs(t *testing.T) {
	if got, want := New().Args(), []string{"--raw", "--nodisplay"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Args() = %v, want %v", got, want)
	}
	if got, want := New().WithDevice("/dev/video2").Args(), []string{"--raw", "--nodisplay", "/dev/video2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Args() = %v, want %v", got, want)
	}
}

func TestExitFailure(t *testing.T) {
	tests := []struct {
		stderr string
		want   error
	}{
		{"ERROR: zbar processor in _zbar_video_open():\n    opening video device '/dev/video0' (EACCES): Permission denied", errs.ErrPermissionDenied},
		{"VIDIOC_S_FMT: Device or resource busy", errs.ErrDeviceBusy},
		{"opening video device '/dev/video9': No such file or directory", errs.ErrDeviceNotFound},
		{"segmentation fault", errs.ErrStartFailed},
		{"", errs.ErrStartFailed},
	}
	for _, tt := range tests {
		err := exitFailure(errors.New("exit status 1"), tt.stderr)
		if !errors.Is(err, tt.want) {
			t.Errorf("exitFailure(%q) = %v, want %v", tt.stderr, err, tt.want)
		}
	}
}

func TestStart_Failures(t *testing.T) {
	requireShell(t)
	tests := []struct {
		name    string
		command []string
		want    error
	}{
		{"missing binary", []string{"qrplay-no-such-decoder"}, errs.ErrDeviceNotFound},
		{"permission", []string{"sh", "-c", "echo '/dev/video0: Permission denied' >&2; exit 1"}, errs.ErrPermissionDenied},
		{"busy", []string{"sh", "-c", "echo 'Device or resource busy' >&2; exit 1"}, errs.ErrDeviceBusy},
		{"silent exit", []string{"sh", "-c", "exit 3"}, errs.ErrStartFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New().WithCommand(tt.command[0], tt.command[1:]...).WithStartupGrace(2 * time.Second)
			err := c.Start(context.Background(), scanner.FacingEnvironment, scanner.DefaultConfig(), func(string) {}, func(error) {})
			if !errors.Is(err, tt.want) {
				t.Fatalf("Start() error = %v, want %v", err, tt.want)
			}
			if got := scanner.Classify(err); !errors.Is(got, tt.want) {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
			if err := c.Stop(context.Background()); !errors.Is(err, errs.ErrNotScanning) {
				t.Errorf("Stop() after failed start = %v, want ErrNotScanning", err)
			}
		})
	}
}

func TestStartDecodeStop(t *testing.T) {
	requireShell(t)
	c := New().
		WithCommand("sh", "-c", "echo 'QR-Code:https://youtu.be/dQw4w9WgXcQ'; exec sleep 30").
		WithStartupGrace(50 * time.Millisecond)

	var mu sync.Mutex
	var got []string
	onSuccess := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, s)
	}
	if err := c.Start(context.Background(), scanner.FacingEnvironment, scanner.DefaultConfig(), onSuccess, func(error) {}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := c.Start(context.Background(), scanner.FacingEnvironment, scanner.DefaultConfig(), onSuccess, nil); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("second Start() = %v, want already running", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	mu.Lock()
	if len(got) != 1 || got[0] != "https://youtu.be/dQw4w9WgXcQ" {
		t.Errorf("decoded = %v", got)
	}
	mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := c.Stop(ctx); !errors.Is(err, errs.ErrNotScanning) {
		t.Errorf("second Stop() = %v, want ErrNotScanning", err)
	}
	if err := c.Clear(); err != nil {
		t.Errorf("Clear() error = %v", err)
	}
}

func TestDecoderExitReported(t *testing.T) {
	requireShell(t)
	c := New().
		WithCommand("sh", "-c", "sleep 0.2; echo 'Device or resource busy' >&2; exit 1").
		WithStartupGrace(20 * time.Millisecond)

	failed := make(chan error, 1)
	if err := c.Start(context.Background(), scanner.FacingEnvironment, scanner.DefaultConfig(), func(string) {}, func(err error) { failed <- err }); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	select {
	case err := <-failed:
		if !errors.Is(err, errs.ErrDeviceBusy) {
			t.Errorf("onFailure error = %v, want busy", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("decoder exit not reported")
	}
	if err := c.Stop(context.Background()); !errors.Is(err, errs.ErrNotScanning) {
		t.Errorf("Stop() after exit = %v, want ErrNotScanning", err)
	}
}
