// Package codectest provides a stand-in for the external decoder so the
// transcode pipeline can be exercised without ffmpeg installed.
package codectest

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// CopyRunner pretends to be ffmpeg: it copies the file after "-i" to the last
// argument.
type CopyRunner struct {
	// Delay is slept before each copy, to widen race windows in tests.
	Delay time.Duration
	// Err, when set, is returned instead of copying.
	Err error

	calls atomic.Int64

	mu   sync.Mutex
	args [][]string
}

func (r *CopyRunner) Run(ctx context.Context, _ string, args ...string) error {
	r.calls.Add(1)
	r.mu.Lock()
	r.args = append(r.args, append([]string(nil), args...))
	r.mu.Unlock()

	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if r.Err != nil {
		return r.Err
	}

	var in string
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "-i" {
			in = args[i+1]
		}
	}
	if in == "" || len(args) == 0 {
		return fmt.Errorf("no input in %v", args)
	}

	return copyFile(in, args[len(args)-1])
}

// Calls returns how many times Run was invoked.
func (r *CopyRunner) Calls() int {
	return int(r.calls.Load())
}

// Args returns the argument lists of every call so far.
func (r *CopyRunner) Args() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.args...)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
