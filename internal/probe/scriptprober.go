package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/hamed0406/healthwatch/internal/domain"
)

const maxScriptOutput = 512

// ScriptProber runs the channel's command; exit status 0 is success.
type ScriptProber struct{}

func NewScriptProber() *ScriptProber { return &ScriptProber{} }

func (ScriptProber) Probe(ctx context.Context, ch domain.Channel) Result {
	cmd := exec.CommandContext(ctx, ch.Command, ch.Args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	start := time.Now()
	err := cmd.Run()
	latency := sinceMS(start)

	text := strings.TrimSpace(out.String())
	if len(text) > maxScriptOutput {
		text = text[len(text)-maxScriptOutput:]
	}
	res := Result{Success: err == nil, LatencyMS: latency, Details: map[string]any{"output": text}}
	if err == nil {
		res.Details["exitCode"] = 0
		return res
	}

	var exitErr *exec.ExitError
	switch {
	case ctx.Err() != nil:
		res.Error = fmt.Sprintf("script timed out: %v", ctx.Err())
	case errors.As(err, &exitErr):
		res.Details["exitCode"] = exitErr.ExitCode()
		res.Error = fmt.Sprintf("exit status %d", exitErr.ExitCode())
		if text != "" {
			res.Error += ": " + lastLine(text)
		}
	default:
		res.Error = err.Error()
	}
	return res
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
