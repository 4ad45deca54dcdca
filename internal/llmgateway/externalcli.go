package llmgateway

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/obra-run/obra/internal/errs"
)

// ExternalCLI drives a scoring-only command-line model (e.g. a local
// llama.cpp wrapper or a cheap hosted-model CLI) the same way the Agent
// Driver's local variant drives the Implementer: one subprocess per call,
// prompt on stdin or as a trailing argument, reply on stdout.
type ExternalCLI struct {
	command string
	args    []string
}

// NewExternalCLI builds a gateway around an arbitrary command. args are
// passed before the prompt, which is appended as the final argument.
func NewExternalCLI(command string, args ...string) *ExternalCLI {
	return &ExternalCLI{command: command, args: args}
}

func (e *ExternalCLI) Name() string { return "external-cli" }

func (e *ExternalCLI) Available(ctx context.Context) bool {
	_, err := exec.LookPath(e.command)
	return err == nil
}

func (e *ExternalCLI) Send(ctx context.Context, prompt string, opts SendOptions) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	args := append(append([]string(nil), e.args...), prompt)
	cmd := exec.CommandContext(ctx, e.command, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		return nil, errs.Wrap(errs.KindTransport, "llmgateway.external-cli", e.command, "scoring command failed: "+msg, err)
	}

	return &Response{Text: strings.TrimSpace(stdout.String())}, nil
}
