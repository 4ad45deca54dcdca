package agentdriver

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/obra-run/obra/internal/errs"
)

// RemoteConfig carries the SSH connection details for a Remote driver, in
// addition to the common Config fields (Command, WorkDir, Model apply the
// same way on the far side).
type RemoteConfig struct {
	Host       string
	Port       int
	User       string
	Signer     ssh.Signer
	KnownHosts ssh.HostKeyCallback
	DialTimeout time.Duration
}

// Remote drives the Implementer over SSH on another host: it keeps a
// single authenticated connection open and runs one command per
// send_prompt, the same one-process-per-call shape as Local but with the
// process living on a remote machine (e.g. a beefier build box).
type Remote struct {
	mu           sync.Mutex
	cfg          Config
	rcfg         RemoteConfig
	client       *ssh.Client
	restartCount int
	lastLatency  time.Duration
	alive        bool
	onToolAction func(string)
}

// NewRemote constructs a Remote driver for the given SSH target.
func NewRemote(rcfg RemoteConfig, onToolAction func(string)) *Remote {
	return &Remote{rcfg: rcfg, onToolAction: onToolAction}
}

func (r *Remote) Initialize(ctx context.Context, cfg Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cfg.Command == "" {
		cfg.Command = "claude"
	}
	if r.rcfg.Port == 0 {
		r.rcfg.Port = 22
	}
	if r.rcfg.KnownHosts == nil {
		return errs.New(errs.KindConfiguration, "agentdriver.remote", r.rcfg.Host, fmt.Errorf("host key callback required"))
	}

	timeout := r.rcfg.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	sshCfg := &ssh.ClientConfig{
		User:            r.rcfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(r.rcfg.Signer)},
		HostKeyCallback: r.rcfg.KnownHosts,
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(r.rcfg.Host, fmt.Sprintf("%d", r.rcfg.Port))
	client, err := ssh.Dial("tcp", addr, sshCfg)
	if err != nil {
		return errs.Wrap(errs.KindTransport, "agentdriver.remote", r.rcfg.Host, "dial implementer host", err)
	}

	r.client = client
	r.cfg = cfg
	r.alive = true
	return nil
}

func (r *Remote) SendPrompt(ctx context.Context, prompt string, opts SendOptions) (*Response, error) {
	r.mu.Lock()
	client := r.client
	cfg := r.cfg
	r.mu.Unlock()

	if client == nil {
		return nil, errs.New(errs.KindTransport, "agentdriver.remote", "", fmt.Errorf("not initialized"))
	}

	session, err := client.NewSession()
	if err != nil {
		r.recordFailure()
		return nil, errs.Wrap(errs.KindTransport, "agentdriver.remote", "", "open ssh session", err)
	}
	defer session.Close()

	stdout, err := session.StdoutPipe()
	if err != nil {
		return nil, errs.Wrap(errs.KindTransport, "agentdriver.remote", "", "attach stdout", err)
	}
	var stderrBuf strings.Builder
	session.Stderr = &stderrBuf

	cmd := buildRemoteCommand(cfg, prompt, opts)

	start := time.Now()
	if err := session.Start(cmd); err != nil {
		r.recordFailure()
		return nil, errs.Wrap(errs.KindTransport, "agentdriver.remote", "", "start remote implementer", err)
	}

	resp := &Response{}
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for sc.Scan() {
			line := sc.Bytes()
			if len(line) == 0 {
				continue
			}
			ev, perr := parseEvent(line)
			if perr != nil {
				continue
			}
			if ev.ToolAction != "" && r.onToolAction != nil {
				r.onToolAction(ev.ToolAction)
			}
			if ev.Type == streamResult {
				resp.Content = ev.Result
				resp.SessionID = ev.SessionID
				resp.Usage = ev.Usage
				resp.DurationMS = ev.DurationMS
				resp.NumTurns = ev.NumTurns
				resp.ErrorSubtype = ev.ErrorSubtype
			}
		}
	}()

	waitErr := make(chan error, 1)
	go func() { waitErr <- session.Wait() }()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return nil, errs.Wrap(errs.KindCancellation, "agentdriver.remote", opts.SessionID, "context cancelled", ctx.Err())
	case err := <-waitErr:
		<-done
		r.mu.Lock()
		r.lastLatency = time.Since(start)
		r.mu.Unlock()
		if err != nil {
			r.recordFailure()
			msg := fmt.Sprintf("remote implementer exited: %v", err)
			if s := stderrBuf.String(); s != "" {
				msg += "; stderr: " + s
			}
			return nil, errs.Wrap(errs.KindTransport, "agentdriver.remote", opts.SessionID, msg, err)
		}
	}

	if resp.Content == "" && resp.SessionID == "" {
		return nil, errs.New(errs.KindSchema, "agentdriver.remote", opts.SessionID, fmt.Errorf("no result event observed in remote output"))
	}
	return resp, nil
}

// buildRemoteCommand renders a shell command line for the remote side.
// Arguments are single-quoted; the prompt is the only field with
// untrusted content and is quoted defensively.
func buildRemoteCommand(cfg Config, prompt string, opts SendOptions) string {
	var b strings.Builder
	b.WriteString(shQuote(cfg.Command))
	b.WriteString(" --output-format stream-json --print --verbose --allowedTools Read,Write,Edit,Bash,Glob,Grep,WebFetch")
	if cfg.Model != "" {
		b.WriteString(" --model ")
		b.WriteString(shQuote(cfg.Model))
	}
	if opts.MaxTurns > 0 {
		b.WriteString(fmt.Sprintf(" --max-turns %d", opts.MaxTurns))
	}
	if opts.SessionID != "" {
		b.WriteString(" --resume ")
		b.WriteString(shQuote(opts.SessionID))
	}
	if opts.BypassInteractivePermissions {
		b.WriteString(" --dangerously-skip-permissions")
	}
	b.WriteString(" -p ")
	b.WriteString(shQuote(prompt))

	if cfg.WorkDir != "" {
		return fmt.Sprintf("cd %s && %s", shQuote(cfg.WorkDir), b.String())
	}
	return b.String()
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func (r *Remote) recordFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restartCount++
}

func (r *Remote) Health() Health {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Health{Alive: r.alive, LastLatency: r.lastLatency, RestartCount: r.restartCount}
}

func (r *Remote) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alive = false
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
