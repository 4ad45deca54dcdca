package agentdriver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/obra-run/obra/internal/errs"
)

// streamEventType mirrors the Implementer CLI's stream-json event kinds.
type streamEventType string

const (
	streamSystem    streamEventType = "system"
	streamAssistant streamEventType = "assistant"
	streamResult    streamEventType = "result"
	streamError     streamEventType = "error"
)

type streamEvent struct {
	Type         streamEventType
	Result       string
	SessionID    string
	Usage        Usage
	DurationMS   int64
	NumTurns     int
	ErrorSubtype string
	ToolAction   string
	errText      string
}

// Local drives the Implementer as a subprocess on this machine, one
// process per send_prompt call, matching the CLI's stateless --print
// invocation model. Session continuity across calls is carried via
// --resume <session_id> rather than a long-lived process.
type Local struct {
	mu           sync.Mutex
	cfg          Config
	restartCount int
	lastLatency  time.Duration
	alive        bool
	onToolAction func(string)
}

// NewLocal constructs a Local driver. onToolAction, if non-nil, is called
// with a human-readable status ("Reading auth.go") as tool use is observed;
// callers that don't care about live status may pass nil.
func NewLocal(onToolAction func(string)) *Local {
	return &Local{onToolAction: onToolAction}
}

func (l *Local) Initialize(ctx context.Context, cfg Config) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cfg.Command == "" {
		cfg.Command = "claude"
	}
	if _, err := exec.LookPath(cfg.Command); err != nil {
		return errs.Wrap(errs.KindConfiguration, "agentdriver.local", cfg.Command, "implementer binary not found on PATH", err)
	}

	l.cfg = cfg
	l.alive = true
	return nil
}

func (l *Local) SendPrompt(ctx context.Context, prompt string, opts SendOptions) (*Response, error) {
	l.mu.Lock()
	cfg := l.cfg
	l.mu.Unlock()

	args := []string{
		"--output-format", "stream-json",
		"--print",
		"--verbose",
		"--allowedTools", "Read,Write,Edit,Bash,Glob,Grep,WebFetch",
	}
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	if opts.MaxTurns > 0 {
		args = append(args, "--max-turns", fmt.Sprintf("%d", opts.MaxTurns))
	}
	if opts.SessionID != "" {
		args = append(args, "--resume", opts.SessionID)
	}
	if opts.BypassInteractivePermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	args = append(args, "-p", prompt)

	cmd := exec.CommandContext(ctx, cfg.Command, args...)
	if cfg.WorkDir != "" {
		cmd.Dir = cfg.WorkDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errs.Wrap(errs.KindTransport, "agentdriver.local", "", "create stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errs.Wrap(errs.KindTransport, "agentdriver.local", "", "create stderr pipe", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		l.recordFailure()
		return nil, errs.Wrap(errs.KindTransport, "agentdriver.local", "", "start implementer process", err)
	}

	var stderrBuf strings.Builder
	var stderrWG sync.WaitGroup
	stderrWG.Add(1)
	go func() {
		defer stderrWG.Done()
		sc := bufio.NewScanner(stderr)
		sc.Buffer(make([]byte, 16*1024), 256*1024)
		for sc.Scan() {
			stderrBuf.WriteString(sc.Text())
			stderrBuf.WriteByte('\n')
		}
	}()

	resp := &Response{}
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		ev, perr := parseEvent(line)
		if perr != nil {
			continue
		}
		if ev.ToolAction != "" && l.onToolAction != nil {
			l.onToolAction(ev.ToolAction)
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

	stderrWG.Wait()
	waitErr := cmd.Wait()
	l.mu.Lock()
	l.lastLatency = time.Since(start)
	l.mu.Unlock()

	if waitErr != nil {
		l.recordFailure()
		msg := fmt.Sprintf("implementer process exited: %v", waitErr)
		if s := stderrBuf.String(); s != "" {
			msg += "; stderr: " + s
		}
		return nil, errs.Wrap(errs.KindTransport, "agentdriver.local", opts.SessionID, msg, waitErr)
	}
	if resp.Content == "" && resp.SessionID == "" {
		return nil, errs.New(errs.KindSchema, "agentdriver.local", opts.SessionID, fmt.Errorf("no result event observed in implementer output"))
	}
	return resp, nil
}

func (l *Local) recordFailure() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.restartCount++
}

func (l *Local) Health() Health {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Health{Alive: l.alive, LastLatency: l.lastLatency, RestartCount: l.restartCount}
}

func (l *Local) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.alive = false
	return nil
}

// parseEvent parses one stream-json line, extracting the fields the
// Iteration Controller cares about from the result event and any tool-use
// blocks along the way.
func parseEvent(data []byte) (streamEvent, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return streamEvent{}, err
	}

	ev := streamEvent{}
	if t, ok := raw["type"].(string); ok {
		ev.Type = streamEventType(t)
	}

	switch ev.Type {
	case streamResult:
		if s, ok := raw["result"].(string); ok {
			ev.Result = s
		}
		if s, ok := raw["session_id"].(string); ok {
			ev.SessionID = s
		}
		if n, ok := raw["num_turns"].(float64); ok {
			ev.NumTurns = int(n)
		}
		if n, ok := raw["duration_ms"].(float64); ok {
			ev.DurationMS = int64(n)
		}
		if s, ok := raw["error_subtype"].(string); ok {
			ev.ErrorSubtype = s
		}
		if u, ok := raw["usage"].(map[string]interface{}); ok {
			ev.Usage = Usage{
				Input:       intField(u, "input_tokens"),
				CacheCreate: intField(u, "cache_creation_input_tokens"),
				CacheRead:   intField(u, "cache_read_input_tokens"),
				Output:      intField(u, "output_tokens"),
			}
		}
	case streamError:
		if s, ok := raw["error"].(string); ok {
			ev.errText = s
		}
	case streamAssistant:
		ev.ToolAction = extractToolAction(raw)
	}

	return ev, nil
}

func intField(m map[string]interface{}, key string) int64 {
	if v, ok := m[key].(float64); ok {
		return int64(v)
	}
	return 0
}

// extractToolAction looks for a tool_use content block and renders a
// short human-readable status line, the same shape of status the
// teacher's stream parser produces.
func extractToolAction(raw map[string]interface{}) string {
	msg, ok := raw["message"].(map[string]interface{})
	if !ok {
		return ""
	}
	content, ok := msg["content"].([]interface{})
	if !ok {
		return ""
	}
	for _, item := range content {
		block, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if bt, _ := block["type"].(string); bt != "tool_use" {
			continue
		}
		name, _ := block["name"].(string)
		input, _ := block["input"].(map[string]interface{})
		switch name {
		case "Read":
			return "Reading " + pathOf(input, "file_path")
		case "Edit":
			return "Editing " + pathOf(input, "file_path")
		case "Write":
			return "Writing " + pathOf(input, "file_path")
		case "Bash":
			if cmd, ok := input["command"].(string); ok {
				return "Running " + firstWord(cmd)
			}
			return "Running command"
		case "Glob":
			if p, ok := input["pattern"].(string); ok {
				return "Searching " + p
			}
		case "Grep":
			if p, ok := input["pattern"].(string); ok {
				return "Grep " + p
			}
		case "WebFetch":
			return "Fetching URL"
		default:
			if name != "" {
				return name
			}
		}
	}
	return ""
}

func pathOf(input map[string]interface{}, key string) string {
	if p, ok := input[key].(string); ok {
		if i := strings.LastIndexByte(p, '/'); i >= 0 {
			p = p[i+1:]
		}
		return p
	}
	return "file"
}

func firstWord(cmd string) string {
	if i := strings.IndexAny(cmd, " \n"); i >= 0 {
		return cmd[:i]
	}
	return cmd
}
