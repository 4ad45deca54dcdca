package agentdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/obra-run/obra/internal/errs"
)

// API drives the Implementer by calling the Anthropic API directly and
// running its own tool-execution loop, skipping the external CLI
// entirely. Used when agent.type = api.
type API struct {
	mu           sync.Mutex
	client       anthropic.Client
	model        anthropic.Model
	maxTurns     int
	restartCount int
	lastLatency  time.Duration
	alive        bool
	onToolAction func(string)
}

// NewAPI constructs an API driver.
func NewAPI(onToolAction func(string)) *API {
	return &API{onToolAction: onToolAction}
}

func (a *API) Initialize(ctx context.Context, cfg Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return errs.New(errs.KindConfiguration, "agentdriver.api", "", fmt.Errorf("ANTHROPIC_API_KEY is not set"))
	}

	a.client = anthropic.NewClient(option.WithAPIKey(apiKey))
	a.model = anthropic.Model(cfg.Model)
	if a.model == "" {
		a.model = anthropic.ModelClaudeSonnet4_5_20250929
	}
	a.maxTurns = 50
	a.alive = true
	return nil
}

func (a *API) SendPrompt(ctx context.Context, prompt string, opts SendOptions) (*Response, error) {
	a.mu.Lock()
	client := a.client
	model := a.model
	maxTurns := a.maxTurns
	if opts.MaxTurns > 0 {
		maxTurns = opts.MaxTurns
	}
	a.mu.Unlock()

	executor := newAPIToolExecutor(opts.workDirOrEmpty())
	systemPrompt := "You are an AI assistant completing a single engineering task end to end."

	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
	}

	resp := &Response{SessionID: opts.SessionID}
	start := time.Now()
	var input, cacheCreate, cacheRead, output int64
	turns := 0

	for turns < maxTurns {
		turns++

		select {
		case <-ctx.Done():
			return nil, errs.Wrap(errs.KindCancellation, "agentdriver.api", opts.SessionID, "context cancelled", ctx.Err())
		default:
		}

		params := anthropic.MessageNewParams{
			Model:     model,
			MaxTokens: 8192,
			System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
			Messages:  messages,
			Tools:     apiToolDefinitions(),
		}

		out, err := client.Messages.New(ctx, params)
		if err != nil {
			a.recordFailure()
			return nil, errs.Wrap(errs.KindTransport, "agentdriver.api", opts.SessionID, "anthropic API call", err)
		}

		input += out.Usage.InputTokens
		output += out.Usage.OutputTokens
		cacheCreate += out.Usage.CacheCreationInputTokens
		cacheRead += out.Usage.CacheReadInputTokens

		var assistantBlocks []anthropic.ContentBlockParamUnion
		var toolResultBlocks []anthropic.ContentBlockParamUnion
		var finalText strings.Builder

		for _, block := range out.Content {
			switch variant := block.AsAny().(type) {
			case anthropic.TextBlock:
				finalText.WriteString(variant.Text)
				assistantBlocks = append(assistantBlocks, anthropic.NewTextBlock(variant.Text))
			case anthropic.ToolUseBlock:
				if a.onToolAction != nil {
					a.onToolAction(formatAPIToolAction(variant.Name, variant.Input))
				}
				result := executor.execute(ctx, variant.Name, variant.Input)
				assistantBlocks = append(assistantBlocks, anthropic.NewToolUseBlock(variant.ID, variant.Input, variant.Name))
				toolResultBlocks = append(toolResultBlocks, anthropic.NewToolResultBlock(variant.ID, result.content, result.isError))
			}
		}

		if out.StopReason == anthropic.StopReasonEndTurn {
			resp.Content = finalText.String()
			resp.NumTurns = turns
			break
		}

		messages = append(messages, anthropic.NewAssistantMessage(assistantBlocks...))
		if len(toolResultBlocks) > 0 {
			messages = append(messages, anthropic.NewUserMessage(toolResultBlocks...))
		}

		if turns == maxTurns {
			resp.ErrorSubtype = MaxTurnsExhausted
			resp.NumTurns = turns
		}
	}

	resp.Usage = Usage{Input: input, CacheCreate: cacheCreate, CacheRead: cacheRead, Output: output}
	resp.DurationMS = time.Since(start).Milliseconds()

	a.mu.Lock()
	a.lastLatency = time.Since(start)
	a.mu.Unlock()

	return resp, nil
}

func (so SendOptions) workDirOrEmpty() string {
	// SendOptions carries no work dir today; the API driver's executor
	// operates relative to the process's own working directory, which the
	// Iteration Controller sets via os.Chdir before dispatch.
	return ""
}

func (a *API) recordFailure() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.restartCount++
}

func (a *API) Health() Health {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Health{Alive: a.alive, LastLatency: a.lastLatency, RestartCount: a.restartCount}
}

func (a *API) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alive = false
	return nil
}

// apiToolDefinitions mirrors the CLI's built-in tool surface so the same
// prompts work whether the Implementer runs as a subprocess or through
// this direct-API path.
func apiToolDefinitions() []anthropic.ToolUnionParam {
	return []anthropic.ToolUnionParam{
		textTool("Read", "Read a file from the filesystem. Returns contents with line numbers.",
			map[string]interface{}{
				"file_path": map[string]interface{}{"type": "string", "description": "Absolute path to the file to read"},
			}, "file_path"),
		textTool("Write", "Write content to a file, creating parent directories as needed.",
			map[string]interface{}{
				"file_path": map[string]interface{}{"type": "string", "description": "Absolute path to the file to write"},
				"content":   map[string]interface{}{"type": "string", "description": "Content to write"},
			}, "file_path", "content"),
		textTool("Edit", "Replace text in a file. old_string must be unique unless replace_all is set.",
			map[string]interface{}{
				"file_path":   map[string]interface{}{"type": "string", "description": "Absolute path to the file to edit"},
				"old_string":  map[string]interface{}{"type": "string", "description": "Exact text to find"},
				"new_string":  map[string]interface{}{"type": "string", "description": "Replacement text"},
				"replace_all": map[string]interface{}{"type": "boolean", "description": "Replace every occurrence"},
			}, "file_path", "old_string", "new_string"),
		textTool("Bash", "Execute a shell command and return its output.",
			map[string]interface{}{
				"command": map[string]interface{}{"type": "string", "description": "The command to run"},
			}, "command"),
		textTool("Glob", "Find files matching a glob pattern.",
			map[string]interface{}{
				"pattern": map[string]interface{}{"type": "string", "description": "Glob pattern, e.g. **/*.go"},
			}, "pattern"),
		textTool("Grep", "Search file contents for a regex pattern.",
			map[string]interface{}{
				"pattern": map[string]interface{}{"type": "string", "description": "Regex pattern"},
				"path":    map[string]interface{}{"type": "string", "description": "File or directory to search"},
			}, "pattern"),
	}
}

func textTool(name, desc string, props map[string]interface{}, required ...string) anthropic.ToolUnionParam {
	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        name,
			Description: anthropic.String(desc),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: props,
				Required:   required,
			},
		},
	}
}

func formatAPIToolAction(name string, input json.RawMessage) string {
	var params map[string]interface{}
	_ = json.Unmarshal(input, &params)
	switch name {
	case "Read":
		return "Reading " + filepath.Base(stringField(params, "file_path"))
	case "Write":
		return "Writing " + filepath.Base(stringField(params, "file_path"))
	case "Edit":
		return "Editing " + filepath.Base(stringField(params, "file_path"))
	case "Bash":
		return "Running " + firstWord(stringField(params, "command"))
	case "Glob":
		return "Searching " + stringField(params, "pattern")
	case "Grep":
		return "Grep " + stringField(params, "pattern")
	default:
		return name
	}
}

func stringField(m map[string]interface{}, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// apiToolResult is the outcome of one tool invocation.
type apiToolResult struct {
	content string
	isError bool
}

// apiToolExecutor implements the handful of tools apiToolDefinitions
// advertises, scoped to a working directory.
type apiToolExecutor struct {
	workDir string
}

func newAPIToolExecutor(workDir string) *apiToolExecutor {
	return &apiToolExecutor{workDir: workDir}
}

func (e *apiToolExecutor) resolve(path string) string {
	if e.workDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(e.workDir, path)
}

func (e *apiToolExecutor) execute(ctx context.Context, name string, input json.RawMessage) apiToolResult {
	switch name {
	case "Read":
		return e.execRead(input)
	case "Write":
		return e.execWrite(input)
	case "Edit":
		return e.execEdit(input)
	case "Bash":
		return e.execBash(ctx, input)
	case "Glob":
		return e.execGlob(input)
	case "Grep":
		return e.execGrep(ctx, input)
	default:
		return apiToolResult{content: fmt.Sprintf("unknown tool %q", name), isError: true}
	}
}

func (e *apiToolExecutor) execRead(input json.RawMessage) apiToolResult {
	var params struct {
		FilePath string `json:"file_path"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return apiToolResult{content: err.Error(), isError: true}
	}
	content, err := os.ReadFile(e.resolve(params.FilePath))
	if err != nil {
		return apiToolResult{content: err.Error(), isError: true}
	}
	return apiToolResult{content: string(content)}
}

func (e *apiToolExecutor) execWrite(input json.RawMessage) apiToolResult {
	var params struct {
		FilePath string `json:"file_path"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return apiToolResult{content: err.Error(), isError: true}
	}
	path := e.resolve(params.FilePath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apiToolResult{content: err.Error(), isError: true}
	}
	if err := os.WriteFile(path, []byte(params.Content), 0o644); err != nil {
		return apiToolResult{content: err.Error(), isError: true}
	}
	return apiToolResult{content: fmt.Sprintf("wrote %d bytes to %s", len(params.Content), params.FilePath)}
}

func (e *apiToolExecutor) execEdit(input json.RawMessage) apiToolResult {
	var params struct {
		FilePath   string `json:"file_path"`
		OldString  string `json:"old_string"`
		NewString  string `json:"new_string"`
		ReplaceAll bool   `json:"replace_all"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return apiToolResult{content: err.Error(), isError: true}
	}
	path := e.resolve(params.FilePath)
	content, err := os.ReadFile(path)
	if err != nil {
		return apiToolResult{content: err.Error(), isError: true}
	}
	count := strings.Count(string(content), params.OldString)
	if count == 0 {
		return apiToolResult{content: "old_string not found", isError: true}
	}
	if count > 1 && !params.ReplaceAll {
		return apiToolResult{content: fmt.Sprintf("old_string is not unique (%d matches); set replace_all or widen the match", count), isError: true}
	}
	n := 1
	if params.ReplaceAll {
		n = -1
	}
	updated := strings.Replace(string(content), params.OldString, params.NewString, n)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return apiToolResult{content: err.Error(), isError: true}
	}
	return apiToolResult{content: "edit applied"}
}

func (e *apiToolExecutor) execBash(ctx context.Context, input json.RawMessage) apiToolResult {
	var params struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return apiToolResult{content: err.Error(), isError: true}
	}
	cmd := exec.CommandContext(ctx, "bash", "-c", params.Command)
	if e.workDir != "" {
		cmd.Dir = e.workDir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return apiToolResult{content: fmt.Sprintf("%s\n(exit error: %v)", out, err), isError: true}
	}
	return apiToolResult{content: string(out)}
}

func (e *apiToolExecutor) execGlob(input json.RawMessage) apiToolResult {
	var params struct {
		Pattern string `json:"pattern"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return apiToolResult{content: err.Error(), isError: true}
	}
	pattern := params.Pattern
	if e.workDir != "" && !filepath.IsAbs(pattern) {
		pattern = filepath.Join(e.workDir, pattern)
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return apiToolResult{content: err.Error(), isError: true}
	}
	return apiToolResult{content: strings.Join(matches, "\n")}
}

func (e *apiToolExecutor) execGrep(ctx context.Context, input json.RawMessage) apiToolResult {
	var params struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return apiToolResult{content: err.Error(), isError: true}
	}
	args := []string{"-n", params.Pattern}
	if params.Path != "" {
		args = append(args, e.resolve(params.Path))
	} else if e.workDir != "" {
		args = append(args, e.workDir)
	}
	args = append(args, "-r")
	cmd := exec.CommandContext(ctx, "grep", args...)
	out, err := cmd.CombinedOutput()
	if err != nil && len(out) == 0 {
		return apiToolResult{content: "no matches"}
	}
	return apiToolResult{content: string(out)}
}
