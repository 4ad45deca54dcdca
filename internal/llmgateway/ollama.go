package llmgateway

import (
	"context"
	"fmt"
	"net/url"
	"time"

	ollamaapi "github.com/ollama/ollama/api"

	"github.com/obra-run/obra/internal/errs"
)

// Ollama talks to a local or remote Ollama server via its native client,
// the stack the pack's orchestrator repos already depend on for
// cheap-model scoring and summarization calls.
type Ollama struct {
	client *ollamaapi.Client
	model  string
}

// NewOllama builds an Ollama gateway. If rawURL is empty,
// ollamaapi.ClientFromEnvironment is used (OLLAMA_HOST, defaulting to
// http://127.0.0.1:11434).
func NewOllama(rawURL, model string) (*Ollama, error) {
	var client *ollamaapi.Client
	if rawURL == "" {
		c, err := ollamaapi.ClientFromEnvironment()
		if err != nil {
			return nil, errs.Wrap(errs.KindConfiguration, "llmgateway.ollama", "", "resolve ollama endpoint from environment", err)
		}
		client = c
	} else {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, errs.Wrap(errs.KindConfiguration, "llmgateway.ollama", rawURL, "parse ollama url", err)
		}
		client = ollamaapi.NewClient(u, nil)
	}

	if model == "" {
		model = "llama3.1"
	}

	return &Ollama{client: client, model: model}, nil
}

func (o *Ollama) Name() string { return "ollama" }

func (o *Ollama) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return o.client.Heartbeat(ctx) == nil
}

func (o *Ollama) Send(ctx context.Context, prompt string, opts SendOptions) (*Response, error) {
	streamOff := false
	options := map[string]interface{}{}
	if opts.Temperature != nil {
		options["temperature"] = *opts.Temperature
	}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}

	req := &ollamaapi.GenerateRequest{
		Model:   o.model,
		Prompt:  prompt,
		Stream:  &streamOff,
		Options: options,
	}
	if opts.Structured {
		req.Format = []byte(`"json"`)
	}

	var reply string
	err := o.client.Generate(ctx, req, func(resp ollamaapi.GenerateResponse) error {
		reply += resp.Response
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindTransport, "llmgateway.ollama", o.model, fmt.Sprintf("generate with model %s", o.model), err)
	}
	return &Response{Text: reply}, nil
}
