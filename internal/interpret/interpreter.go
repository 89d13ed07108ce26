// Package interpret turns raw user text into a normalized query
// representation, optionally enriched via an LLM completion call.
package interpret

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/orlevy/toolscout/internal/llm"
)

// Context is the per-request interpreted query. When Enriched is false the
// LLM was unavailable and Normalized is just the cleaned raw text.
type Context struct {
	Raw        string   `json:"raw"`
	Normalized string   `json:"normalized"`
	Intent     string   `json:"intent,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
	Enriched   bool     `json:"enriched"`
}

const systemPrompt = `You extract search intent from a user's request for a software tool.
Respond with a JSON object:
{"search_query": "<short query describing the needed tool capability>",
 "keywords": ["<keyword>", ...],
 "intent": "<one sentence describing what the user wants to accomplish>"}
Keep search_query under 12 words. Respond with JSON only.`

// Interpreter builds query contexts. A nil or unconfigured LLM client is
// fine; every request then proceeds unenriched.
type Interpreter struct {
	llm     *llm.Client
	timeout time.Duration
	logger  *zap.Logger
}

// New returns an interpreter. timeout bounds each enrichment call.
func New(client *llm.Client, timeout time.Duration, logger *zap.Logger) *Interpreter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Interpreter{llm: client, timeout: timeout, logger: logger}
}

// Interpret never fails: if LLM enrichment is unavailable or returns
// garbage, the context degrades to the raw text and is marked unenriched.
func (i *Interpreter) Interpret(ctx context.Context, raw string) Context {
	qctx := Context{Raw: raw, Normalized: collapse(raw)}

	if i.llm == nil || !i.llm.Configured() {
		return qctx
	}

	callCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	text, err := i.llm.Complete(callCtx, systemPrompt, raw, true)
	if err != nil {
		i.logger.Warn("query enrichment unavailable, using raw text",
			zap.Error(err))
		return qctx
	}

	var parsed struct {
		SearchQuery string   `json:"search_query"`
		Keywords    []string `json:"keywords"`
		Intent      string   `json:"intent"`
	}
	if err := json.Unmarshal([]byte(llm.StripFences(text)), &parsed); err != nil {
		i.logger.Warn("query enrichment returned invalid JSON, using raw text",
			zap.Error(err))
		return qctx
	}
	if strings.TrimSpace(parsed.SearchQuery) == "" {
		return qctx
	}

	qctx.Normalized = collapse(parsed.SearchQuery)
	qctx.Keywords = parsed.Keywords
	qctx.Intent = parsed.Intent
	qctx.Enriched = true
	return qctx
}

// collapse trims and squeezes whitespace runs to single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
