// Package analysis wraps the external note-analysis function. The analysis
// itself is a black box; this package only moves text in, results out, and
// maps failures onto the gateway's error taxonomy.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/eni9889/ez-tracking-board-sub000/internal/platform/ezderm"
)

// Issue is one finding reported by the analysis function.
type Issue struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Severity    string `json:"severity,omitempty"`
}

// Result is the analysis outcome for one note.
type Result struct {
	IssuesFound bool    `json:"issuesFound"`
	Issues      []Issue `json:"issues,omitempty"`
	Reason      string  `json:"reason,omitempty"`
}

// Analyzer evaluates a clinical note for compliance issues.
type Analyzer interface {
	Analyze(ctx context.Context, noteText string) (*Result, error)
}

// HTTPAnalyzer calls an analysis endpoint over HTTP. 5xx and transport
// failures classify as Transient so the check job is retried; 4xx is Fatal.
type HTTPAnalyzer struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPAnalyzer creates an HTTPAnalyzer against the given endpoint.
func NewHTTPAnalyzer(url, apiKey string, timeout time.Duration) *HTTPAnalyzer {
	return &HTTPAnalyzer{
		url:        url,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type analyzeRequest struct {
	NoteText string `json:"noteText"`
}

func (a *HTTPAnalyzer) Analyze(ctx context.Context, noteText string) (*Result, error) {
	body, err := json.Marshal(analyzeRequest{NoteText: noteText})
	if err != nil {
		return nil, &ezderm.APIError{Kind: ezderm.KindFatal, Op: "analyze", Message: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return nil, &ezderm.APIError{Kind: ezderm.KindFatal, Op: "analyze", Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, &ezderm.APIError{Kind: ezderm.KindTransient, Op: "analyze", Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		kind := ezderm.KindFatal
		if resp.StatusCode == 429 || resp.StatusCode >= 500 {
			kind = ezderm.KindTransient
		}
		return nil, &ezderm.APIError{
			Kind:       kind,
			Op:         "analyze",
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
		}
	}

	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &ezderm.APIError{Kind: ezderm.KindFatal, Op: "analyze", Message: "decode response", Err: err}
	}
	return &out, nil
}
