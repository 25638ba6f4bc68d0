// Package assistant produces the assistant's generated messages: result summaries,
// clarification requests and explanations of stopped searches.
package assistant

import (
	"context"
	"iter"

	"github.com/blueberrycongee/dinescout/pkg/types"
)

// Generator streams a generated reply as text chunks. The sequence ends after the last
// chunk, or with a single non-nil error.
type Generator interface {
	Generate(ctx context.Context, req Request) iter.Seq2[string, error]
}

// Request is everything a generator needs to answer one job.
type Request struct {
	Type      types.MessageType
	RequestID string
	TraceID   string
	Language  string
	Query     string
	Result    *types.SearchResult
}

// maxContextRestaurants bounds how many results are described to the model.
const maxContextRestaurants = 5

// BuildRequest assembles the generation context for a job. result may be nil.
func BuildRequest(typ types.MessageType, language string, job *types.Job, result *types.SearchResult) Request {
	req := Request{Type: typ, Language: language, Result: result}
	if job != nil {
		req.RequestID = job.RequestID
		req.TraceID = job.TraceID
		req.Query = job.Query
	}
	if req.Query == "" && result != nil {
		req.Query = result.Query
	}
	return req
}

// TopRestaurants returns the restaurants the reply should mention.
func (r Request) TopRestaurants() []types.Restaurant {
	if r.Result == nil {
		return nil
	}
	if len(r.Result.Restaurants) > maxContextRestaurants {
		return r.Result.Restaurants[:maxContextRestaurants]
	}
	return r.Result.Restaurants
}

// Clarification returns the stored clarification, if any.
func (r Request) Clarification() *types.Clarification {
	if r.Result == nil {
		return nil
	}
	return r.Result.Clarification
}

// StopReason returns why the search was stopped, if known.
func (r Request) StopReason() string {
	if r.Result == nil {
		return ""
	}
	return r.Result.StopReason
}
