package worker

import (
	"errors"

	"github.com/hupe1980/localdocs/codec"
	"github.com/hupe1980/localdocs/retrieval"
)

// Message types.
const (
	TypeSearch       = "SEARCH"
	TypeSearchResult = "SEARCH_RESULT"
	TypeError        = "ERROR"
)

// Request asks the worker to run one search.
type Request struct {
	Type           string                  `json:"type"`
	ID             string                  `json:"id,omitempty"`
	QueryEmbedding []float32               `json:"queryEmbedding"`
	SessionID      string                  `json:"sessionId"`
	Options        retrieval.SearchOptions `json:"options"`
}

// NewSearchRequest builds a SEARCH request.
func NewSearchRequest(query []float32, sessionID string, opts retrieval.SearchOptions) Request {
	return Request{
		Type:           TypeSearch,
		QueryEmbedding: query,
		SessionID:      sessionID,
		Options:        opts,
	}
}

// DecodeRequest decodes a request. Option fields absent from data take
// their protocol defaults.
func DecodeRequest(c codec.Codec, data []byte) (Request, error) {
	if c == nil {
		c = codec.Default
	}
	req := Request{Options: retrieval.DefaultSearchOptions()}
	if err := c.Unmarshal(data, &req); err != nil {
		return Request{}, err
	}
	return req, nil
}

// Response carries either results or an error message.
type Response struct {
	Type    string             `json:"type"`
	ID      string             `json:"id,omitempty"`
	Payload []retrieval.Result `json:"payload"`
	Error   string             `json:"error,omitempty"`

	err error
}

func resultResponse(id string, results []retrieval.Result) Response {
	if results == nil {
		results = []retrieval.Result{}
	}
	return Response{Type: TypeSearchResult, ID: id, Payload: results}
}

func errorResponse(id string, err error) Response {
	return Response{Type: TypeError, ID: id, Error: err.Error(), err: err}
}

// Err returns the error carried by an ERROR response. Responses produced
// in-process keep the original error value.
func (r Response) Err() error {
	if r.Type != TypeError {
		return nil
	}
	if r.err != nil {
		return r.err
	}
	return errors.New(r.Error)
}
