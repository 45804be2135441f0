package session

import (
	"context"
	"encoding/json"
	"fmt"
)

type remoteObject struct {
	Type                string          `json:"type"`
	Subtype             string          `json:"subtype,omitempty"`
	ClassName           string          `json:"className,omitempty"`
	Value               json.RawMessage `json:"value,omitempty"`
	UnserializableValue string          `json:"unserializableValue,omitempty"`
	Description         string          `json:"description,omitempty"`
}

type exceptionDetails struct {
	Text         string        `json:"text"`
	LineNumber   int           `json:"lineNumber"`
	ColumnNumber int           `json:"columnNumber"`
	Exception    *remoteObject `json:"exception,omitempty"`
}

type evaluateResult struct {
	Result           remoteObject      `json:"result"`
	ExceptionDetails *exceptionDetails `json:"exceptionDetails,omitempty"`
}

// Evaluate runs expression in the page, awaiting a returned promise, and
// returns its JSON value decoded into Go types. undefined becomes nil and
// values JSON cannot carry (NaN, Infinity, -0, bigint) become their string
// form.
func (s *Session) Evaluate(ctx context.Context, expression string) (any, error) {
	var v any
	if err := s.EvaluateInto(ctx, expression, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// EvaluateInto is Evaluate decoding into out.
func (s *Session) EvaluateInto(ctx context.Context, expression string, out any) error {
	raw, err := s.evaluate(ctx, expression)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode evaluation result: %w", err)
	}
	return nil
}

func (s *Session) evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	var res evaluateResult
	err := s.Call(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expression,
		"returnByValue": true,
		"awaitPromise":  true,
		"userGesture":   true,
	}, &res)
	if err != nil {
		return nil, err
	}

	if d := res.ExceptionDetails; d != nil {
		text := d.Text
		if d.Exception != nil && d.Exception.Description != "" {
			text = d.Exception.Description
		}
		return nil, &EvaluationError{
			Expression: expression,
			Text:       text,
			Line:       d.LineNumber,
			Column:     d.ColumnNumber,
		}
	}

	switch {
	case res.Result.UnserializableValue != "":
		return json.Marshal(res.Result.UnserializableValue)
	case res.Result.Type == "undefined", len(res.Result.Value) == 0:
		return json.RawMessage("null"), nil
	default:
		return res.Result.Value, nil
	}
}
