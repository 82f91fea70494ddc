package jsonutil

import (
	"encoding/json"
	"fmt"
	"net/http"
)

func Serialize(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("error encoding JSON: %w", err)
	}
	return data, nil
}

func Parse[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("error decoding JSON: %w", err)
	}
	return v, nil
}

// Write serializes v and sends it with the given status code. If v cannot be
// encoded, a 500 with an error body is sent instead.
func Write(w http.ResponseWriter, status int, v any) error {
	data, err := Serialize(v)
	if err != nil {
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return err
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, err = w.Write(data)
	return err
}

type errorBody struct {
	Error string `json:"error"`
}

// WriteError sends {"error": msg} with the given status code.
func WriteError(w http.ResponseWriter, status int, msg string) error {
	return Write(w, status, errorBody{Error: msg})
}
