// Copyright (c) 2024-2026 SunstanYu
// Author: Sunstan Yu <yu.sunstan@gmail.com>
//
// Licensed under GPL-2.0.
// See LICENSE.md for details.
package internal_nlu

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAskParsesChatCompletion(t *testing.T) {
	var gotBody chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"model": "mirror-1",
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "O Queen, hear the truth."}},
			},
			"usage": map[string]int{"total_tokens": 42},
		})
	}))
	defer server.Close()

	client := NewLLMClient(newTestLogger(t), server.URL, "test-key", "mirror-1")
	resp, err := client.Ask(context.Background(), "who is the fairest", "")
	require.NoError(t, err)

	assert.Equal(t, "O Queen, hear the truth.", resp.Text)
	assert.Equal(t, 42, resp.TokensUsed)
	assert.Equal(t, "mirror-1", resp.Model)

	require.Len(t, gotBody.Messages, 2)
	assert.Equal(t, "system", gotBody.Messages[0].Role)
	assert.Equal(t, MagicMirrorPrompt, gotBody.Messages[0].Content,
		"the fixed persona prompt must be the system message")
	assert.Equal(t, "who is the fairest", gotBody.Messages[1].Content)
}

func TestAskServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewLLMClient(newTestLogger(t), server.URL, "", "mirror-1")
	_, err := client.Ask(context.Background(), "hello", "")
	require.Error(t, err)
}

func TestAskEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	}))
	defer server.Close()

	client := NewLLMClient(newTestLogger(t), server.URL, "", "mirror-1")
	_, err := client.Ask(context.Background(), "hello", "")
	require.Error(t, err)
}
