package imagegen

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func newTestClient(url string, attempts uint) *Client {
	return NewClient(Config{
		BaseURL:     url,
		APIKey:      "sk-test",
		Model:       "dall-e-2",
		Size:        "512x512",
		MaxAttempts: attempts,
		RetryDelay:  time.Millisecond,
	})
}

func TestClient_Generate(t *testing.T) {
	tests := []struct {
		name              string
		attempts          uint
		mockServerHandler func(t *testing.T, calls int32, w http.ResponseWriter, r *http.Request)
		wantBytes         []byte
		wantCalls         int32
		wantErr           error
		wantErrorString   string
	}{
		{
			name:     "success",
			attempts: 3,
			mockServerHandler: func(t *testing.T, calls int32, w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/images/generations", r.URL.Path)
				assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

				var reqBody GenerationRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&reqBody))
				assert.Equal(t, "dall-e-2", reqBody.Model)
				assert.Equal(t, "b64_json", reqBody.ResponseFormat)
				assert.Equal(t, 1, reqBody.N)
				assert.Equal(t, "portrait of Kai", reqBody.Prompt)

				writeJSON(w, http.StatusOK, GenerationResponse{
					Data: []ImageData{{B64JSON: base64.StdEncoding.EncodeToString(pngHeader)}},
				})
			},
			wantBytes: pngHeader,
			wantCalls: 1,
		},
		{
			name:     "retries server errors",
			attempts: 3,
			mockServerHandler: func(t *testing.T, calls int32, w http.ResponseWriter, r *http.Request) {
				if calls < 3 {
					writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "busy"})
					return
				}
				writeJSON(w, http.StatusOK, GenerationResponse{
					Data: []ImageData{{B64JSON: base64.StdEncoding.EncodeToString(pngHeader)}},
				})
			},
			wantBytes: pngHeader,
			wantCalls: 3,
		},
		{
			name:     "rate limit exhausts attempts",
			attempts: 2,
			mockServerHandler: func(t *testing.T, calls int32, w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "slow down"})
			},
			wantCalls:       2,
			wantErrorString: "response error 429",
		},
		{
			name:     "client error is not retried",
			attempts: 3,
			mockServerHandler: func(t *testing.T, calls int32, w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content policy"})
			},
			wantCalls:       1,
			wantErrorString: "response error 400",
		},
		{
			name:     "empty data",
			attempts: 3,
			mockServerHandler: func(t *testing.T, calls int32, w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, GenerationResponse{})
			},
			wantCalls: 1,
			wantErr:   ErrNoImage,
		},
		{
			name:     "url only",
			attempts: 3,
			mockServerHandler: func(t *testing.T, calls int32, w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, GenerationResponse{Data: []ImageData{{URL: "https://cdn.example/x.png"}}})
			},
			wantCalls: 1,
			wantErr:   ErrNoImage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				tt.mockServerHandler(t, calls.Add(1), w, r)
			}))
			defer server.Close()

			client := newTestClient(server.URL, tt.attempts)
			defer client.Close()

			got, err := client.Generate(context.Background(), "portrait of Kai")
			assert.Equal(t, tt.wantCalls, calls.Load())

			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.wantErrorString != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErrorString)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.wantBytes, got.Bytes)
				assert.Equal(t, "image/png", got.MIME)
			}
		})
	}
}

func TestClient_GenerateEmptyPrompt(t *testing.T) {
	client := newTestClient("http://127.0.0.1:0", 1)
	defer client.Close()

	_, err := client.Generate(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, isRetryableError(nil))
	assert.True(t, isRetryableError(&StatusError{Code: 502}))
	assert.True(t, isRetryableError(&StatusError{Code: 429}))
	assert.False(t, isRetryableError(&StatusError{Code: 401}))
	assert.False(t, isRetryableError(context.Canceled))
	assert.True(t, isRetryableError(errors.New("dial tcp: connection refused")))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
