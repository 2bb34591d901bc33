// Package whisper runs speech recognition on whisper.cpp, either through a
// whisper-server's POST /inference endpoint ([Provider]) or in-process via
// the cgo bindings ([NativeProvider]).
//
// whisper.cpp only transcribes whole clips. Live streams are therefore cut
// into utterances by an energy-based silence detector, and each utterance is
// sent as one request; its text arrives as a partial and a final at once.
// Batch streams skip the detector and transcribe everything on Close.
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("de"))
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

var _ stt.Provider = (*Provider)(nil)

// Provider sends utterances to a whisper-server over HTTP. Each session keeps
// its own buffer and goroutine; nothing is dialled until the first flush.
type Provider struct {
	serverURL string
	settings
}

// New returns a Provider for the server at serverURL, e.g.
// "http://localhost:8080".
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	return &Provider{serverURL: strings.TrimRight(serverURL, "/"), settings: newSettings(opts)}, nil
}

// StartStream implements [stt.Provider]. Zero SampleRate, Channels and
// Language fall back to the provider defaults.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return p.open(ctx, cfg, func(lang string, format audio.Format) (inferFunc, error) {
		return func(ctx context.Context, pcm []byte) (string, error) {
			return p.infer(ctx, audio.Buffer{Format: format, Data: pcm}, lang)
		}, nil
	})
}

// inferenceForm builds the multipart body for POST /inference. Empty
// optional fields are left out.
func inferenceForm(buf audio.Buffer, language, model string) (*bytes.Buffer, string, error) {
	body := new(bytes.Buffer)
	mw := multipart.NewWriter(body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err == nil {
		_, err = fw.Write(audio.EncodeWAV(buf))
	}
	if err != nil {
		return nil, "", fmt.Errorf("whisper: attach wav: %w", err)
	}

	fields := [][2]string{{"response_format", "json"}, {"language", language}, {"model", model}}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("whisper: form field %s: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("whisper: finish form: %w", err)
	}
	return body, mw.FormDataContentType(), nil
}

// infer uploads one clip and returns the trimmed transcript.
func (p *Provider) infer(ctx context.Context, buf audio.Buffer, language string) (string, error) {
	body, contentType, err := inferenceForm(buf, language, p.serverModel)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", body)
	if err != nil {
		return "", fmt.Errorf("whisper: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: inference request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("whisper: inference returned %s: %s", resp.Status, bytes.TrimSpace(detail))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("whisper: decode inference reply: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}
