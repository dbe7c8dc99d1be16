package tts

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/loqa-voicechat/internal/retry"
)

// AzureSynth renders SSML through the Azure Speech REST API.
type AzureSynth struct {
	apiKey     string
	endpoint   string
	voice      string
	sampleRate int
	httpClient *http.Client
	retry      retry.Config
}

// NewAzureSynth builds a synthesizer for region. endpoint overrides the
// regional URL when set.
func NewAzureSynth(apiKey, region, endpoint, voice string, sampleRate int) (*AzureSynth, error) {
	if apiKey == "" {
		return nil, errors.New("azure tts requires an api key")
	}
	if endpoint == "" {
		if region == "" {
			return nil, errors.New("azure tts requires a region or endpoint")
		}
		endpoint = fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/v1", region)
	}
	if voice == "" {
		voice = "en-US-DavisNeural"
	}
	return &AzureSynth{
		apiKey:     apiKey,
		endpoint:   endpoint,
		voice:      voice,
		sampleRate: sampleRate,
		httpClient: &http.Client{Timeout: 45 * time.Second},
		retry:      retry.DefaultConfig(),
	}, nil
}

func (a *AzureSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		voice := req.Voice
		if voice == "" {
			voice = a.voice
		}
		ssml := buildSSML(voice, NormalizeStyle(req.Style), req.Text)

		var body []byte
		err := retry.Do(ctx, a.retry, func() error {
			var err error
			body, err = a.post(ctx, ssml)
			return err
		})
		if err != nil {
			errs <- err
			return
		}

		pcm, sampleRate, channels, err := decodeWAV(body)
		if err != nil {
			errs <- err
			return
		}

		if err := streamPCM(ctx, chunks, pcm, sampleRate, channels); err != nil {
			errs <- err
		}
	}()
	return chunks, errs
}

func (a *AzureSynth) post(ctx context.Context, ssml string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, strings.NewReader(ssml))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("creating request: %w", err))
	}
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", a.apiKey)
	httpReq.Header.Set("Content-Type", "application/ssml+xml")
	httpReq.Header.Set("X-Microsoft-OutputFormat", outputFormat(a.sampleRate))
	httpReq.Header.Set("User-Agent", "loqa-voicechat")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := fmt.Errorf("azure tts error %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		if retry.IsRetryableHTTPStatus(resp.StatusCode) {
			return nil, apiErr
		}
		return nil, retry.Permanent(apiErr)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading audio: %w", err)
	}
	return data, nil
}

func buildSSML(voice, style, text string) string {
	var escaped bytes.Buffer
	_ = xml.EscapeText(&escaped, []byte(strings.TrimSpace(text)))
	return fmt.Sprintf(`<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xmlns:mstts="http://www.w3.org/2001/mstts" xml:lang="en-US">`+
		`<voice name="%s"><mstts:express-as style="%s"><prosody pitch="+10%%" rate="-5%%">%s</prosody></mstts:express-as></voice></speak>`,
		voice, style, escaped.String())
}

func outputFormat(sampleRate int) string {
	switch sampleRate {
	case 8000:
		return "riff-8khz-16bit-mono-pcm"
	case 22050:
		return "riff-22050hz-16bit-mono-pcm"
	case 24000:
		return "riff-24khz-16bit-mono-pcm"
	case 44100:
		return "riff-44100hz-16bit-mono-pcm"
	case 48000:
		return "riff-48khz-16bit-mono-pcm"
	default:
		return "riff-16khz-16bit-mono-pcm"
	}
}
