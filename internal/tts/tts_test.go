package tts

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-audio/wav"

	"github.com/loqalabs/loqa-voicechat/internal/retry"
)

func TestNormalizeStyle(t *testing.T) {
	cases := map[string]string{
		"":                DefaultStyle,
		"Whispering":      "whispering",
		" sad ":           "sad",
		"pirate":          DefaultStyle,
		"newscast-formal": "newscast-formal",
	}
	for in, want := range cases {
		if got := NormalizeStyle(in); got != want {
			t.Errorf("NormalizeStyle(%q) = %q, want %q", in, got, want)
		}
	}
	if len(SupportedStyles) != 17 {
		t.Fatalf("expected 17 supported styles, got %d", len(SupportedStyles))
	}
	if IsSupportedStyle("pirate") || !IsSupportedStyle("ANGRY") {
		t.Fatal("unexpected style support result")
	}
}

func readWAV(t *testing.T, path string) (sampleRate, channels, samples int) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open wav: %v", err)
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		t.Fatalf("%s is not a valid wav file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode wav: %v", err)
	}
	return int(dec.SampleRate), int(dec.NumChans), len(buf.Data)
}

func TestRenderMockWritesWAV(t *testing.T) {
	dir := t.TempDir()
	res, err := Render(context.Background(), NewMockSynth(16000, 1), SynthRequest{Text: "one two three four"}, dir)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if res.ID == "" || filepath.Dir(res.Path) != dir || filepath.Ext(res.Path) != ".wav" {
		t.Fatalf("unexpected resource %+v", res)
	}
	rate, channels, samples := readWAV(t, res.Path)
	if rate != 16000 || channels != 1 {
		t.Fatalf("unexpected format %d Hz %d ch", rate, channels)
	}
	want := int(4 * mockWordDuration * 16000 / time.Second)
	if samples != want {
		t.Fatalf("expected %d samples, got %d", want, samples)
	}
}

type failingSynth struct{ err error }

func (f failingSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	chunks <- SynthChunk{SampleRate: 16000, Channels: 1, PCM: make([]byte, 64)}
	errs <- f.err
	close(chunks)
	close(errs)
	return chunks, errs
}

func TestRenderLeavesNoFileOnError(t *testing.T) {
	dir := t.TempDir()
	boom := errors.New("boom")
	if _, err := Render(context.Background(), failingSynth{err: boom}, SynthRequest{Text: "hi"}, dir); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped synth error, got %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no files, found %d", len(entries))
	}
}

func TestRenderHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Render(ctx, NewMockSynth(16000, 1), SynthRequest{Text: "hi"}, t.TempDir()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestExecSynth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speech.wav")
	if err := os.WriteFile(path, wavFixture(t, 22050, 4), 0o644); err != nil {
		t.Fatal(err)
	}
	synth, err := NewExecSynth(`sh -c 'cat >/dev/null; test "$0" = calm && cat "$1"' {style} ` + path)
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}
	res, err := Render(context.Background(), synth, SynthRequest{Text: "hello", Style: "Calm"}, t.TempDir())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	rate, _, samples := readWAV(t, res.Path)
	if rate != 22050 || samples != 4 {
		t.Fatalf("expected 4 samples at 22050 Hz, got %d at %d", samples, rate)
	}
}

func TestExecSynthReportsStderr(t *testing.T) {
	synth, err := NewExecSynth(`sh -c 'echo "no voice named $0" >&2; exit 3' {voice}`)
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}
	_, err = Render(context.Background(), synth, SynthRequest{Text: "hello", Voice: "en-xx"}, t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "no voice named en-xx") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestExecSynthRejectsGarbage(t *testing.T) {
	synth, err := NewExecSynth(`sh -c 'cat'`)
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}
	if _, err := Render(context.Background(), synth, SynthRequest{Text: "not a wav"}, t.TempDir()); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestExecSynthRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecSynth(""); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func wavFixture(t *testing.T, sampleRate int, samples int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := encodeWAV(f, make([]byte, samples*2), sampleRate, 1); err != nil {
		t.Fatal(err)
	}
	f.Close()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestAzureSynth(t *testing.T) {
	fixture := wavFixture(t, 24000, maxChunkBytes) // two chunks of PCM
	var gotSSML string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Ocp-Apim-Subscription-Key") != "azure-key" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if r.Header.Get("X-Microsoft-OutputFormat") != "riff-24khz-16bit-mono-pcm" {
			http.Error(w, "bad format", http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(r.Body)
		gotSSML = string(body)
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(fixture)
	}))
	defer server.Close()

	synth, err := NewAzureSynth("azure-key", "", server.URL, "en-US-DavisNeural", 24000)
	if err != nil {
		t.Fatalf("new azure synth: %v", err)
	}
	chunks, errs := synth.Synthesize(context.Background(), SynthRequest{Text: "Bro <3 & gains", Style: "shouting"})
	var count int
	var final bool
	for chunk := range chunks {
		count++
		final = chunk.Final
		if chunk.SampleRate != 24000 || chunk.Channels != 1 {
			t.Fatalf("unexpected chunk format %+v", chunk)
		}
	}
	if err := <-errs; err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if count != 2 || !final {
		t.Fatalf("expected 2 chunks ending in final, got %d final=%v", count, final)
	}
	for _, want := range []string{`style="shouting"`, `pitch="+10%"`, `rate="-5%"`, `name="en-US-DavisNeural"`, "Bro &lt;3 &amp; gains"} {
		if !strings.Contains(gotSSML, want) {
			t.Fatalf("ssml missing %q: %s", want, gotSSML)
		}
	}
}

func TestAzureSynthUnsupportedStyleFallsBack(t *testing.T) {
	ssml := buildSSML("v", NormalizeStyle("pirate"), "hi")
	if !strings.Contains(ssml, `style="cheerful"`) {
		t.Fatalf("expected cheerful fallback: %s", ssml)
	}
}

func TestAzureSynthRetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "busy", http.StatusTooManyRequests)
	}))
	defer server.Close()

	synth, err := NewAzureSynth("k", "", server.URL, "", 16000)
	if err != nil {
		t.Fatal(err)
	}
	synth.retry = retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	_, err = Render(context.Background(), synth, SynthRequest{Text: "hi"}, t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected 429 error, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestNewAzureSynthValidates(t *testing.T) {
	if _, err := NewAzureSynth("", "eastus", "", "", 16000); err == nil {
		t.Fatal("expected missing key error")
	}
	if _, err := NewAzureSynth("k", "", "", "", 16000); err == nil {
		t.Fatal("expected missing region error")
	}
}
