package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/opencli/daemon/pkg/domain"
)

const ttsTimeout = 60 * time.Second

func (d *Domain) ttsSynthesize(ctx context.Context, data map[string]any) domain.Result {
	text, _ := data["text"].(string)
	if text == "" {
		return mediaError("No text to synthesize")
	}
	provider := stringField(data, "provider", "edge_tts")
	if provider == "elevenlabs" {
		return d.synthesizeElevenLabs(ctx, text, data)
	}
	return d.synthesizeEdgeTTS(ctx, text, data)
}

// synthesizeEdgeTTS shells out to the edge-tts CLI (free, no API key).
func (d *Domain) synthesizeEdgeTTS(ctx context.Context, text string, data map[string]any) domain.Result {
	voice := stringField(data, "voice", "en-US-AriaNeural")
	output := d.outputFile("tts", "mp3")

	_, stderr, err := d.run(ctx, ttsTimeout, "edge-tts",
		"--voice", voice, "--text", text, "--write-media", output)
	if err != nil {
		msg := strings.TrimSpace(stderr)
		if msg == "" {
			msg = err.Error()
		}
		return mediaError("Edge TTS error: " + msg)
	}
	return domain.Ok(map[string]any{
		"audio_path": output, "voice": voice, "format": "mp3",
		"domain": "media_creation", "card_type": "media",
	})
}

func (d *Domain) synthesizeElevenLabs(ctx context.Context, text string, data map[string]any) domain.Result {
	apiKey := d.setting("ai_video.api_keys.elevenlabs", "")
	if apiKey == "" {
		return mediaError("ElevenLabs API key not configured")
	}
	voiceID := stringField(data, "voice_id", stringField(data, "voice", "21m00Tcm4TlvDq8ikWAM"))

	body, err := json.Marshal(map[string]any{
		"text":     text,
		"model_id": "eleven_multilingual_v2",
		"voice_settings": map[string]any{
			"stability":        0.5,
			"similarity_boost": 0.75,
		},
	})
	if err != nil {
		return mediaError("ElevenLabs error: " + err.Error())
	}

	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost,
		fmt.Sprintf("%s/v1/text-to-speech/%s", strings.TrimRight(d.elevenBase, "/"), voiceID),
		bytes.NewReader(body))
	if err != nil {
		return mediaError("ElevenLabs error: " + err.Error())
	}
	req.Header.Set("xi-api-key", apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return mediaError("ElevenLabs error: " + err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return mediaError(fmt.Sprintf("ElevenLabs error: %d", resp.StatusCode))
	}

	output := d.outputFile("tts", "mp3")
	if err := writeBody(output, resp); err != nil {
		return mediaError("ElevenLabs error: " + err.Error())
	}
	return domain.Ok(map[string]any{
		"audio_path": output, "voice_id": voiceID, "format": "mp3",
		"domain": "media_creation", "card_type": "media",
	})
}

// ttsListVoices parses the edge-tts voice table. An empty list is returned
// when the CLI is missing; listing voices is advisory, not load-bearing.
func (d *Domain) ttsListVoices(ctx context.Context) domain.Result {
	stdout, _, err := d.run(ctx, ttsTimeout, "edge-tts", "--list-voices")
	if err != nil {
		return domain.Ok(map[string]any{"voices": []any{}, "domain": "media_creation"})
	}

	voices := []any{}
	for _, line := range strings.Split(stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] == "Name" || strings.HasPrefix(fields[0], "-") {
			continue
		}
		voices = append(voices, map[string]any{
			"id":     fields[0],
			"gender": fields[1],
			"locale": voiceLocale(fields[0]),
		})
	}
	return domain.Ok(map[string]any{"voices": voices, "domain": "media_creation"})
}

func writeBody(path string, resp *http.Response) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, resp.Body)
	return err
}

// voiceLocale extracts "en-US" from "en-US-AriaNeural".
func voiceLocale(shortName string) string {
	parts := strings.SplitN(shortName, "-", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[0] + "-" + parts[1]
}
