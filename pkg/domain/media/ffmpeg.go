package media

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/opencli/daemon/pkg/domain"
)

const ffmpegTimeout = 5 * time.Minute

// ffmpeg runs one ffmpeg invocation, reporting the tail of stderr on
// failure.
func (d *Domain) ffmpeg(ctx context.Context, args ...string) error {
	_, stderr, err := d.run(ctx, ffmpegTimeout, "ffmpeg", args...)
	if err != nil {
		msg := strings.TrimSpace(stderr)
		if len(msg) > 500 {
			msg = msg[:500]
		}
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("FFmpeg error: %s", msg)
	}
	return nil
}

// Pre-scale before zoompan keeps it fast on small source images.
var animateEffects = map[string]string{
	"ken_burns": "zoompan=z='min(zoom+0.0015,1.5)':d=125:x='iw/2-(iw/zoom/2)':y='ih/2-(ih/zoom/2)':s=1280x720:fps=25",
	"zoom_in":   "zoompan=z='min(zoom+0.002,2.0)':d=125:x='iw/2-(iw/zoom/2)':y='ih/2-(ih/zoom/2)':s=1280x720:fps=25",
	"zoom_out":  "zoompan=z='if(lte(zoom,1.0),1.5,max(1.001,zoom-0.002))':d=125:x='iw/2-(iw/zoom/2)':y='ih/2-(ih/zoom/2)':s=1280x720:fps=25",
	"pan_left":  "zoompan=z='1.2':d=125:x='iw*0.2*on/125':y='ih/2-(ih/zoom/2)':s=1280x720:fps=25",
	"pan_right": "zoompan=z='1.2':d=125:x='iw*0.8-iw*0.6*on/125':y='ih/2-(ih/zoom/2)':s=1280x720:fps=25",
	"pulse":     "zoompan=z='1.1+0.1*sin(2*PI*on/25)':d=125:x='iw/2-(iw/zoom/2)':y='ih/2-(ih/zoom/2)':s=1280x720:fps=25",
}

func (d *Domain) animatePhoto(ctx context.Context, data map[string]any, onProgress domain.ProgressFunc) domain.Result {
	imagePath := stringField(data, "image_path", stringField(data, "image", ""))
	effect := stringField(data, "effect", "ken_burns")
	duration := floatField(data, "duration", 5)

	if imagePath == "" {
		return mediaError("Image not found")
	}
	if _, err := os.Stat(imagePath); err != nil {
		return mediaError("Image not found")
	}
	zoom, ok := animateEffects[effect]
	if !ok {
		zoom = animateEffects["ken_burns"]
	}
	vf := "scale=1280:720:force_original_aspect_ratio=increase:flags=lanczos,crop=1280:720," + zoom

	if onProgress != nil {
		onProgress(map[string]any{"progress": 20, "status_message": fmt.Sprintf("Applying %s effect...", effect)})
	}

	output := d.outputFile("animated", "mp4")
	err := d.ffmpeg(ctx,
		"-y", "-loop", "1", "-i", imagePath,
		"-vf", vf,
		"-t", fmt.Sprintf("%g", duration), "-c:v", "libx264", "-pix_fmt", "yuv420p",
		output,
	)
	if err != nil {
		return mediaError(err.Error())
	}
	return domain.Ok(map[string]any{
		"output_path": output, "effect": effect, "duration": duration,
		"domain": "media_creation", "card_type": "media",
	})
}

func (d *Domain) audioMix(ctx context.Context, data map[string]any) domain.Result {
	voicePath := stringField(data, "voice_path", "")
	musicPath := stringField(data, "music_path", "")
	musicVolume := floatField(data, "music_volume", 0.3)

	output := d.outputFile("mix", "mp3")
	err := d.ffmpeg(ctx,
		"-y", "-i", voicePath, "-i", musicPath,
		"-filter_complex",
		fmt.Sprintf("[1]volume=%g[bg];[0][bg]amix=inputs=2:duration=first:dropout_transition=2", musicVolume),
		"-c:a", "libmp3lame", output,
	)
	if err != nil {
		return mediaError(err.Error())
	}
	return domain.Ok(map[string]any{
		"output_path": output, "domain": "media_creation", "card_type": "media",
	})
}

func (d *Domain) subtitleOverlay(ctx context.Context, data map[string]any) domain.Result {
	videoPath := stringField(data, "video_path", stringField(data, "video", ""))
	subtitlePath := stringField(data, "subtitle_path", "")

	// Soft subtitles; burned-in rendering needs libass which not every
	// ffmpeg build carries.
	output := d.outputFile("subbed", "mp4")
	err := d.ffmpeg(ctx,
		"-y", "-i", videoPath, "-i", subtitlePath,
		"-c:v", "copy", "-c:a", "copy", "-c:s", "mov_text",
		output,
	)
	if err != nil {
		return mediaError(err.Error())
	}
	return domain.Ok(map[string]any{
		"output_path": output, "domain": "media_creation", "card_type": "media",
	})
}

// sceneAssembly muxes one scene's video with its optional narration track.
func (d *Domain) sceneAssembly(ctx context.Context, data map[string]any) domain.Result {
	videoPath := stringField(data, "video", stringField(data, "video_path", ""))
	audioPath := stringField(data, "audio", stringField(data, "audio_path", ""))
	if videoPath == "" {
		return mediaError("No video to assemble")
	}

	output := d.outputFile("scene", "mp4")
	var err error
	if audioPath != "" {
		err = d.ffmpeg(ctx,
			"-y", "-i", videoPath, "-i", audioPath,
			"-c:v", "copy", "-c:a", "aac", "-shortest",
			output,
		)
	} else {
		err = d.ffmpeg(ctx, "-y", "-i", videoPath, "-c", "copy", output)
	}
	if err != nil {
		return mediaError(err.Error())
	}
	return domain.Ok(map[string]any{
		"output_path": output, "domain": "media_creation", "card_type": "media",
	})
}

func (d *Domain) videoAssembly(ctx context.Context, data map[string]any) domain.Result {
	rawClips, _ := data["clips"].([]any)
	clips := make([]string, 0, len(rawClips))
	for _, c := range rawClips {
		if s, ok := c.(string); ok && s != "" {
			clips = append(clips, s)
		}
	}
	if len(clips) == 0 {
		return mediaError("No clips to assemble")
	}

	// ffmpeg's concat demuxer wants a list file.
	concatFile := d.outputFile("concat", "txt")
	var list strings.Builder
	for _, clip := range clips {
		fmt.Fprintf(&list, "file '%s'\n", clip)
	}
	if err := os.WriteFile(concatFile, []byte(list.String()), 0o644); err != nil {
		return mediaError(err.Error())
	}
	defer os.Remove(concatFile)

	output := d.outputFile("assembled", "mp4")
	err := d.ffmpeg(ctx,
		"-y", "-f", "concat", "-safe", "0", "-i", concatFile,
		"-c:v", "libx264", "-c:a", "aac", output,
	)
	if err != nil {
		return mediaError(err.Error())
	}
	return domain.Ok(map[string]any{
		"output_path": output, "count": len(clips),
		"domain": "media_creation", "card_type": "media",
	})
}

var gradeFilters = map[string]string{
	"cinematic": "curves=preset=increase_contrast,eq=saturation=1.1",
	"warm":      "eq=gamma_r=1.06:gamma_b=0.94:saturation=1.1",
	"cool":      "eq=gamma_b=1.06:gamma_r=0.94",
	"noir":      "hue=s=0,eq=contrast=1.2",
	"vintage":   "curves=preset=vintage",
}

func (d *Domain) colorGrade(ctx context.Context, data map[string]any) domain.Result {
	videoPath := stringField(data, "video", stringField(data, "video_path", ""))
	grade := stringField(data, "grade", "cinematic")
	if videoPath == "" {
		return mediaError("No video to grade")
	}
	filter, ok := gradeFilters[grade]
	if !ok {
		return mediaError("Unknown color grade: " + grade)
	}

	output := d.outputFile("graded", "mp4")
	err := d.ffmpeg(ctx,
		"-y", "-i", videoPath,
		"-vf", filter,
		"-c:v", "libx264", "-c:a", "copy",
		output,
	)
	if err != nil {
		return mediaError(err.Error())
	}
	return domain.Ok(map[string]any{
		"output_path": output, "grade": grade,
		"domain": "media_creation", "card_type": "media",
	})
}
