package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/omegahq/gateway/internal/bus"
)

const (
	defaultMediaMaxBytes int64 = 20 * 1024 * 1024
	downloadMaxRetries         = 3
)

// resolveMedia downloads any photo, voice, audio, or document attached to
// m and returns them as bus.MediaAttachment values the pipeline can pass to
// the provider and, for outbound replies, back to Send.
func (c *Channel) resolveMedia(ctx context.Context, m *telego.Message) []bus.MediaAttachment {
	maxBytes := c.config.MediaMaxBytes
	if maxBytes == 0 {
		maxBytes = defaultMediaMaxBytes
	}

	var results []bus.MediaAttachment

	if len(m.Photo) > 0 {
		photo := m.Photo[len(m.Photo)-1] // highest resolution
		path, err := c.downloadMedia(ctx, photo.FileID, maxBytes)
		if err != nil {
			slog.Warn("telegram: photo download failed", "error", err)
		} else {
			if sanitized, err := sanitizeImage(path); err == nil {
				path = sanitized
			} else {
				slog.Warn("telegram: image sanitize failed, using original", "error", err)
			}
			results = append(results, bus.MediaAttachment{Path: path, ContentType: "image/jpeg"})
		}
	}

	if m.Voice != nil {
		path, err := c.downloadMedia(ctx, m.Voice.FileID, maxBytes)
		if err != nil {
			slog.Warn("telegram: voice download failed", "error", err)
		} else {
			results = append(results, bus.MediaAttachment{Path: path, ContentType: m.Voice.MimeType})
		}
	}

	if m.Audio != nil {
		path, err := c.downloadMedia(ctx, m.Audio.FileID, maxBytes)
		if err != nil {
			slog.Warn("telegram: audio download failed", "error", err)
		} else {
			results = append(results, bus.MediaAttachment{Path: path, ContentType: m.Audio.MimeType, Caption: m.Audio.FileName})
		}
	}

	if m.Document != nil {
		path, err := c.downloadMedia(ctx, m.Document.FileID, maxBytes)
		if err != nil {
			slog.Warn("telegram: document download failed", "error", err)
		} else {
			results = append(results, bus.MediaAttachment{Path: path, ContentType: m.Document.MimeType, Caption: m.Document.FileName})
		}
	}

	return results
}

// downloadMedia downloads a file by file_id, retrying the file lookup with a
// delay that grows by one second per attempt, and returns its local path.
func (c *Channel) downloadMedia(ctx context.Context, fileID string, maxBytes int64) (string, error) {
	var file *telego.File
	var err error
	for attempt := 1; attempt <= downloadMaxRetries; attempt++ {
		file, err = c.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
		if err == nil {
			break
		}
		if attempt < downloadMaxRetries {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}
	if err != nil {
		return "", fmt.Errorf("get file info after %d attempts: %w", downloadMaxRetries, err)
	}
	if file.FilePath == "" {
		return "", fmt.Errorf("empty file path for file_id %s", fileID)
	}
	if int64(file.FileSize) > maxBytes {
		return "", fmt.Errorf("file too large: %d bytes (max %d)", file.FileSize, maxBytes)
	}

	downloadURL := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", c.config.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	ext := filepath.Ext(file.FilePath)
	if ext == "" {
		ext = ".bin"
	}
	tmp, err := os.CreateTemp("", "omega_media_*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer tmp.Close()

	written, err := io.Copy(tmp, io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("save file: %w", err)
	}
	if written > maxBytes {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("file exceeds max size during download: %d bytes", written)
	}
	return tmp.Name(), nil
}

// sanitizeImage re-encodes an image, which drops EXIF metadata (including
// GPS tags) and any polyglot payload appended past the image data.
func sanitizeImage(path string) (string, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return "", err
	}
	out := path + ".clean.jpg"
	if err := imaging.Save(img, out, imaging.JPEGQuality(90)); err != nil {
		return "", err
	}
	os.Remove(path)
	return out, nil
}

// sendMedia uploads a local media attachment to chatID.
func (c *Channel) sendMedia(ctx context.Context, chatID int64, m bus.MediaAttachment) error {
	f, err := os.Open(m.Path)
	if err != nil {
		return fmt.Errorf("open media %s: %w", m.Path, err)
	}
	defer f.Close()

	_, err = c.bot.SendDocument(ctx, &telego.SendDocumentParams{
		ChatID:   tu.ID(chatID),
		Document: tu.File(f),
		Caption:  m.Caption,
	})
	return err
}
