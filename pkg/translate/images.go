package translate

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mercator-hq/ganymede/pkg/proxy/types"
)

const (
	// imageFetchTimeout bounds one URL image download.
	imageFetchTimeout = 10 * time.Second

	// maxImageBytes caps a downloaded image. The upstream rejects larger
	// payloads anyway; failing early keeps the error attributable.
	maxImageBytes = 20 << 20
)

// resolveImages fetches every URL-referenced image in the request and
// replaces it in place with its base64 form. Blocks that already carry
// base64 data pass through untouched, which also makes re-translation after
// a summarization retry free. Any fetch failure is the client's problem: the
// URL they supplied did not yield a usable image.
func (t *Translator) resolveImages(ctx context.Context, msgs []types.Message) error {
	for mi := range msgs {
		for bi := range msgs[mi].Content {
			b := &msgs[mi].Content[bi]
			if b.Kind != types.BlockImage || b.URL == "" {
				continue
			}
			media, data, err := t.fetchImage(ctx, b.URL)
			if err != nil {
				return types.NewRequestError(400, types.ErrInvalidRequest,
					fmt.Sprintf("could not fetch image %q: %v", b.URL, err))
			}
			b.MediaType = media
			b.Data = data
			b.URL = ""
		}
	}
	return nil
}

// fetchImage downloads one image and returns its media type and base64
// payload.
func (t *Translator) fetchImage(ctx context.Context, url string) (mediaType, data string, err error) {
	ctx, cancel := context.WithTimeout(ctx, imageFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return "", "", err
	}
	if len(raw) > maxImageBytes {
		return "", "", fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	if len(raw) == 0 {
		return "", "", fmt.Errorf("empty response body")
	}

	media := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(media, ';'); i >= 0 {
		media = strings.TrimSpace(media[:i])
	}
	if media == "" || media == "application/octet-stream" {
		media = http.DetectContentType(raw)
	}
	if !strings.HasPrefix(media, "image/") {
		return "", "", fmt.Errorf("content type %q is not an image", media)
	}
	return media, base64.StdEncoding.EncodeToString(raw), nil
}

// imageFormat maps a media type onto the upstream's bare format token.
func imageFormat(mediaType string) string {
	format := strings.TrimPrefix(mediaType, "image/")
	if i := strings.IndexByte(format, ';'); i >= 0 {
		format = format[:i]
	}
	switch format {
	case "jpg":
		return "jpeg"
	case "":
		return "png"
	default:
		return format
	}
}
