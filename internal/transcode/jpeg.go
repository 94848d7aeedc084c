// Package transcode converts raw captures to web-friendly encodings.
package transcode

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // chromedp viewport captures decode as PNG

	"go.uber.org/zap"

	"github.com/toolhub/shotpipe/internal/capture"
)

// Content types emitted by the transcoder.
const (
	ContentTypeJPEG = "image/jpeg"
	ContentTypePNG  = "image/png"
)

// JPEG re-encodes raw bitmap captures as JPEG at a fixed quality.
type JPEG struct {
	quality int
	logger  *zap.Logger
}

// NewJPEG builds a transcoder. Quality outside (0,100] falls back to 85.
func NewJPEG(quality int, logger *zap.Logger) *JPEG {
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	return &JPEG{quality: quality, logger: logger}
}

// Transcode decodes the raw buffer and re-encodes it as JPEG. Decode or
// encode failures never fail the target: the raw buffer is passed through
// unmodified as PNG with a logged warning.
func (t *JPEG) Transcode(region capture.Region, raw []byte) (capture.TranscodedAsset, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		t.logger.Warn("decode failed, passing raw bytes through",
			zap.String("region", string(region)),
			zap.Error(fmt.Errorf("%w: %v", capture.ErrEncode, err)),
		)
		return passthrough(region, raw), nil
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: t.quality}); err != nil {
		t.logger.Warn("jpeg encode failed, passing raw bytes through",
			zap.String("region", string(region)),
			zap.Error(fmt.Errorf("%w: %v", capture.ErrEncode, err)),
		)
		return passthrough(region, raw), nil
	}

	return capture.TranscodedAsset{
		Region:      region,
		Bytes:       buf.Bytes(),
		ContentType: ContentTypeJPEG,
	}, nil
}

func passthrough(region capture.Region, raw []byte) capture.TranscodedAsset {
	return capture.TranscodedAsset{
		Region:      region,
		Bytes:       raw,
		ContentType: ContentTypePNG,
	}
}
