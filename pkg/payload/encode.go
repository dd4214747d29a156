package payload

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/alt-text-gen/pkg/models"
	"github.com/Sriram-PR/alt-text-gen/pkg/utils"
)

const downscaleJPEGQuality = 80

// encode applies the size cap (downscaling if configured) and returns a data URI
func (r *Resolver) encode(asset *models.ImageAsset, data []byte) (string, error) {
	mime := detectMIME(asset, data)
	max := r.cfg.MaxImageBytes

	if int64(len(data)) > max {
		if !r.cfg.DownscaleOversize {
			return "", utils.NewGenError(utils.KindImageTooLarge, "image exceeds %d bytes", max)
		}
		scaled, err := Downscale(data, r.cfg.DownscaleMaxPixels)
		if err != nil {
			return "", &utils.GenError{Kind: utils.KindImageTooLarge, Message: "image too large and could not be downscaled", Err: err}
		}
		r.log.WithFields(logrus.Fields{
			"asset_id": asset.ID, "original_bytes": len(data), "scaled_bytes": len(scaled),
		}).Debug("Downscaled oversize image")
		if int64(len(scaled)) > max {
			return "", utils.NewGenError(utils.KindImageTooLarge, "image exceeds %d bytes even after downscaling", max)
		}
		data, mime = scaled, "image/jpeg"
	}
	return DataURI(mime, data), nil
}

// Downscale fits the image into maxPixels x maxPixels and re-encodes it as JPEG
func Downscale(data []byte, maxPixels int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	img = imaging.Fit(img, maxPixels, maxPixels, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(downscaleJPEGQuality)); err != nil {
		return nil, fmt.Errorf("encoding image: %w", err)
	}
	return buf.Bytes(), nil
}

// DataURI encodes data as a base64 data URI
func DataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func detectMIME(asset *models.ImageAsset, data []byte) string {
	if asset.IsImage() {
		return strings.ToLower(strings.TrimSpace(asset.MIMEType))
	}
	return http.DetectContentType(data)
}
