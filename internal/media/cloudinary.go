package media

import (
	"bytes"
	"context"
	"fmt"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// Cloudinary uploads images through the Cloudinary API using an unsigned
// upload preset.
type Cloudinary struct {
	cld    *cloudinary.Cloudinary
	preset string
}

// NewCloudinary builds an uploader from a cloudinary:// URL and an upload
// preset name.
func NewCloudinary(cloudinaryURL, preset string) (*Cloudinary, error) {
	cld, err := cloudinary.NewFromURL(cloudinaryURL)
	if err != nil {
		return nil, fmt.Errorf("cloudinary: %w", err)
	}
	return &Cloudinary{cld: cld, preset: preset}, nil
}

func (c *Cloudinary) Upload(ctx context.Context, data []byte, name string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("media: empty payload")
	}
	resp, err := c.cld.Upload.Upload(ctx, bytes.NewReader(data), uploader.UploadParams{
		UploadPreset: c.preset,
		PublicID:     name,
	})
	if err != nil {
		return "", fmt.Errorf("cloudinary upload: %w", err)
	}
	if resp.Error.Message != "" {
		return "", fmt.Errorf("cloudinary upload: %s", resp.Error.Message)
	}
	return resp.SecureURL, nil
}
