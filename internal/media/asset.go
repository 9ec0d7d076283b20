// Package media holds the binary assets a user attaches to a submission and the
// preview handles that expose them to the console while they are active.
package media

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the declared kind of an asset.
type Kind string

const (
	KindImage Kind = "image"
	KindAudio Kind = "audio"
)

// ErrEmptyAsset is returned when an asset has no content.
var ErrEmptyAsset = errors.New("media asset is empty")

// Asset is one image or audio payload owned by the form until submission or reset.
type Asset struct {
	Kind        Kind
	Name        string
	ContentType string
	Data        []byte

	// Preview is the zero Handle until the owner allocates one.
	Preview Handle
}

// NewAsset builds an asset. Only "is a file" is checked: the content must be
// non-empty. Name and content type fall back to per-kind defaults.
func NewAsset(kind Kind, name, contentType string, data []byte) (*Asset, error) {
	if kind != KindImage && kind != KindAudio {
		return nil, fmt.Errorf("unknown media kind %q", kind)
	}
	if len(data) == 0 {
		return nil, ErrEmptyAsset
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultName(kind)
	}
	contentType = strings.TrimSpace(contentType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = defaultContentType(kind)
	}

	return &Asset{
		Kind:        kind,
		Name:        name,
		ContentType: contentType,
		Data:        data,
	}, nil
}

// Size returns the content length in bytes.
func (a *Asset) Size() int {
	if a == nil {
		return 0
	}
	return len(a.Data)
}

// Summary is the JSON-friendly description of an asset, without its bytes.
type Summary struct {
	Kind        Kind   `json:"kind"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	PreviewURL  string `json:"preview_url,omitempty"`
}

// Summarize describes the asset for display. A nil asset yields nil.
func (a *Asset) Summarize() *Summary {
	if a == nil {
		return nil
	}
	return &Summary{
		Kind:        a.Kind,
		Name:        a.Name,
		ContentType: a.ContentType,
		Size:        len(a.Data),
		PreviewURL:  a.Preview.URL(),
	}
}

func defaultName(kind Kind) string {
	if kind == KindAudio {
		return "audio"
	}
	return "image"
}

func defaultContentType(kind Kind) string {
	if kind == KindAudio {
		return "audio/octet-stream"
	}
	return "image/octet-stream"
}
