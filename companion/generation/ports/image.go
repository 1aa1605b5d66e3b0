package ports

import "context"

// Image is a synthesized picture.
type Image struct {
	Data          []byte
	MIMEType      string
	RevisedPrompt string // text the backend actually rendered, if it reports one
}

// ImageSynthesizer renders a prompt into a picture.
type ImageSynthesizer interface {
	Synthesize(ctx context.Context, prompt string) (Image, error)
}

// PictureStore persists synthesized pictures and returns their relative path.
type PictureStore interface {
	Save(ctx context.Context, img Image) (path string, err error)
}
