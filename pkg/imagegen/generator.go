// Package imagegen turns a character description into a candidate portrait
// through an external image-generation service.
package imagegen

import (
	"context"
	"errors"
)

//go:generate mockgen -source=generator.go -destination=../../internal/mocks/imagegen/mock_generator.go -package=mock_imagegen

// Generator produces exactly one candidate image per successful call.
type Generator interface {
	Generate(ctx context.Context, prompt string) (Candidate, error)
}

// Candidate is a generated image that has not been saved.
type Candidate struct {
	Bytes []byte
	MIME  string
	// SourceURL is set when the service also returned a hosted copy.
	SourceURL     string
	RevisedPrompt string
}

// ErrNoImage is returned when the service answered without image data.
var ErrNoImage = errors.New("imagegen: response carried no image data")

// ErrEmptyPrompt is returned for a blank prompt.
var ErrEmptyPrompt = errors.New("imagegen: empty prompt")
