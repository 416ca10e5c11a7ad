package views

import (
	"context"

	"eventdesk/internal/model"
	"eventdesk/internal/query"
)

// ImageOption is one selectable image.
type ImageOption struct {
	Path    string
	Caption string
	URL     string
}

// ImagesContent is the rendered image picker.
type ImagesContent struct {
	Loading bool
	Error   *ErrorBlock
	Images  []ImageOption
}

// ImagePicker lists the images an event form can reference.
type ImagePicker struct {
	gw    Gateway
	query *query.Query[[]model.Image]
}

// NewImagePicker binds the picker to the images collection.
func NewImagePicker(store *query.Store, gw Gateway) *ImagePicker {
	return &ImagePicker{
		gw: gw,
		query: query.NewQuery(store, query.QueryOptions[[]model.Image]{
			Key: ImagesKey(),
			Fn: func(ctx context.Context, _ query.Key) ([]model.Image, error) {
				return gw.FetchImages(ctx)
			},
			StaleTime: ImagesStaleTime,
		}),
	}
}

func (v *ImagePicker) Mount(ctx context.Context) { v.query.Mount(ctx) }
func (v *ImagePicker) Unmount()                  { v.query.Unmount() }

// Query exposes the underlying binder.
func (v *ImagePicker) Query() *query.Query[[]model.Image] { return v.query }

// Content renders the picker.
func (v *ImagePicker) Content() ImagesContent {
	r := v.query.Result()
	var c ImagesContent
	if r.IsPending() {
		c.Loading = true
	}
	if r.IsError() {
		c.Error = newErrorBlock("Failed to load selectable images", r.Err, "Please try again later.")
	}
	if r.HasData {
		c.Images = make([]ImageOption, 0, len(r.Data))
		for _, img := range r.Data {
			c.Images = append(c.Images, ImageOption{
				Path:    img.Path,
				Caption: img.Caption,
				URL:     v.gw.ImageURL(img.Path),
			})
		}
	}
	return c
}
