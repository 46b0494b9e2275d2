package visual

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-pipeline-api/internal/domain/entity"
	"content-pipeline-api/internal/workflow/port"
	"content-pipeline-api/pkg/retry"
)

type fakeGen struct {
	errs  []error
	calls int
	last  port.ImageRequest
}

func (f *fakeGen) Generate(_ context.Context, req port.ImageRequest) (*port.ImageResult, error) {
	f.calls++
	f.last = req
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return &port.ImageResult{URL: "https://img.example/raw.png"}, nil
}

type fakeFetcher struct{ data []byte }

func (f fakeFetcher) Fetch(context.Context, string) ([]byte, error) { return f.data, nil }

type fakeStore struct {
	meta port.ObjectMeta
	data []byte
}

func (f *fakeStore) Upload(_ context.Context, data []byte, meta port.ObjectMeta) (string, error) {
	f.meta, f.data = meta, data
	return "https://cdn.example/" + meta.Key, nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testInput() Input {
	tenant := entity.NewTenant("tenant-1", "Acme", entity.TierStarter)
	tenant.Brand = &entity.BrandProfile{Voice: "calm", VisualStyle: "flat vector", Palette: "navy, amber"}
	return Input{
		Tenant: tenant,
		RunID:  "run-1",
		Brief: &entity.Brief{
			TitleOptions:   []string{"Edge Caching, Explained!"},
			Outline:        []string{"Keys"},
			TargetKeywords: []string{"cdn"},
		},
		Draft: &entity.Draft{Sections: []entity.Section{{Heading: "Cache keys"}}, Revision: 1},
	}
}

func TestProduceCropsAndUploads(t *testing.T) {
	gen := &fakeGen{errs: []error{errors.New("busy")}}
	store := &fakeStore{}
	stage := NewStage(gen, fakeFetcher{data: pngBytes(t, 400, 400)}, store, Config{
		Retry: retry.Policy{MaxAttempts: 2, Sleep: retry.NoSleep},
	})

	asset, err := stage.Produce(context.Background(), testInput())
	require.NoError(t, err)
	assert.Equal(t, 2, gen.calls)

	assert.Equal(t, "images/tenant-1/run-1/edge-caching-explained-r1.jpg", store.meta.Key)
	assert.Equal(t, "image/jpeg", store.meta.ContentType)
	assert.Equal(t, "https://cdn.example/"+store.meta.Key, asset.URL)
	assert.Equal(t, "Illustration for Edge Caching, Explained! about cdn", asset.AltText)
	assert.Equal(t, len(store.data), asset.Bytes)

	out, err := jpeg.Decode(bytes.NewReader(store.data))
	require.NoError(t, err)
	assert.Equal(t, 1200, out.Bounds().Dx())
	assert.Equal(t, 630, out.Bounds().Dy())

	assert.Contains(t, gen.last.Prompt, "flat vector")
	assert.Contains(t, gen.last.Prompt, "navy, amber")
	assert.Contains(t, gen.last.Prompt, "Cache keys")
}

func TestProduceFailsAfterRetry(t *testing.T) {
	gen := &fakeGen{errs: []error{errors.New("busy"), errors.New("busy")}}
	store := &fakeStore{}
	stage := NewStage(gen, fakeFetcher{}, store, Config{Retry: retry.Policy{MaxAttempts: 2, Sleep: retry.NoSleep}})

	asset, err := stage.Produce(context.Background(), testInput())
	assert.Error(t, err)
	assert.Nil(t, asset)
	assert.Equal(t, 2, gen.calls)
	assert.Empty(t, store.meta.Key)
}

func TestProcessRejectsGarbage(t *testing.T) {
	_, err := Process([]byte("not an image"), 1200, 630, 82)
	assert.Error(t, err)
}

func TestCenterCrop(t *testing.T) {
	assert.Equal(t, image.Rect(0, 237, 1000, 762), CenterCrop(image.Rect(0, 0, 1000, 1000), 1200, 630))
	assert.Equal(t, image.Rect(190, 0, 1809, 850), CenterCrop(image.Rect(0, 0, 2000, 850), 1200, 630))
}
