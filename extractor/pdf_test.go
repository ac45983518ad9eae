package extractor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeText struct {
	text string
	err  error
}

func (f fakeText) ExtractText(ctx context.Context, data []byte) (string, error) {
	return f.text, f.err
}

type fakeRaster struct {
	pages int
	calls int
}

func (f *fakeRaster) Rasterize(ctx context.Context, data []byte, dpi int) ([][]byte, error) {
	f.calls++
	out := make([][]byte, f.pages)
	for i := range out {
		out[i] = []byte{byte(i)}
	}
	return out, nil
}

type fakeOCR struct {
	pages []string
	err   error
}

func (f fakeOCR) Recognize(ctx context.Context, image []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.pages[int(image[0])], nil
}

const fiveItems = "Kos 0.79\nGjalp 2.49\nQumesht 0.95\nDjath 3.20\nPatate 0.60\n"

func TestPDFExtractorTextLayerEnough(t *testing.T) {
	raster := &fakeRaster{pages: 1}
	e := NewPDFExtractor(fakeText{text: fiveItems}, raster, fakeOCR{pages: []string{"Kos 0.79"}}, 200, 5, nil)

	res, err := e.Extract(context.Background(), []byte("%PDF"))
	require.NoError(t, err)
	assert.Len(t, res.Items, 5)
	assert.Zero(t, raster.calls, "ocr pass must not run when the text layer is enough")
}

func TestPDFExtractorFallsBackToOCR(t *testing.T) {
	raster := &fakeRaster{pages: 2}
	rec := fakeOCR{pages: []string{"Kos 0.79\nGjalp 2.49", "Qumesht 0.95"}}
	e := NewPDFExtractor(fakeText{text: "Kos 0.79"}, raster, rec, 200, 5, nil)

	res, err := e.Extract(context.Background(), []byte("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, 1, raster.calls)
	assert.Len(t, res.Items, 3)
}

func TestPDFExtractorKeepsRicherPass(t *testing.T) {
	rec := fakeOCR{pages: []string{"garbage"}}
	e := NewPDFExtractor(fakeText{text: "Kos 0.79\nGjalp 2.49"}, &fakeRaster{pages: 1}, rec, 200, 5, nil)

	res, err := e.Extract(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
}

func TestPDFExtractorTextLayerFailure(t *testing.T) {
	rec := fakeOCR{pages: []string{"Kos 0.79"}}
	e := NewPDFExtractor(fakeText{err: errors.New("no text layer")}, &fakeRaster{pages: 1}, rec, 200, 5, nil)

	res, err := e.Extract(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, res.Items, 1)
}

func TestPDFExtractorAllPassesFail(t *testing.T) {
	e := NewPDFExtractor(fakeText{err: errors.New("no text layer")}, &fakeRaster{pages: 1}, fakeOCR{err: errors.New("ocr down")}, 200, 5, nil)

	_, err := e.Extract(context.Background(), nil)
	assert.Error(t, err)

	_, err = NewPDFExtractor(nil, nil, nil, 0, 0, nil).Extract(context.Background(), nil)
	assert.Error(t, err)
}

func TestExtractImage(t *testing.T) {
	res, text, err := ExtractImage(context.Background(), fakeOCR{pages: []string{"Kos Abi 1kg 1,19€"}}, []byte{0})
	require.NoError(t, err)
	assert.Equal(t, "Kos Abi 1kg 1,19€", text)
	require.Len(t, res.Items, 1)
	assert.Equal(t, 1.19, res.Items[0].Price)
}
