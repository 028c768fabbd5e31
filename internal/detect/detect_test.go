package detect

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDetector returns canned boxes keyed by the image width so tests can
// tell images apart after they are decoded from disk.
type fakeDetector struct {
	byWidth map[int][]Box
	errs    map[int]error
	calls   []Thresholds
}

func (f *fakeDetector) Detect(_ context.Context, img image.Image, th Thresholds) ([]Box, error) {
	f.calls = append(f.calls, th)
	w := img.Bounds().Dx()
	if err := f.errs[w]; err != nil {
		return nil, err
	}
	return f.byWidth[w], nil
}

func writePNG(t *testing.T, dir, name string, width int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, imaging.Save(imaging.New(width, 40, color.White), path))
	return path
}

func TestFilterKeepsOnlyImagesWithBoxes(t *testing.T) {
	dir := t.TempDir()
	hit := []Box{{X1: 2, Y1: 2, X2: 30, Y2: 30, Class: "head_and_shoulders", Confidence: 0.9}}
	many := []Box{
		{X1: 1, Y1: 1, X2: 10, Y2: 10, Class: "w_bottom", Confidence: 0.8},
		{X1: 5, Y1: 5, X2: 20, Y2: 20, ClassID: 3, Class: "triangle", Confidence: 0.4},
	}
	paths := []string{
		writePNG(t, dir, "a.png", 50),
		writePNG(t, dir, "b.png", 51),
		writePNG(t, dir, "c.png", 52),
	}

	det := &fakeDetector{byWidth: map[int][]Box{51: hit, 52: many}}
	th := Thresholds{Confidence: 0.3, IoU: 0.5, ClassAgnostic: true, MaxDetections: 7}
	out, err := NewFilter(det, th, nil, zerolog.Nop()).Filter(context.Background(), paths)
	require.NoError(t, err)

	require.Len(t, out.Retained, 2)
	assert.Equal(t, paths[1], out.Retained[0].Path)
	assert.Len(t, out.Retained[0].Boxes, 1)
	assert.Equal(t, paths[2], out.Retained[1].Path)
	assert.Len(t, out.Retained[1].Boxes, 2, "filter must not change the detection count")
	assert.Equal(t, []string{paths[0]}, out.Discarded)
	assert.Empty(t, out.Failed)

	for _, r := range out.Retained {
		assert.NotEmpty(t, r.Boxes)
		assert.NotNil(t, r.Annotated)
	}
	require.Len(t, det.calls, 3)
	for _, c := range det.calls {
		assert.Equal(t, th, c)
	}
}

func TestFilterIsolatesFailures(t *testing.T) {
	dir := t.TempDir()
	corrupt := filepath.Join(dir, "corrupt.png")
	require.NoError(t, os.WriteFile(corrupt, []byte("not an image"), 0o644))
	paths := []string{
		corrupt,
		writePNG(t, dir, "err.png", 60),
		writePNG(t, dir, "ok.png", 61),
	}

	det := &fakeDetector{
		byWidth: map[int][]Box{61: {{X2: 5, Y2: 5, Class: "flag", Confidence: 0.7}}},
		errs:    map[int]error{60: errors.New("model crashed")},
	}
	out, err := NewFilter(det, DefaultThresholds(), nil, zerolog.Nop()).Filter(context.Background(), paths)
	require.NoError(t, err)

	require.Len(t, out.Failed, 2)
	for _, f := range out.Failed {
		assert.ErrorIs(t, f.Err, ErrDetectionFailure)
	}
	require.Len(t, out.Retained, 1)
	assert.Equal(t, paths[2], out.Retained[0].Path)
}

func TestFilterEachStreamsResults(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writePNG(t, dir, "a.png", 70),
		writePNG(t, dir, "b.png", 71),
		writePNG(t, dir, "c.png", 72),
	}
	hit := []Box{{X2: 5, Y2: 5, Class: "flag", Confidence: 0.7}}
	det := &fakeDetector{byWidth: map[int][]Box{70: hit, 72: hit}}

	var seen []string
	out, err := NewFilter(det, DefaultThresholds(), nil, zerolog.Nop()).
		Each(context.Background(), paths, func(res Result) {
			if res.Annotated == nil {
				t.Fatalf("回调中的结果缺少标注图: %s", res.Path)
			}
			// 回调发生在下一张图被检测之前
			assert.Len(t, det.calls, len(seen)*2+1)
			seen = append(seen, res.Path)
		})
	require.NoError(t, err)

	assert.Equal(t, []string{paths[0], paths[2]}, seen)
	require.Len(t, out.Retained, 2)
	for _, r := range out.Retained {
		assert.Nil(t, r.Annotated, "outcome must not hold annotated images")
		assert.NotEmpty(t, r.Boxes)
	}
	assert.Equal(t, []string{paths[1]}, out.Discarded)
}

func TestFilterStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFilter(&fakeDetector{}, DefaultThresholds(), nil, zerolog.Nop()).
		Filter(ctx, []string{writePNG(t, dir, "a.png", 10)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanImages(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "b.png", 10)
	writePNG(t, dir, "a.png", 10)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0o755))

	paths, err := ScanImages(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.png"), filepath.Join(dir, "b.png")}, paths)

	_, err = ScanImages(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestAnnotateDrawsOutline(t *testing.T) {
	src := imaging.New(100, 80, color.White)
	box := Box{X1: 20, Y1: 30, X2: 60, Y2: 70, ClassID: 1, Class: "double_top", Confidence: 0.88}

	out := NewAnnotator().Annotate(src, []Box{box})

	want := classColor(1)
	assert.Equal(t, want, out.NRGBAAt(40, 69), "bottom edge should carry the class colour")
	assert.Equal(t, want, out.NRGBAAt(20, 50), "left edge should carry the class colour")
	assert.Equal(t, color.NRGBA{255, 255, 255, 255}, out.NRGBAAt(40, 50), "box interior stays untouched")
	assert.Equal(t, color.NRGBA{255, 255, 255, 255}, src.NRGBAAt(20, 50), "source image must not be modified")
}

func TestClassColorsDiffer(t *testing.T) {
	assert.NotEqual(t, classColor(0), classColor(1))
	assert.NotEqual(t, classColor(1), classColor(2))
}

func TestHTTPDetectorSuccess(t *testing.T) {
	var received predictRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != predictPath {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"predictions": []map[string]any{
				{"class_id": 0, "class": "Head and shoulders top", "confidence": 0.31, "box": map[string]float64{"x1": 1, "y1": 2, "x2": 30, "y2": 40}},
				{"class_id": 2, "class": "W_Bottom", "confidence": 0.92, "box": map[string]float64{"x1": 5, "y1": 5, "x2": 9, "y2": 9}},
				{"class_id": 4, "class": "Triangle", "confidence": 0.10, "box": map[string]float64{"x1": 0, "y1": 0, "x2": 1, "y2": 1}},
				{"class_id": 1, "class": "Head and shoulders bottom", "confidence": 0.55, "box": map[string]float64{"x1": 0, "y1": 0, "x2": 3, "y2": 3}},
			},
		})
	}))
	defer srv.Close()

	d := NewHTTPDetector(HTTPOptions{Endpoint: srv.URL + "/", Model: "yolo", Timeout: time.Second}, zerolog.Nop())
	th := Thresholds{Confidence: 0.25, IoU: 0.45, MaxDetections: 2}
	boxes, err := d.Detect(context.Background(), imaging.New(16, 16, color.Black), th)
	require.NoError(t, err)

	require.Len(t, boxes, 2)
	assert.Equal(t, "W_Bottom", boxes[0].Class)
	assert.Equal(t, "Head and shoulders bottom", boxes[1].Class)

	assert.Equal(t, "yolo", received.Model)
	assert.Equal(t, 0.25, received.Conf)
	assert.Equal(t, 0.45, received.IoU)
	assert.Equal(t, 2, received.MaxDet)
	assert.False(t, received.AgnosticNMS)
	raw, err := base64.StdEncoding.DecodeString(received.Image)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "\x89PNG"))
}

func TestHTTPDetectorErrors(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(map[string]string{"detail": "cannot decode image"})
		},
		"bad json": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("{"))
		},
		"invalid box": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"predictions": []map[string]any{{"class": "x", "confidence": 0.9, "box": map[string]float64{"x1": 10, "y1": 0, "x2": 1, "y2": 1}}},
			})
		},
		"missing class": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"predictions": []map[string]any{{"confidence": 0.9, "box": map[string]float64{"x2": 1, "y2": 1}}},
			})
		},
	}

	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(handler)
			defer srv.Close()

			d := NewHTTPDetector(HTTPOptions{Endpoint: srv.URL}, zerolog.Nop())
			_, err := d.Detect(context.Background(), imaging.New(4, 4, color.Black), DefaultThresholds())
			require.Error(t, err)
		})
	}
}

func TestHTTPDetectorEmptyPredictions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"predictions":[]}`))
	}))
	defer srv.Close()

	boxes, err := NewHTTPDetector(HTTPOptions{Endpoint: srv.URL}, zerolog.Nop()).
		Detect(context.Background(), imaging.New(4, 4, color.Black), DefaultThresholds())
	require.NoError(t, err)
	assert.Empty(t, boxes)
}
