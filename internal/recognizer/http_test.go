package recognizer

import (
	"context"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MeKo-Tech/shelfscan/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPRecognizer_ResponseFormats(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		want  []string
		poly0 []utils.Point
	}{
		{
			name:  "fragment list",
			body:  `{"fragments":[{"text":"LE PERE","confidence":0.9,"polygon":[[0,0],[5,0],[5,2],[0,2]]},{"text":"GORIOT","confidence":0.8}]}`,
			want:  []string{"LE PERE", "GORIOT"},
			poly0: []utils.Point{{X: 0, Y: 0}, {X: 5, Y: 0}, {X: 5, Y: 2}, {X: 0, Y: 2}},
		},
		{
			name:  "paddle arrays",
			body:  `{"rec_texts":["NANA","ZOLA"],"rec_scores":[0.95,0.85],"rec_polys":[[[1,1],[2,1],[2,2],[1,2]]]}`,
			want:  []string{"NANA", "ZOLA"},
			poly0: []utils.Point{{X: 1, Y: 1}, {X: 2, Y: 1}, {X: 2, Y: 2}, {X: 1, Y: 2}},
		},
		{
			name: "nothing read",
			body: `{}`,
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/ocr", r.URL.Path)
				_, _, err := r.FormFile("file")
				assert.NoError(t, err)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			frags, err := NewHTTPRecognizer(srv.URL, time.Second).Recognize(context.Background(), image.NewGray(image.Rect(0, 0, 6, 6)))
			require.NoError(t, err)
			texts := make([]string, len(frags))
			for i, f := range frags {
				texts[i] = f.Text
			}
			assert.Equal(t, tt.want, texts)
			if tt.poly0 != nil {
				assert.Equal(t, tt.poly0, frags[0].CropPolygon)
			}
		})
	}
}

func TestHTTPRecognizer_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, "boom"},
		{"malformed json", http.StatusOK, "{"},
		{"mismatched arrays", http.StatusOK, `{"rec_texts":["a","b"],"rec_scores":[0.5]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewHTTPRecognizer(srv.URL, time.Second).Recognize(context.Background(), image.NewGray(image.Rect(0, 0, 4, 4)))
			assert.Error(t, err)
		})
	}
}
