package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ytget/qrplay/errs"
	"github.com/ytget/qrplay/types"
)

type fakeLookup struct {
	info types.VideoInfo
	err  error
	refs []types.MediaReference
}

func (f *fakeLookup) Lookup(ctx context.Context, ref types.MediaReference) (types.VideoInfo, error) {
	f.refs = append(f.refs, ref)
	return f.info, f.err
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestPage(t *testing.T) {
	srv := New(Config{BaseURL: "https://qrplay.example"})
	rec := do(t, srv, http.MethodGet, "/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	csp := rec.Header().Get("Content-Security-Policy")
	if !strings.Contains(csp, "frame-src https://www.youtube.com") {
		t.Errorf("CSP missing frame-src: %s", csp)
	}
	if got := rec.Header().Get("Permissions-Policy"); !strings.Contains(got, "camera=(self)") {
		t.Errorf("Permissions-Policy = %q", got)
	}
	if rec.Header().Get("Strict-Transport-Security") == "" {
		t.Error("HSTS header missing for https base URL")
	}

	doc, err := goquery.NewDocumentFromReader(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	for _, sel := range []string{"#scanner-view", "#reader", "#scan-button", "#urlInput", "#game-view.hidden", "#play-button", "#reveal-button.hidden"} {
		if doc.Find(sel).Length() != 1 {
			t.Errorf("page has no %s", sel)
		}
	}
	wrapper := doc.Find("#player-container #iframe-wrapper")
	if wrapper.Length() != 1 {
		t.Fatal("page has no gated iframe wrapper")
	}
	if wrapper.HasClass("revealed") {
		t.Error("iframe wrapper starts revealed")
	}

	doc.Find("script").Each(func(i int, sel *goquery.Selection) {
		nonce, _ := sel.Attr("nonce")
		if nonce == "" || !strings.Contains(csp, "'nonce-"+nonce+"'") {
			t.Errorf("script %d nonce %q not in CSP", i, nonce)
		}
	})
	inline := doc.Find("script:not([src])").Text()
	if !strings.Contains(inline, `"Camera permission denied."`) {
		t.Error("inline script lacks camera messages")
	}
}

func TestSecurityHeaders_UniqueNonce(t *testing.T) {
	srv := New(Config{})
	a := do(t, srv, http.MethodGet, "/", nil).Header().Get("Content-Security-Policy")
	b := do(t, srv, http.MethodGet, "/", nil).Header().Get("Content-Security-Policy")
	if a == b {
		t.Error("CSP nonce reused across requests")
	}
	if strings.Contains(a, "'unsafe-inline'") {
		t.Errorf("CSP allows unsafe-inline: %s", a)
	}
}

func TestResolve(t *testing.T) {
	srv := New(Config{BaseURL: "https://qrplay.example"})
	tests := []struct {
		name   string
		query  string
		status int
		want   resolveResponse
	}{
		{
			name:   "watch url",
			query:  "url=https%3A%2F%2Fwww.youtube.com%2Fwatch%3Fv%3DdQw4w9WgXcQ",
			status: http.StatusOK,
			want: resolveResponse{
				Service:  types.YouTube,
				ID:       "dQw4w9WgXcQ",
				EmbedURL: "https://www.youtube.com/embed/dQw4w9WgXcQ?autoplay=1&controls=0&enablejsapi=1&modestbranding=1&origin=https%3A%2F%2Fqrplay.example&playsinline=1&rel=0",
			},
		},
		{name: "unrecognised", query: "url=https%3A%2F%2Fvimeo.com%2F1234", status: http.StatusUnprocessableEntity},
		{name: "missing", query: "", status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodGet, "/api/resolve?"+tt.query, nil)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
			}
			if tt.status != http.StatusOK {
				var e errorBody
				decode(t, rec, &e)
				if e.Error == "" {
					t.Error("empty error body")
				}
				return
			}
			var got resolveResponse
			decode(t, rec, &got)
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSessionRoundTrip(t *testing.T) {
	lookup := &fakeLookup{info: types.VideoInfo{Title: "Never Gonna Give You Up", Author: "Rick Astley"}}
	srv := New(Config{BaseURL: "https://qrplay.example", PlayDelay: 250 * time.Millisecond, Lookup: lookup})

	rec := do(t, srv, http.MethodPost, "/api/sessions", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	var created struct {
		ID    string `json:"id"`
		State struct {
			View string `json:"view"`
		} `json:"state"`
	}
	decode(t, rec, &created)
	if created.ID == "" || created.State.View != "scanner" {
		t.Fatalf("created = %+v", created)
	}
	base := "/api/sessions/" + created.ID

	if rec := do(t, srv, http.MethodPost, base+"/play", nil); rec.Code != http.StatusConflict {
		t.Errorf("play before load status = %d", rec.Code)
	}
	if rec := do(t, srv, http.MethodPost, base+"/load", loadRequest{URL: "https://example.com"}); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("load unrecognised status = %d", rec.Code)
	}
	if rec := do(t, srv, http.MethodPost, base+"/load", "{"); rec.Code != http.StatusBadRequest {
		t.Errorf("load bad body status = %d", rec.Code)
	}

	rec = do(t, srv, http.MethodPost, base+"/load", loadRequest{URL: "https://youtu.be/dQw4w9WgXcQ"})
	if rec.Code != http.StatusOK {
		t.Fatalf("load status = %d body %s", rec.Code, rec.Body)
	}
	if rec := do(t, srv, http.MethodPost, base+"/reveal", nil); rec.Code != http.StatusConflict {
		t.Errorf("reveal before play status = %d", rec.Code)
	}

	rec = do(t, srv, http.MethodPost, base+"/play", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("play status = %d", rec.Code)
	}
	var play playResponse
	decode(t, rec, &play)
	if !strings.HasPrefix(play.EmbedURL, "https://www.youtube.com/embed/dQw4w9WgXcQ?") || play.Frame.Src != play.EmbedURL {
		t.Errorf("embed url = %q / %q", play.EmbedURL, play.Frame.Src)
	}
	if string(play.Command) != `{"event":"command","func":"playVideo","args":[]}` {
		t.Errorf("command = %s", play.Command)
	}
	if play.DelayMS != 250 || !play.State.Playing {
		t.Errorf("delay = %d, state = %+v", play.DelayMS, play.State)
	}

	rec = do(t, srv, http.MethodPost, base+"/reveal", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reveal status = %d", rec.Code)
	}
	var revealed struct {
		State struct {
			Revealed bool `json:"revealed"`
		} `json:"state"`
		Info *types.VideoInfo `json:"info"`
	}
	decode(t, rec, &revealed)
	if !revealed.State.Revealed || revealed.Info == nil || revealed.Info.Author != "Rick Astley" {
		t.Errorf("reveal = %+v", revealed)
	}
	if len(lookup.refs) != 1 || lookup.refs[0].VideoID() != "dQw4w9WgXcQ" {
		t.Errorf("lookups = %v", lookup.refs)
	}

	rec = do(t, srv, http.MethodPost, base+"/reset", nil)
	var state struct {
		View    string `json:"view"`
		Playing bool   `json:"playing"`
	}
	decode(t, rec, &state)
	if state.View != "scanner" || state.Playing {
		t.Errorf("state after reset = %+v", state)
	}

	if rec := do(t, srv, http.MethodDelete, base, nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rec.Code)
	}
	if rec := do(t, srv, http.MethodGet, base, nil); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", rec.Code)
	}
}

func TestReveal_LookupFailureStillReveals(t *testing.T) {
	srv := New(Config{Lookup: &fakeLookup{err: errs.ErrRateLimited}})
	var created sessionResponse
	decode(t, do(t, srv, http.MethodPost, "/api/sessions", nil), &created)
	base := "/api/sessions/" + created.ID

	do(t, srv, http.MethodPost, base+"/load", loadRequest{URL: "https://www.youtube.com/shorts/dQw4w9WgXcQ"})
	do(t, srv, http.MethodPost, base+"/play", nil)
	rec := do(t, srv, http.MethodPost, base+"/reveal", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reveal status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), `"info"`) {
		t.Errorf("info present after failed lookup: %s", rec.Body)
	}
}

func TestUnknownSession(t *testing.T) {
	srv := New(Config{})
	for _, path := range []string{"/api/sessions/not-a-uuid", "/api/sessions/6f1c1c8e-3a44-4f7b-9a50-1c1c8e3a444f"} {
		rec := do(t, srv, http.MethodGet, path, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d", path, rec.Code)
		}
		var e errorBody
		decode(t, rec, &e)
		if e.Error != errs.ErrSessionNotFound.Error() {
			t.Errorf("error = %q", e.Error)
		}
	}
}

func TestOrigin(t *testing.T) {
	srv := New(Config{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "game.local:8080"
	if got := srv.origin(req); got != "http://game.local:8080" {
		t.Errorf("origin = %q", got)
	}
	req.Header.Set("X-Forwarded-Proto", "https")
	if got := srv.origin(req); got != "https://game.local:8080" {
		t.Errorf("origin behind proxy = %q", got)
	}
}

func TestWriteGameError(t *testing.T) {
	srv := New(Config{})
	rec := httptest.NewRecorder()
	srv.writeGameError(rec, errors.New("boom"))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestRecoverer(t *testing.T) {
	srv := New(Config{})
	srv.router.Get("/panic", func(w http.ResponseWriter, r *http.Request) { panic("boom") })
	rec := do(t, srv, http.MethodGet, "/panic", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
}
