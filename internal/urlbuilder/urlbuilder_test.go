package urlbuilder

import (
	"net/http"
	"testing"
)

func TestPrefix_addsTrailingSlash(t *testing.T) {
	b := Prefix{Prefix: "https://cdn.example.com/dl"}
	got := b.BuildURL("abc", "base.ogg", "tok123")
	want := "https://cdn.example.com/dl/abc/base.ogg?t=tok123"
	if got != want {
		t.Errorf("BuildURL() = %q, want %q", got, want)
	}
}

func TestPrefix_keepsExistingTrailingSlash(t *testing.T) {
	b := Prefix{Prefix: "https://cdn.example.com/dl/"}
	got := b.BuildURL("abc", "base.ogg", "tok123")
	want := "https://cdn.example.com/dl/abc/base.ogg?t=tok123"
	if got != want {
		t.Errorf("BuildURL() = %q, want %q", got, want)
	}
}

func TestChiRoute_buildsAbsoluteURL(t *testing.T) {
	req, _ := http.NewRequest("GET", "/anything", nil)
	req.Host = "songdl.example.com"
	b := ChiRoute{Request: req}
	got := b.BuildURL("abc", "base.ogg", "tok123")
	want := "http://songdl.example.com/download/abc/base.ogg?t=tok123"
	if got != want {
		t.Errorf("BuildURL() = %q, want %q", got, want)
	}
}
