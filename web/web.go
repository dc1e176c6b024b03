// Package web serves the embedded single-page front end.
package web

import (
	_ "embed"
	"net/http"
)

//go:embed index.html
var indexHTML []byte

func Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}
