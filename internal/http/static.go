package http

import (
	"io/fs"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

func init() {
	// some systems miss these
	_ = mime.AddExtensionType(".js", "application/javascript; charset=utf-8")
	_ = mime.AddExtensionType(".mjs", "application/javascript; charset=utf-8")
	_ = mime.AddExtensionType(".css", "text/css; charset=utf-8")
	_ = mime.AddExtensionType(".svg", "image/svg+xml")
}

// apiPrefixes never fall back to the UI.
var apiPrefixes = []string{"/dapp/", "/ui/", "/pair/", "/healthz"}

// staticUI serves a built single-page confirmation UI from fsys. Unknown
// paths get index.html so client-side routes work.
func staticUI(fsys fs.FS) gin.HandlerFunc {
	fileServer := http.FileServer(http.FS(fsys))

	return func(c *gin.Context) {
		r := c.Request
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			c.JSON(http.StatusNotFound, gin.H{JSONKeyError: "not found"})
			return
		}

		p := path.Clean("/" + r.URL.Path)
		for _, prefix := range apiPrefixes {
			if strings.HasPrefix(p, prefix) {
				c.JSON(http.StatusNotFound, gin.H{JSONKeyError: "not found"})
				return
			}
		}

		name := strings.TrimPrefix(p, "/")
		if name == "" {
			name = "index.html"
		}

		if exists(fsys, name) {
			setCacheHeaders(c.Writer, name)
			fileServer.ServeHTTP(c.Writer, r)
			return
		}

		r2 := r.Clone(r.Context())
		r2.URL.Path = "/"
		setCacheHeaders(c.Writer, "index.html")
		fileServer.ServeHTTP(c.Writer, r2)
	}
}

func exists(fsys fs.FS, name string) bool {
	st, err := fs.Stat(fsys, name)
	return err == nil && !st.IsDir()
}

func setCacheHeaders(w http.ResponseWriter, name string) {
	switch strings.ToLower(filepath.Ext(name)) {
	// fingerprinted build assets
	case ".js", ".mjs", ".css", ".png", ".jpg", ".jpeg", ".webp", ".gif", ".svg", ".ico", ".woff", ".woff2", ".ttf", ".map":
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	default:
		w.Header().Set("Cache-Control", "no-cache")
	}
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
