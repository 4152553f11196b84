// Package web serves the embedded landing page.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
)

//go:embed static
var content embed.FS

// Static returns the embedded static tree rooted at static/.
func Static() fs.FS {
	sub, err := fs.Sub(content, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

// Fallback serves files from fsys for unmatched GET/HEAD requests and the
// landing page for any path that is not a file.
func Fallback(fsys fs.FS) gin.HandlerFunc {
	files := http.FileServer(http.FS(fsys))
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		name := strings.TrimPrefix(path.Clean(c.Request.URL.Path), "/")
		if name == "" {
			name = "index.html"
		}
		if st, err := fs.Stat(fsys, name); err != nil || st.IsDir() {
			c.FileFromFS("/", http.FS(fsys))
			return
		}
		files.ServeHTTP(c.Writer, c.Request)
	}
}
