package routes

import (
	_ "embed"

	"github.com/gin-contrib/multitemplate"
	"github.com/gin-gonic/gin"

	"site-decisions/internal/utils"
)

const errorTemplate = "error.html.tmpl"

//go:embed templates/error.html.tmpl
var errorPage string

// NewRenderer returns the HTML renderer for the few pages the API serves
// to browsers.
func NewRenderer() multitemplate.Renderer {
	r := multitemplate.NewRenderer()
	r.AddFromString(errorTemplate, errorPage)
	return r
}

// Merge into existing gin.H
func H(c *gin.Context, data gin.H) gin.H {
	if data == nil {
		data = gin.H{}
	}
	data["BaseURL"] = c.GetString("BaseURL")
	data["AppVersion"] = utils.GetVersion()
	return data
}

// Returns a HTML response with merged data
func HTML(c *gin.Context, code int, name string, data gin.H) {
	c.HTML(code, name, H(c, data))
}
