package everything

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/MegaGrindStone/go-mcp-engine"
	"github.com/MegaGrindStone/go-mcp-engine/uritemplate"
)

const (
	resourceCount       = 100
	resourceURIPrefix   = "test://static/resource/"
	resourceURITemplate = resourceURIPrefix + "{id}"
)

// templateResource serves test://static/resource/{id} for every id of the static set.
type templateResource struct {
	mcp.ResourceTemplateHandler
	ids []string
}

func (s *Server) resources() []mcp.ResourceHandler {
	handlers := make([]mcp.ResourceHandler, 0, resourceCount)
	for id := 1; id <= resourceCount; id++ {
		res := staticResource(id)
		handlers = append(handlers, mcp.NewResource(res, func(context.Context) ([]mcp.ResourceContents, error) {
			return []mcp.ResourceContents{staticContents(id)}, nil
		}))
	}
	return handlers
}

func (s *Server) resourceTemplate() mcp.ResourceTemplateHandler {
	ids := make([]string, 0, resourceCount)
	for id := 1; id <= resourceCount; id++ {
		ids = append(ids, strconv.Itoa(id))
	}

	handler := mcp.NewResourceTemplate(mcp.ResourceTemplate{
		URITemplate: resourceURITemplate,
		Name:        "Static Resource",
		Description: "A static resource with a numeric ID",
	}, func(_ context.Context, uri string, vars uritemplate.Values) ([]mcp.ResourceContents, error) {
		raw, _ := vars["id"].(string)
		id, err := strconv.Atoi(raw)
		if err != nil || id < 1 || id > resourceCount {
			return nil, mcp.NewError(mcp.CodeResourceNotFound, "Resource not found").
				WithData(map[string]any{"uri": uri})
		}
		return []mcp.ResourceContents{staticContents(id)}, nil
	})
	return templateResource{ResourceTemplateHandler: handler, ids: ids}
}

func (t templateResource) Complete(_ context.Context, arg mcp.CompletionArgument) ([]string, error) {
	if arg.Name != "id" {
		return nil, nil
	}
	return completeValues(t.ids, arg.Value), nil
}

// Odd ids are plain text, even ids are binary.
func staticResource(id int) mcp.Resource {
	res := mcp.Resource{
		URI:  fmt.Sprintf("%s%d", resourceURIPrefix, id),
		Name: fmt.Sprintf("Resource %d", id),
	}
	if id%2 == 1 {
		res.MimeType = "text/plain"
	} else {
		res.MimeType = "application/octet-stream"
	}
	return res
}

func staticContents(id int) mcp.ResourceContents {
	res := staticResource(id)
	contents := mcp.ResourceContents{URI: res.URI, MimeType: res.MimeType}
	if id%2 == 1 {
		contents.Text = fmt.Sprintf("Resource %d: This is a plain text resource", id)
	} else {
		contents.Blob = base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("Resource %d: This is a base64 blob", id)))
	}
	return contents
}
