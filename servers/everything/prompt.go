package everything

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/MegaGrindStone/go-mcp-engine"
)

var promptCompletions = map[string][]string{
	"temperature": {"0", "0.5", "0.7", "1.0"},
	"style":       {"casual", "formal", "technical", "friendly"},
}

// completablePrompt offers prefix completions for the arguments of a prompt.
type completablePrompt struct {
	mcp.PromptHandler
	values map[string][]string
}

func (s *Server) prompts() []mcp.PromptHandler {
	simple := mcp.NewPrompt(mcp.Prompt{
		Name:        "simple_prompt",
		Description: "A prompt without arguments",
	}, s.simplePrompt)

	complexPrompt := mcp.NewPrompt(mcp.Prompt{
		Name:        "complex_prompt",
		Description: "A prompt with arguments",
		Arguments: []mcp.PromptArgument{
			{Name: "temperature", Description: "Temperature setting", Required: true},
			{Name: "style", Description: "Output style"},
		},
	}, s.complexPrompt)

	return []mcp.PromptHandler{
		simple,
		completablePrompt{PromptHandler: complexPrompt, values: promptCompletions},
	}
}

func (s *Server) simplePrompt(context.Context, map[string]string) (mcp.GetPromptResult, error) {
	return mcp.GetPromptResult{
		Description: "A simple prompt",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.Content{
					Type: mcp.ContentTypeText,
					Text: "This is a simple prompt without arguments.",
				},
			},
		},
	}, nil
}

func (s *Server) complexPrompt(_ context.Context, args map[string]string) (mcp.GetPromptResult, error) {
	style := args["style"]
	if style == "" {
		style = "casual"
	}
	return mcp.GetPromptResult{
		Description: "A complex prompt",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.Content{
					Type: mcp.ContentTypeText,
					Text: fmt.Sprintf("This is a complex prompt with arguments: temperature=%s, style=%s",
						args["temperature"], style),
				},
			},
			{
				Role: mcp.RoleAssistant,
				Content: mcp.Content{
					Type: mcp.ContentTypeText,
					Text: "I understand. You've provided a complex prompt with temperature and style arguments. " +
						"How would you like me to proceed?",
				},
			},
			{
				Role: mcp.RoleUser,
				Content: mcp.Content{
					Type:     mcp.ContentTypeImage,
					Data:     base64.StdEncoding.EncodeToString(tinyImage),
					MimeType: "image/png",
				},
			},
		},
	}, nil
}

func (p completablePrompt) Complete(_ context.Context, arg mcp.CompletionArgument) ([]string, error) {
	return completeValues(p.values[arg.Name], arg.Value), nil
}

func completeValues(candidates []string, prefix string) []string {
	values := []string{}
	for _, c := range candidates {
		if strings.HasPrefix(c, prefix) {
			values = append(values, c)
		}
	}
	return values
}
