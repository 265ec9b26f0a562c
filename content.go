package mcp

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// ContentItem is one element produced by a tool call. The set is closed: TextContent,
// ImageContent, BlobContent, LinkContent, StructuredContent and the notification variants
// ProgressNotification and LogNotification. Notification items are relayed to the client ahead of
// the tool result instead of being part of it.
type ContentItem interface {
	contentItem()
}

// TextContent is a plain text block.
type TextContent struct {
	Text        string
	Annotations *Annotations
}

// ImageContent is an image block, Data holds the raw bytes.
type ImageContent struct {
	Data        []byte
	MimeType    string
	Annotations *Annotations
}

// BlobContent embeds a binary resource in the result.
type BlobContent struct {
	URI      string
	MimeType string
	Blob     []byte
}

// LinkContent points to a resource the client may read later with resources/read.
type LinkContent struct {
	URI         string
	Name        string
	Description string
	MimeType    string
}

// StructuredContent carries a machine readable value. It is sent both as structuredContent and, for
// older clients, as a text block holding its JSON.
type StructuredContent struct {
	Value any
}

// ProgressNotification reports progress of the running call. It is dropped when the request did not
// carry a progress token.
type ProgressNotification struct {
	Progress float64
	Total    float64
	Message  string
}

// LogNotification is a log message for the client. It is dropped when its level is below the level
// the session asked for.
type LogNotification struct {
	Level  LogLevel
	Logger string
	Data   any
}

func (TextContent) contentItem()          {}
func (ImageContent) contentItem()         {}
func (BlobContent) contentItem()          {}
func (LinkContent) contentItem()          {}
func (StructuredContent) contentItem()    {}
func (ProgressNotification) contentItem() {}
func (LogNotification) contentItem()      {}

// Text is a shorthand for a TextContent item holding s verbatim.
func Text(s string) TextContent {
	return TextContent{Text: s}
}

// Textf is a shorthand for a TextContent item formatted with fmt.Sprintf.
func Textf(format string, args ...any) TextContent {
	return TextContent{Text: fmt.Sprintf(format, args...)}
}

func isNotificationItem(item ContentItem) bool {
	switch item.(type) {
	case ProgressNotification, LogNotification:
		return true
	default:
		return false
	}
}

// appendResult folds a non notification item into the tool result.
func appendResult(result *CallToolResult, item ContentItem) error {
	switch it := item.(type) {
	case TextContent:
		result.Content = append(result.Content, Content{
			Type:        ContentTypeText,
			Text:        it.Text,
			Annotations: it.Annotations,
		})
	case ImageContent:
		result.Content = append(result.Content, Content{
			Type:        ContentTypeImage,
			Data:        base64.StdEncoding.EncodeToString(it.Data),
			MimeType:    it.MimeType,
			Annotations: it.Annotations,
		})
	case BlobContent:
		result.Content = append(result.Content, Content{
			Type: ContentTypeResource,
			Resource: &ResourceContents{
				URI:      it.URI,
				MimeType: it.MimeType,
				Blob:     base64.StdEncoding.EncodeToString(it.Blob),
			},
		})
	case LinkContent:
		result.Content = append(result.Content, Content{
			Type:        ContentTypeResourceLink,
			URI:         it.URI,
			Name:        it.Name,
			Description: it.Description,
			MimeType:    it.MimeType,
		})
	case StructuredContent:
		bs, err := json.Marshal(it.Value)
		if err != nil {
			return fmt.Errorf("failed to marshal structured content: %w", err)
		}
		result.StructuredContent = it.Value
		result.Content = append(result.Content, Content{
			Type: ContentTypeText,
			Text: string(bs),
		})
	default:
		return fmt.Errorf("unsupported content item %T", item)
	}
	return nil
}

func errorResult(err error) CallToolResult {
	return CallToolResult{
		Content: []Content{
			{
				Type: ContentTypeText,
				Text: err.Error(),
			},
		},
		IsError: true,
	}
}
