package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/qri-io/jsonschema"

	"github.com/MegaGrindStone/go-mcp-engine/uritemplate"
)

// ToolHandler is a tool the engine can list and call. Tool returns the descriptor sent by
// tools/list, Call runs the tool with already validated arguments.
//
// A Call error, or an error yielded by a streamed output, is reported to the client as a result
// with isError set, unless it is an *Error, which becomes a protocol error.
type ToolHandler interface {
	Tool() Tool
	Call(ctx context.Context, args map[string]any) (ToolOutput, error)
}

// PromptHandler is a prompt the engine can list and render. Required arguments are checked
// before Get is called.
type PromptHandler interface {
	Prompt() Prompt
	Get(ctx context.Context, args map[string]string) (GetPromptResult, error)
}

// ResourceHandler is a concrete resource with a fixed uri.
type ResourceHandler interface {
	Resource() Resource
	Read(ctx context.Context) ([]ResourceContents, error)
}

// ResourceTemplateHandler serves every uri matching its template. Read receives the uri and the
// variables extracted from it.
type ResourceTemplateHandler interface {
	ResourceTemplate() ResourceTemplate
	Read(ctx context.Context, uri string, vars uritemplate.Values) ([]ResourceContents, error)
}

// Completer may be implemented by a PromptHandler or a ResourceTemplateHandler to offer values for
// completion/complete.
type Completer interface {
	Complete(ctx context.Context, arg CompletionArgument) ([]string, error)
}

// ToolOutput is what a tool call produced: either a fixed list of items, or a lazy sequence of
// items that is consumed while frames are being sent.
type ToolOutput struct {
	items []ContentItem
	seq   iter.Seq2[ContentItem, error]
}

// Registry holds the catalog served by an engine, in registration order. Names of tools and
// prompts, uris of resources and uri templates must be unique.
type Registry struct {
	tools     []registeredTool
	toolIndex map[string]int

	prompts     []PromptHandler
	promptIndex map[string]int

	resources     []ResourceHandler
	resourceIndex map[string]int

	templates     []registeredTemplate
	templateIndex map[string]int
}

type registeredTool struct {
	handler ToolHandler
	tool    Tool
	schema  *jsonschema.Schema
}

type registeredTemplate struct {
	handler  ResourceTemplateHandler
	template ResourceTemplate
	matcher  *uritemplate.Template
}

type toolFunc struct {
	tool Tool
	call func(ctx context.Context, args map[string]any) (ToolOutput, error)
}

type promptFunc struct {
	prompt Prompt
	get    func(ctx context.Context, args map[string]string) (GetPromptResult, error)
}

type resourceFunc struct {
	resource Resource
	read     func(ctx context.Context) ([]ResourceContents, error)
}

type resourceTemplateFunc struct {
	template ResourceTemplate
	read     func(ctx context.Context, uri string, vars uritemplate.Values) ([]ResourceContents, error)
}

var defaultInputSchema = json.RawMessage(`{"type":"object"}`)

// ToolResult returns an output made of the given items.
func ToolResult(items ...ContentItem) ToolOutput {
	return ToolOutput{items: items}
}

// ToolStream returns an output whose items are produced lazily. Iteration stops at the first
// error.
func ToolStream(seq iter.Seq2[ContentItem, error]) ToolOutput {
	return ToolOutput{seq: seq}
}

// IsStream reports whether the output is lazy.
func (o ToolOutput) IsStream() bool {
	return o.seq != nil
}

// All iterates over the output items.
func (o ToolOutput) All() iter.Seq2[ContentItem, error] {
	if o.seq != nil {
		return o.seq
	}
	return func(yield func(ContentItem, error) bool) {
		for _, item := range o.items {
			if !yield(item, nil) {
				return
			}
		}
	}
}

// NewTool returns a ToolHandler calling fn.
func NewTool(tool Tool, fn func(ctx context.Context, args map[string]any) (ToolOutput, error)) ToolHandler {
	return toolFunc{tool: tool, call: fn}
}

// NewPrompt returns a PromptHandler rendering with fn.
func NewPrompt(prompt Prompt, fn func(ctx context.Context, args map[string]string) (GetPromptResult, error)) PromptHandler {
	return promptFunc{prompt: prompt, get: fn}
}

// NewResource returns a ResourceHandler reading with fn.
func NewResource(resource Resource, fn func(ctx context.Context) ([]ResourceContents, error)) ResourceHandler {
	return resourceFunc{resource: resource, read: fn}
}

// NewResourceTemplate returns a ResourceTemplateHandler reading with fn.
func NewResourceTemplate(
	template ResourceTemplate,
	fn func(ctx context.Context, uri string, vars uritemplate.Values) ([]ResourceContents, error),
) ResourceTemplateHandler {
	return resourceTemplateFunc{template: template, read: fn}
}

func (t toolFunc) Tool() Tool { return t.tool }

func (t toolFunc) Call(ctx context.Context, args map[string]any) (ToolOutput, error) {
	return t.call(ctx, args)
}

func (p promptFunc) Prompt() Prompt { return p.prompt }

func (p promptFunc) Get(ctx context.Context, args map[string]string) (GetPromptResult, error) {
	return p.get(ctx, args)
}

func (r resourceFunc) Resource() Resource { return r.resource }

func (r resourceFunc) Read(ctx context.Context) ([]ResourceContents, error) {
	return r.read(ctx)
}

func (r resourceTemplateFunc) ResourceTemplate() ResourceTemplate { return r.template }

func (r resourceTemplateFunc) Read(ctx context.Context, uri string, vars uritemplate.Values) ([]ResourceContents, error) {
	return r.read(ctx, uri, vars)
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		toolIndex:     make(map[string]int),
		promptIndex:   make(map[string]int),
		resourceIndex: make(map[string]int),
		templateIndex: make(map[string]int),
	}
}

// AddTool registers a tool and compiles its input schema.
func (r *Registry) AddTool(h ToolHandler) error {
	tool := h.Tool()
	if tool.Name == "" {
		return errors.New("tool name must not be empty")
	}
	if _, ok := r.toolIndex[tool.Name]; ok {
		return fmt.Errorf("tool %q already registered", tool.Name)
	}
	if len(tool.InputSchema) == 0 {
		tool.InputSchema = defaultInputSchema
	}

	schema := &jsonschema.Schema{}
	if err := json.Unmarshal(tool.InputSchema, schema); err != nil {
		return fmt.Errorf("invalid input schema of tool %q: %w", tool.Name, err)
	}

	r.toolIndex[tool.Name] = len(r.tools)
	r.tools = append(r.tools, registeredTool{handler: h, tool: tool, schema: schema})
	return nil
}

// AddPrompt registers a prompt.
func (r *Registry) AddPrompt(h PromptHandler) error {
	name := h.Prompt().Name
	if name == "" {
		return errors.New("prompt name must not be empty")
	}
	if _, ok := r.promptIndex[name]; ok {
		return fmt.Errorf("prompt %q already registered", name)
	}
	r.promptIndex[name] = len(r.prompts)
	r.prompts = append(r.prompts, h)
	return nil
}

// AddResource registers a concrete resource.
func (r *Registry) AddResource(h ResourceHandler) error {
	uri := h.Resource().URI
	if uri == "" {
		return errors.New("resource uri must not be empty")
	}
	if _, ok := r.resourceIndex[uri]; ok {
		return fmt.Errorf("resource %q already registered", uri)
	}
	r.resourceIndex[uri] = len(r.resources)
	r.resources = append(r.resources, h)
	return nil
}

// AddResourceTemplate registers a resource template and compiles its uri template.
func (r *Registry) AddResourceTemplate(h ResourceTemplateHandler) error {
	tmpl := h.ResourceTemplate()
	if _, ok := r.templateIndex[tmpl.URITemplate]; ok {
		return fmt.Errorf("resource template %q already registered", tmpl.URITemplate)
	}
	matcher, err := uritemplate.New(tmpl.URITemplate)
	if err != nil {
		return err
	}
	r.templateIndex[tmpl.URITemplate] = len(r.templates)
	r.templates = append(r.templates, registeredTemplate{handler: h, template: tmpl, matcher: matcher})
	return nil
}

// Tools returns the descriptors of every registered tool.
func (r *Registry) Tools() []Tool {
	tools := make([]Tool, len(r.tools))
	for i, t := range r.tools {
		tools[i] = t.tool
	}
	return tools
}

// Prompts returns the descriptors of every registered prompt.
func (r *Registry) Prompts() []Prompt {
	prompts := make([]Prompt, len(r.prompts))
	for i, p := range r.prompts {
		prompts[i] = p.Prompt()
	}
	return prompts
}

// Resources returns the descriptors of every registered resource.
func (r *Registry) Resources() []Resource {
	resources := make([]Resource, len(r.resources))
	for i, res := range r.resources {
		resources[i] = res.Resource()
	}
	return resources
}

// ResourceTemplates returns the descriptors of every registered resource template.
func (r *Registry) ResourceTemplates() []ResourceTemplate {
	templates := make([]ResourceTemplate, len(r.templates))
	for i, t := range r.templates {
		templates[i] = t.template
	}
	return templates
}

func (r *Registry) tool(name string) (registeredTool, bool) {
	i, ok := r.toolIndex[name]
	if !ok {
		return registeredTool{}, false
	}
	return r.tools[i], true
}

func (r *Registry) prompt(name string) (PromptHandler, bool) {
	i, ok := r.promptIndex[name]
	if !ok {
		return nil, false
	}
	return r.prompts[i], true
}

func (r *Registry) resource(uri string) (ResourceHandler, bool) {
	i, ok := r.resourceIndex[uri]
	if !ok {
		return nil, false
	}
	return r.resources[i], true
}

func (r *Registry) template(uriTemplate string) (registeredTemplate, bool) {
	i, ok := r.templateIndex[uriTemplate]
	if !ok {
		return registeredTemplate{}, false
	}
	return r.templates[i], true
}

// matchTemplate returns the first template, in registration order, matching uri.
func (r *Registry) matchTemplate(uri string) (registeredTemplate, uritemplate.Values, bool) {
	for _, t := range r.templates {
		if vars, ok := t.matcher.Match(uri); ok {
			return t, vars, true
		}
	}
	return registeredTemplate{}, nil, false
}

// validate checks args against the compiled input schema and returns the joined messages of every
// violation.
func (t registeredTool) validate(ctx context.Context, args map[string]any) error {
	vs := t.schema.Validate(ctx, args)
	if vs.Errs == nil || len(*vs.Errs) == 0 {
		return nil
	}
	var errStr []string
	for _, err := range *vs.Errs {
		if err.PropertyPath != "" && err.PropertyPath != "/" {
			errStr = append(errStr, fmt.Sprintf("%s: %s", err.PropertyPath, err.Message))
			continue
		}
		errStr = append(errStr, err.Message)
	}
	return fmt.Errorf("params validation failed: %s", strings.Join(errStr, ", "))
}
