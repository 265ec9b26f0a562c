package everything

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/MegaGrindStone/go-mcp-engine"
)

const (
	defaultDuration = 10
	defaultSteps    = 5
)

var weatherConditions = []string{"sunny", "cloudy", "rainy", "windy", "snowy"}

// tinyImage is a 2x2 PNG returned by getTinyImage.
var tinyImage = mustTinyImage()

func (s *Server) tools() []mcp.ToolHandler {
	return []mcp.ToolHandler{
		mcp.NewTool(mcp.Tool{
			Name:        "echo",
			Description: "Echoes back the input",
			InputSchema: echoSchema,
		}, s.echo),
		mcp.NewTool(mcp.Tool{
			Name:        "add",
			Description: "Adds two numbers",
			InputSchema: addSchema,
			Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true, IdempotentHint: true},
		}, s.add),
		mcp.NewTool(mcp.Tool{
			Name:        "longRunningOperation",
			Description: "Demonstrates a long running operation with progress updates",
			InputSchema: longRunningOperationSchema,
		}, s.longRunningOperation),
		mcp.NewTool(mcp.Tool{
			Name:        "printEnv",
			Description: "Prints all environment variables, helpful for debugging MCP server configuration",
			Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
		}, s.printEnv),
		mcp.NewTool(mcp.Tool{
			Name:        "getTinyImage",
			Description: "Returns a tiny PNG image",
		}, s.getTinyImage),
		mcp.NewTool(mcp.Tool{
			Name:        "emitLogs",
			Description: "Emits one log message per severity level",
		}, s.emitLogs),
		mcp.NewTool(mcp.Tool{
			Name:        "structuredWeather",
			Description: "Returns a made up weather report as structured content",
			InputSchema: weatherSchema,
			Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true, IdempotentHint: true},
		}, s.structuredWeather),
	}
}

func (s *Server) echo(_ context.Context, args map[string]any) (mcp.ToolOutput, error) {
	var params EchoArgs
	if err := decodeArgs(args, &params); err != nil {
		return mcp.ToolOutput{}, fmt.Errorf("failed to decode arguments: %w", err)
	}
	return mcp.ToolResult(mcp.Textf("Echo: %s", params.Message)), nil
}

func (s *Server) add(_ context.Context, args map[string]any) (mcp.ToolOutput, error) {
	var params AddArgs
	if err := decodeArgs(args, &params); err != nil {
		return mcp.ToolOutput{}, fmt.Errorf("failed to decode arguments: %w", err)
	}
	return mcp.ToolResult(mcp.Textf("The sum of %v and %v is %v", params.A, params.B, params.A+params.B)), nil
}

func (s *Server) longRunningOperation(ctx context.Context, args map[string]any) (mcp.ToolOutput, error) {
	params := LongRunningOperationArgs{Duration: defaultDuration, Steps: defaultSteps}
	if err := decodeArgs(args, &params); err != nil {
		return mcp.ToolOutput{}, fmt.Errorf("failed to decode arguments: %w", err)
	}
	steps := int(params.Steps)
	if steps < 1 {
		steps = 1
	}
	stepDuration := time.Duration(params.Duration / float64(steps) * float64(s.second))

	return mcp.ToolStream(func(yield func(mcp.ContentItem, error) bool) {
		for i := range steps {
			select {
			case <-time.After(stepDuration):
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			}
			progress := mcp.ProgressNotification{
				Progress: float64(i + 1),
				Total:    float64(steps),
				Message:  fmt.Sprintf("step %d of %d", i+1, steps),
			}
			if !yield(progress, nil) {
				return
			}
		}
		yield(mcp.Textf("Long running operation completed. Duration: %v seconds, Steps: %d", params.Duration, steps), nil)
	}), nil
}

func (s *Server) printEnv(_ context.Context, _ map[string]any) (mcp.ToolOutput, error) {
	env := slices.Clone(s.environ())
	slices.Sort(env)
	return mcp.ToolResult(mcp.Textf("Environment variables:\n%s", strings.Join(env, "\n"))), nil
}

func (s *Server) getTinyImage(_ context.Context, _ map[string]any) (mcp.ToolOutput, error) {
	return mcp.ToolResult(
		mcp.Text("This is a tiny image:"),
		mcp.ImageContent{Data: tinyImage, MimeType: "image/png"},
		mcp.Text("The image above is a tiny PNG."),
	), nil
}

func (s *Server) emitLogs(_ context.Context, _ map[string]any) (mcp.ToolOutput, error) {
	levels := []mcp.LogLevel{
		mcp.LogLevelDebug,
		mcp.LogLevelInfo,
		mcp.LogLevelNotice,
		mcp.LogLevelWarning,
		mcp.LogLevelError,
		mcp.LogLevelCritical,
		mcp.LogLevelAlert,
		mcp.LogLevelEmergency,
	}
	items := make([]mcp.ContentItem, 0, len(levels)+1)
	for _, level := range levels {
		items = append(items, mcp.LogNotification{
			Level:  level,
			Logger: "everything",
			Data:   map[string]any{"message": fmt.Sprintf("a %s message", level)},
		})
	}
	items = append(items, mcp.Textf("Emitted %d log messages", len(levels)))
	return mcp.ToolResult(items...), nil
}

func (s *Server) structuredWeather(_ context.Context, args map[string]any) (mcp.ToolOutput, error) {
	var params WeatherArgs
	if err := decodeArgs(args, &params); err != nil {
		return mcp.ToolOutput{}, fmt.Errorf("failed to decode arguments: %w", err)
	}

	// Same location, same report.
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(params.Location)))
	sum := h.Sum32()

	report := Weather{
		Location:    params.Location,
		Temperature: float64(sum%400)/10 - 5,
		Conditions:  weatherConditions[sum%uint32(len(weatherConditions))],
		Humidity:    int(sum % 101),
	}
	s.logger.Debug("weather report generated", slog.String("location", params.Location))
	return mcp.ToolResult(mcp.StructuredContent{Value: report}), nil
}

func mustTinyImage() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	img.Set(1, 0, color.RGBA{G: 255, A: 255})
	img.Set(0, 1, color.RGBA{B: 255, A: 255})
	img.Set(1, 1, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(fmt.Sprintf("failed to encode tiny image: %v", err))
	}
	return buf.Bytes()
}
