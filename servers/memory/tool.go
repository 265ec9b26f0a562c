package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/MegaGrindStone/go-mcp-engine"
)

func (s *Server) tools() []mcp.ToolHandler {
	readOnly := &mcp.ToolAnnotations{ReadOnlyHint: true}
	return []mcp.ToolHandler{
		mcp.NewTool(mcp.Tool{
			Name:        "create_entities",
			Description: "Create multiple new entities in the knowledge graph. Existing names are skipped.",
			InputSchema: createEntitiesSchema,
		}, s.createEntities),
		mcp.NewTool(mcp.Tool{
			Name: "create_relations",
			Description: "Create multiple new relations between entities in the knowledge graph. " +
				"Relations should be in active voice.",
			InputSchema: relationsSchema,
		}, s.createRelations),
		mcp.NewTool(mcp.Tool{
			Name:        "add_observations",
			Description: "Add new observations to existing entities in the knowledge graph.",
			InputSchema: addObservationsSchema,
		}, s.addObservations),
		mcp.NewTool(mcp.Tool{
			Name:        "delete_entities",
			Description: "Delete multiple entities and their associated relations from the knowledge graph.",
			InputSchema: deleteEntitiesSchema,
			Annotations: &mcp.ToolAnnotations{DestructiveHint: true, IdempotentHint: true},
		}, s.deleteEntities),
		mcp.NewTool(mcp.Tool{
			Name:        "delete_observations",
			Description: "Delete specific observations from entities in the knowledge graph.",
			InputSchema: deleteObservationsSchema,
			Annotations: &mcp.ToolAnnotations{DestructiveHint: true, IdempotentHint: true},
		}, s.deleteObservations),
		mcp.NewTool(mcp.Tool{
			Name:        "delete_relations",
			Description: "Delete multiple relations from the knowledge graph.",
			InputSchema: relationsSchema,
			Annotations: &mcp.ToolAnnotations{DestructiveHint: true, IdempotentHint: true},
		}, s.deleteRelations),
		mcp.NewTool(mcp.Tool{
			Name:        "read_graph",
			Description: "Read the entire knowledge graph.",
			Annotations: readOnly,
		}, s.readGraph),
		mcp.NewTool(mcp.Tool{
			Name:        "search_nodes",
			Description: "Search for nodes in the knowledge graph based on a query.",
			InputSchema: searchNodesSchema,
			Annotations: readOnly,
		}, s.searchNodes),
		mcp.NewTool(mcp.Tool{
			Name:        "open_nodes",
			Description: "Open specific nodes in the knowledge graph by their names.",
			InputSchema: openNodesSchema,
			Annotations: readOnly,
		}, s.openNodes),
	}
}

func (s *Server) graphResource() mcp.ResourceHandler {
	return mcp.NewResource(mcp.Resource{
		URI:         GraphURI,
		Name:        "Knowledge graph",
		Description: "Every entity and relation of the knowledge graph",
		MimeType:    "application/json",
	}, func(ctx context.Context) ([]mcp.ResourceContents, error) {
		graph, err := s.graph.read(ctx)
		if err != nil {
			return nil, err
		}
		bs, err := json.Marshal(graph)
		if err != nil {
			return nil, fmt.Errorf("failed to encode graph: %w", err)
		}
		return []mcp.ResourceContents{{URI: GraphURI, MimeType: "application/json", Text: string(bs)}}, nil
	})
}

func (s *Server) createEntities(ctx context.Context, args map[string]any) (mcp.ToolOutput, error) {
	var params entitiesArgs
	if err := decodeArgs(args, &params); err != nil {
		return mcp.ToolOutput{}, fmt.Errorf("failed to decode arguments: %w", err)
	}
	created, err := s.graph.createEntities(ctx, params.Entities)
	if err != nil {
		return mcp.ToolOutput{}, err
	}
	s.logger.Debug("entities created", slog.Int("count", len(created)))
	return mcp.ToolResult(mcp.StructuredContent{Value: created}), nil
}

func (s *Server) createRelations(ctx context.Context, args map[string]any) (mcp.ToolOutput, error) {
	var params relationsArgs
	if err := decodeArgs(args, &params); err != nil {
		return mcp.ToolOutput{}, fmt.Errorf("failed to decode arguments: %w", err)
	}
	created, err := s.graph.createRelations(ctx, params.Relations)
	if err != nil {
		return mcp.ToolOutput{}, err
	}
	s.logger.Debug("relations created", slog.Int("count", len(created)))
	return mcp.ToolResult(mcp.StructuredContent{Value: created}), nil
}

func (s *Server) addObservations(ctx context.Context, args map[string]any) (mcp.ToolOutput, error) {
	var params addObservationsArgs
	if err := decodeArgs(args, &params); err != nil {
		return mcp.ToolOutput{}, fmt.Errorf("failed to decode arguments: %w", err)
	}
	added, err := s.graph.addObservations(ctx, params.Observations)
	if err != nil {
		return mcp.ToolOutput{}, err
	}
	return mcp.ToolResult(mcp.StructuredContent{Value: added}), nil
}

func (s *Server) deleteEntities(ctx context.Context, args map[string]any) (mcp.ToolOutput, error) {
	var params deleteEntitiesArgs
	if err := decodeArgs(args, &params); err != nil {
		return mcp.ToolOutput{}, fmt.Errorf("failed to decode arguments: %w", err)
	}
	if err := s.graph.deleteEntities(ctx, params.EntityNames); err != nil {
		return mcp.ToolOutput{}, err
	}
	return mcp.ToolResult(mcp.Text("Entities deleted successfully")), nil
}

func (s *Server) deleteObservations(ctx context.Context, args map[string]any) (mcp.ToolOutput, error) {
	var params deleteObservationsArgs
	if err := decodeArgs(args, &params); err != nil {
		return mcp.ToolOutput{}, fmt.Errorf("failed to decode arguments: %w", err)
	}
	if err := s.graph.deleteObservations(ctx, params.Deletions); err != nil {
		return mcp.ToolOutput{}, err
	}
	return mcp.ToolResult(mcp.Text("Observations deleted successfully")), nil
}

func (s *Server) deleteRelations(ctx context.Context, args map[string]any) (mcp.ToolOutput, error) {
	var params relationsArgs
	if err := decodeArgs(args, &params); err != nil {
		return mcp.ToolOutput{}, fmt.Errorf("failed to decode arguments: %w", err)
	}
	if err := s.graph.deleteRelations(ctx, params.Relations); err != nil {
		return mcp.ToolOutput{}, err
	}
	return mcp.ToolResult(mcp.Text("Relations deleted successfully")), nil
}

func (s *Server) readGraph(ctx context.Context, _ map[string]any) (mcp.ToolOutput, error) {
	graph, err := s.graph.read(ctx)
	if err != nil {
		return mcp.ToolOutput{}, err
	}
	return mcp.ToolResult(mcp.StructuredContent{Value: graph}), nil
}

func (s *Server) searchNodes(ctx context.Context, args map[string]any) (mcp.ToolOutput, error) {
	var params searchNodesArgs
	if err := decodeArgs(args, &params); err != nil {
		return mcp.ToolOutput{}, fmt.Errorf("failed to decode arguments: %w", err)
	}
	graph, err := s.graph.search(ctx, params.Query)
	if err != nil {
		return mcp.ToolOutput{}, err
	}
	return mcp.ToolResult(mcp.StructuredContent{Value: graph}), nil
}

func (s *Server) openNodes(ctx context.Context, args map[string]any) (mcp.ToolOutput, error) {
	var params openNodesArgs
	if err := decodeArgs(args, &params); err != nil {
		return mcp.ToolOutput{}, fmt.Errorf("failed to decode arguments: %w", err)
	}
	graph, err := s.graph.open(ctx, params.Names)
	if err != nil {
		return mcp.ToolOutput{}, err
	}
	return mcp.ToolResult(mcp.StructuredContent{Value: graph}), nil
}
