package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/MegaGrindStone/go-mcp-engine"
)

// Entity is a named node of the knowledge graph.
type Entity struct {
	Name         string   `json:"name"`
	EntityType   string   `json:"entityType"`
	Observations []string `json:"observations"`
}

// Relation is a directed, typed edge between two entities.
type Relation struct {
	From         string `json:"from"`
	To           string `json:"to"`
	RelationType string `json:"relationType"`
}

// Observation names the facts to add to, or remove from, an entity.
type Observation struct {
	EntityName   string   `json:"entityName"`
	Contents     []string `json:"contents,omitempty"`
	Observations []string `json:"observations,omitempty"`
}

// Graph is a snapshot of the knowledge graph.
type Graph struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
}

// graphStore keeps the graph as one JSON document in a mcp.SessionStore. The mutex serializes
// read-modify-write cycles of this process, writers in other processes sharing the store race.
type graphStore struct {
	mu        sync.Mutex
	store     mcp.SessionStore
	namespace string
}

const graphKey = "graph"

func (g *graphStore) load(ctx context.Context) (Graph, error) {
	data, ok, err := g.store.Get(ctx, g.namespace, graphKey)
	if err != nil {
		return Graph{}, fmt.Errorf("failed to load graph: %w", err)
	}
	graph := Graph{Entities: []Entity{}, Relations: []Relation{}}
	if !ok {
		return graph, nil
	}
	if err := json.Unmarshal(data, &graph); err != nil {
		return Graph{}, fmt.Errorf("failed to decode graph: %w", err)
	}
	return graph, nil
}

func (g *graphStore) save(ctx context.Context, graph Graph) error {
	data, err := json.Marshal(graph)
	if err != nil {
		return fmt.Errorf("failed to encode graph: %w", err)
	}
	if err := g.store.Set(ctx, g.namespace, graphKey, data, 0); err != nil {
		return fmt.Errorf("failed to save graph: %w", err)
	}
	return nil
}

// update runs fn against the current graph and saves the result unless fn fails.
func (g *graphStore) update(ctx context.Context, fn func(*Graph) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	graph, err := g.load(ctx)
	if err != nil {
		return err
	}
	if err := fn(&graph); err != nil {
		return err
	}
	return g.save(ctx, graph)
}

func (g *graphStore) read(ctx context.Context) (Graph, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.load(ctx)
}

func (g *graphStore) createEntities(ctx context.Context, entities []Entity) ([]Entity, error) {
	created := []Entity{}
	err := g.update(ctx, func(graph *Graph) error {
		for _, e := range entities {
			if graph.entityIndex(e.Name) >= 0 {
				continue
			}
			if e.Observations == nil {
				e.Observations = []string{}
			}
			graph.Entities = append(graph.Entities, e)
			created = append(created, e)
		}
		return nil
	})
	return created, err
}

func (g *graphStore) createRelations(ctx context.Context, relations []Relation) ([]Relation, error) {
	created := []Relation{}
	err := g.update(ctx, func(graph *Graph) error {
		for _, r := range relations {
			if slices.Contains(graph.Relations, r) {
				continue
			}
			graph.Relations = append(graph.Relations, r)
			created = append(created, r)
		}
		return nil
	})
	return created, err
}

func (g *graphStore) addObservations(ctx context.Context, observations []Observation) ([]Observation, error) {
	added := []Observation{}
	err := g.update(ctx, func(graph *Graph) error {
		for _, obs := range observations {
			i := graph.entityIndex(obs.EntityName)
			if i < 0 {
				return fmt.Errorf("entity with name %s not found", obs.EntityName)
			}
			result := Observation{EntityName: obs.EntityName, Contents: []string{}}
			for _, content := range obs.Contents {
				if slices.Contains(graph.Entities[i].Observations, content) {
					continue
				}
				graph.Entities[i].Observations = append(graph.Entities[i].Observations, content)
				result.Contents = append(result.Contents, content)
			}
			added = append(added, result)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// deleteEntities removes the entities and every relation touching them.
func (g *graphStore) deleteEntities(ctx context.Context, names []string) error {
	return g.update(ctx, func(graph *Graph) error {
		graph.Entities = slices.DeleteFunc(graph.Entities, func(e Entity) bool {
			return slices.Contains(names, e.Name)
		})
		graph.Relations = slices.DeleteFunc(graph.Relations, func(r Relation) bool {
			return slices.Contains(names, r.From) || slices.Contains(names, r.To)
		})
		return nil
	})
}

func (g *graphStore) deleteObservations(ctx context.Context, deletions []Observation) error {
	return g.update(ctx, func(graph *Graph) error {
		for _, d := range deletions {
			i := graph.entityIndex(d.EntityName)
			if i < 0 {
				continue
			}
			graph.Entities[i].Observations = slices.DeleteFunc(graph.Entities[i].Observations, func(o string) bool {
				return slices.Contains(d.Observations, o)
			})
		}
		return nil
	})
}

func (g *graphStore) deleteRelations(ctx context.Context, relations []Relation) error {
	return g.update(ctx, func(graph *Graph) error {
		graph.Relations = slices.DeleteFunc(graph.Relations, func(r Relation) bool {
			return slices.Contains(relations, r)
		})
		return nil
	})
}

// search keeps the entities whose name, type or any observation contains query, case-insensitively.
func (g *graphStore) search(ctx context.Context, query string) (Graph, error) {
	graph, err := g.read(ctx)
	if err != nil {
		return Graph{}, err
	}
	query = strings.ToLower(query)
	contains := func(s string) bool { return strings.Contains(strings.ToLower(s), query) }

	return graph.subgraph(func(e Entity) bool {
		return contains(e.Name) || contains(e.EntityType) || slices.ContainsFunc(e.Observations, contains)
	}), nil
}

func (g *graphStore) open(ctx context.Context, names []string) (Graph, error) {
	graph, err := g.read(ctx)
	if err != nil {
		return Graph{}, err
	}
	return graph.subgraph(func(e Entity) bool { return slices.Contains(names, e.Name) }), nil
}

func (g Graph) entityIndex(name string) int {
	return slices.IndexFunc(g.Entities, func(e Entity) bool { return e.Name == name })
}

// subgraph keeps the entities matching keep and the relations between two kept entities.
func (g Graph) subgraph(keep func(Entity) bool) Graph {
	out := Graph{Entities: []Entity{}, Relations: []Relation{}}
	kept := make(map[string]bool)
	for _, e := range g.Entities {
		if keep(e) {
			out.Entities = append(out.Entities, e)
			kept[e.Name] = true
		}
	}
	for _, r := range g.Relations {
		if kept[r.From] && kept[r.To] {
			out.Relations = append(out.Relations, r)
		}
	}
	return out
}
