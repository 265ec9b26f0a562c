package memory

import "encoding/json"

type entitiesArgs struct {
	Entities []Entity `json:"entities"`
}

type relationsArgs struct {
	Relations []Relation `json:"relations"`
}

type addObservationsArgs struct {
	Observations []Observation `json:"observations"`
}

type deleteEntitiesArgs struct {
	EntityNames []string `json:"entityNames"`
}

type deleteObservationsArgs struct {
	Deletions []Observation `json:"deletions"`
}

type searchNodesArgs struct {
	Query string `json:"query"`
}

type openNodesArgs struct {
	Names []string `json:"names"`
}

const relationItem = `{
  "type": "object",
  "properties": {
    "from": { "type": "string", "description": "Entity the relation starts at" },
    "to": { "type": "string", "description": "Entity the relation ends at" },
    "relationType": { "type": "string", "description": "Relation type, in active voice" }
  },
  "required": ["from", "to", "relationType"]
}`

var createEntitiesSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "entities": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": { "type": "string", "minLength": 1 },
          "entityType": { "type": "string" },
          "observations": { "type": "array", "items": { "type": "string" } }
        },
        "required": ["name", "entityType"]
      }
    }
  },
  "required": ["entities"]
}`)

var relationsSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "relations": { "type": "array", "items": ` + relationItem + ` }
  },
  "required": ["relations"]
}`)

var addObservationsSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "observations": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "entityName": { "type": "string" },
          "contents": { "type": "array", "items": { "type": "string" } }
        },
        "required": ["entityName", "contents"]
      }
    }
  },
  "required": ["observations"]
}`)

var deleteEntitiesSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "entityNames": { "type": "array", "items": { "type": "string" } }
  },
  "required": ["entityNames"]
}`)

var deleteObservationsSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "deletions": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "entityName": { "type": "string" },
          "observations": { "type": "array", "items": { "type": "string" } }
        },
        "required": ["entityName", "observations"]
      }
    }
  },
  "required": ["deletions"]
}`)

var searchNodesSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": { "type": "string", "description": "Matched against entity names, types and observations" }
  },
  "required": ["query"]
}`)

var openNodesSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "names": { "type": "array", "items": { "type": "string" } }
  },
  "required": ["names"]
}`)

func decodeArgs(args map[string]any, v any) error {
	bs, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(bs, v)
}
