package everything

import "encoding/json"

// EchoArgs is the arguments for the echo tool.
type EchoArgs struct {
	Message string `json:"message"`
}

// AddArgs is the arguments for the add tool.
type AddArgs struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

// LongRunningOperationArgs is the arguments for the longRunningOperation tool.
type LongRunningOperationArgs struct {
	Duration float64 `json:"duration"`
	Steps    float64 `json:"steps"`
}

// WeatherArgs is the arguments for the structuredWeather tool.
type WeatherArgs struct {
	Location string `json:"location"`
}

// Weather is the structured output of the structuredWeather tool.
type Weather struct {
	Location    string  `json:"location"`
	Temperature float64 `json:"temperature"`
	Conditions  string  `json:"conditions"`
	Humidity    int     `json:"humidity"`
}

var echoSchema = json.RawMessage(`
  {
    "type": "object",
    "properties": {
      "message": { "type": "string", "description": "Message to echo" }
    },
    "required": ["message"]
  }
`)

var addSchema = json.RawMessage(`
  {
    "type": "object",
    "properties": {
      "a": { "type": "number", "description": "First number" },
      "b": { "type": "number", "description": "Second number" }
    },
    "required": ["a", "b"]
  }
`)

var longRunningOperationSchema = json.RawMessage(`
  {
    "type": "object",
    "properties": {
      "duration": { "type": "number", "default": 10, "minimum": 0 },
      "steps": { "type": "number", "default": 5, "minimum": 1 }
    }
  }
`)

var weatherSchema = json.RawMessage(`
  {
    "type": "object",
    "properties": {
      "location": { "type": "string", "minLength": 1 }
    },
    "required": ["location"]
  }
`)

// decodeArgs converts already validated arguments into the typed struct v.
func decodeArgs(args map[string]any, v any) error {
	bs, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(bs, v)
}
