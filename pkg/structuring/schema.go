package structuring

import (
	"encoding/json"
	"sync"

	"chatrelay/pkg/bridge"

	"github.com/invopop/jsonschema"
)

var (
	schemaOnce sync.Once
	schemaRaw  []byte
)

// RequestSchema returns the JSON schema of bridge.Request as a fresh map.
//
// The schema is inlined (no $ref) and closed to additional properties so that
// strict structured-output modes accept it.
func RequestSchema() map[string]any {
	schemaOnce.Do(func() {
		reflector := &jsonschema.Reflector{
			DoNotReference: true,
			ExpandedStruct: true,
		}
		schema := reflector.Reflect(&bridge.Request{})
		schema.Version = ""
		schema.ID = ""

		raw, err := json.Marshal(schema)
		if err != nil {
			panic("marshal request schema: " + err.Error())
		}
		schemaRaw = raw
	})

	var out map[string]any
	if err := json.Unmarshal(schemaRaw, &out); err != nil {
		panic("unmarshal request schema: " + err.Error())
	}
	return out
}
