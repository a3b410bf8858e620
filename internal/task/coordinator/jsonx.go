package coordinator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonrepair"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/adskit/ads/internal/task/models"
)

// Agent output is prose with a JSON payload buried in it. The locator prefers
// a ```json fence and falls back to the first balanced object literal.

var jsonFencePattern = regexp.MustCompile("```json[ \t]*\r?\n([\\s\\S]*?)```")

// locatePayload extracts the JSON payload from agent output.
func locatePayload(text string) (string, bool) {
	if m := jsonFencePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	return firstBalancedObject(text)
}

// firstBalancedObject scans for the first balanced {...}, skipping braces
// inside string literals.
func firstBalancedObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

const taskResultSchema = `{
	"type": "object",
	"required": ["taskId", "revision", "status", "summary"],
	"properties": {
		"taskId": {"type": "string", "minLength": 1},
		"revision": {"type": "integer", "minimum": 1},
		"status": {"enum": ["submitted", "needs_clarification", "failed"]},
		"summary": {"type": "string"},
		"changedFiles": {"type": "array", "items": {"type": "string"}},
		"howToVerify": {"type": "array", "items": {"type": "string"}},
		"knownRisks": {"type": "array", "items": {"type": "string"}},
		"questions": {"type": "array", "items": {"type": "string"}}
	}
}`

const verdictSchema = `{
	"type": "object",
	"required": ["verdicts"],
	"properties": {
		"verdicts": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["taskId", "accept"],
				"properties": {
					"taskId": {"type": "string", "minLength": 1},
					"accept": {"type": "boolean"},
					"note": {"type": "string"}
				}
			}
		}
	}
}`

var (
	schemaOnce         sync.Once
	taskResultCompiled *jsonschema.Schema
	verdictCompiled    *jsonschema.Schema
	schemaErr          error
)

func compileSchemas() {
	compile := func(name, src string) (*jsonschema.Schema, error) {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, err
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(name, doc); err != nil {
			return nil, err
		}
		return c.Compile(name)
	}
	taskResultCompiled, schemaErr = compile("task_result.json", taskResultSchema)
	if schemaErr != nil {
		return
	}
	verdictCompiled, schemaErr = compile("verdict.json", verdictSchema)
}

// decodePayload unmarshals the located payload into out, validating against
// the schema first. Broken-but-repairable JSON goes through jsonrepair before
// giving up.
func decodePayload(payload string, schema *jsonschema.Schema, out any) error {
	value, err := jsonschema.UnmarshalJSON(strings.NewReader(payload))
	if err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(payload)
		if repairErr != nil {
			return fmt.Errorf("payload is not valid JSON: %w", err)
		}
		payload = repaired
		value, err = jsonschema.UnmarshalJSON(strings.NewReader(payload))
		if err != nil {
			return fmt.Errorf("payload is not valid JSON: %w", err)
		}
	}
	if err := schema.Validate(value); err != nil {
		return err
	}
	return json.Unmarshal([]byte(payload), out)
}

// ParseTaskResult locates and validates a delegate's TaskResult payload.
func ParseTaskResult(text string) (*models.TaskResult, error) {
	schemaOnce.Do(compileSchemas)
	if schemaErr != nil {
		return nil, schemaErr
	}
	payload, ok := locatePayload(text)
	if !ok {
		return nil, fmt.Errorf("missing TaskResult JSON payload")
	}
	var result models.TaskResult
	if err := decodePayload(payload, taskResultCompiled, &result); err != nil {
		return nil, fmt.Errorf("invalid TaskResult schema: %w", err)
	}
	return &result, nil
}

// ParseVerdict locates and validates a SupervisorVerdict payload.
func ParseVerdict(text string) (*models.SupervisorVerdict, error) {
	schemaOnce.Do(compileSchemas)
	if schemaErr != nil {
		return nil, schemaErr
	}
	payload, ok := locatePayload(text)
	if !ok {
		return nil, fmt.Errorf("missing verdict JSON payload")
	}
	var verdict models.SupervisorVerdict
	if err := decodePayload(payload, verdictCompiled, &verdict); err != nil {
		return nil, fmt.Errorf("invalid verdict schema: %w", err)
	}
	return &verdict, nil
}
