package toolset

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/KennethLeeJE8/datadam-mcp-sub001/mcp"
)

type greetArgs struct {
	Name  string `json:"name" jsonschema:"required" jsonschema_description:"Who to greet."`
	Shout bool   `json:"shout,omitempty"`
}

func greetTool() Tool {
	return New("greet", func(ctx context.Context, args greetArgs) (*mcp.CallToolResult, error) {
		if args.Name == "" {
			return Errorf("name is required"), nil
		}
		return TextResult("hello " + args.Name), nil
	}, WithDescription("Greets someone."))
}

func TestReflectedSchema(t *testing.T) {
	tool := greetTool()
	schema := tool.Descriptor.InputSchema

	if want, got := "object", schema.Type; want != got {
		t.Errorf("schema type: want %q, got %q", want, got)
	}
	if schema.AdditionalProperties {
		t.Error("additionalProperties should default to false")
	}
	if _, ok := schema.Properties["name"]; !ok {
		t.Fatalf("schema missing name property: %+v", schema.Properties)
	}
	if want, got := "string", schema.Properties["name"].Type; want != got {
		t.Errorf("name type: want %q, got %q", want, got)
	}
	if want, got := "Who to greet.", schema.Properties["name"].Description; want != got {
		t.Errorf("name description: want %q, got %q", want, got)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "name" {
		t.Errorf("required: want [name], got %v", schema.Required)
	}
	if want, got := "Greets someone.", tool.Descriptor.Description; want != got {
		t.Errorf("description: want %q, got %q", want, got)
	}
}

func TestCallDecodesArguments(t *testing.T) {
	set := NewSet(greetTool())

	res, err := set.Call(context.Background(), &mcp.CallToolRequest{
		Name:      "greet",
		Arguments: json.RawMessage(`{"name":"world"}`),
	})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %+v", res.Content)
	}
	if want, got := "hello world", res.Content[0].Text; want != got {
		t.Errorf("result: want %q, got %q", want, got)
	}
}

func TestCallRejectsUnknownFields(t *testing.T) {
	set := NewSet(greetTool())

	res, err := set.Call(context.Background(), &mcp.CallToolRequest{
		Name:      "greet",
		Arguments: json.RawMessage(`{"name":"world","bogus":true}`),
	})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !res.IsError {
		t.Fatal("unknown field accepted, want isError result")
	}
}

func TestCallUnknownTool(t *testing.T) {
	set := NewSet(greetTool())

	_, err := set.Call(context.Background(), &mcp.CallToolRequest{Name: "nope"})
	if !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("want ErrToolNotFound, got %v", err)
	}
}

func TestListOrder(t *testing.T) {
	set := NewSet(
		New("b", func(ctx context.Context, args struct{}) (*mcp.CallToolResult, error) { return TextResult("b"), nil }),
		New("a", func(ctx context.Context, args struct{}) (*mcp.CallToolResult, error) { return TextResult("a"), nil }),
	)
	listed := set.List()
	if len(listed) != 2 || listed[0].Name != "b" || listed[1].Name != "a" {
		t.Errorf("list order: got %v", listed)
	}
}

func TestJSONResult(t *testing.T) {
	res := JSONResult(map[string]int{"n": 1})
	if res.IsError {
		t.Fatal("unexpected error result")
	}
	if res.StructuredContent == nil {
		t.Error("missing structuredContent")
	}
	var decoded map[string]int
	if err := json.Unmarshal([]byte(res.Content[0].Text), &decoded); err != nil {
		t.Fatalf("text block is not JSON: %v", err)
	}
	if decoded["n"] != 1 {
		t.Errorf("want n=1, got %v", decoded)
	}
}
