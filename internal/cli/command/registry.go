package command

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

const apiPrefix = "/api/v1"

// sourceFileParam names the param that supplies FieldSource text from disk.
const sourceFileParam = "file"

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service:      "compile",
			Action:       "submit",
			Method:       http.MethodPost,
			PathTemplate: apiPrefix + "/compilations/student",
			Summary:      "graded attempt against your activity session",
			Fields: []Field{
				{Name: "session", Aliases: []string{"session_id"}, Prompt: "activity session id", Wire: "activitySessionId", Required: true},
				{Name: "code", Aliases: []string{"source_code"}, Prompt: "source code", Type: FieldSource, Wire: "codeValue", Required: true},
			},
		},
		{
			Service:      "compile",
			Action:       "run",
			Method:       http.MethodPost,
			PathTemplate: apiPrefix + "/compilations/open",
			Summary:      "ungraded run of a snippet",
			Fields: []Field{
				{Name: "code", Aliases: []string{"source_code"}, Prompt: "source code", Type: FieldSource, Wire: "codeValue", Required: true},
				{Name: "language", Aliases: []string{"lang"}, Prompt: "language (c|python)"},
			},
		},
		{
			Service:      "compile",
			Action:       "list",
			Method:       http.MethodGet,
			PathTemplate: apiPrefix + "/compilations",
			Summary:      "attempts of an activity (teacher)",
			Fields: []Field{
				{Name: "activity", Aliases: []string{"activity_id"}, Prompt: "activity id", In: InQuery, Wire: "activityId", Required: true},
				{Name: "student", Aliases: []string{"student_id"}, In: InQuery, Wire: "studentId"},
				{Name: "limit", Type: FieldInt, In: InQuery},
				{Name: "offset", Type: FieldInt, In: InQuery},
			},
		},
		{
			Service:      "compile",
			Action:       "mine",
			Method:       http.MethodGet,
			PathTemplate: apiPrefix + "/compilations/mine",
			Summary:      "your own attempts",
			Fields: []Field{
				{Name: "activity", Aliases: []string{"activity_id"}, In: InQuery, Wire: "activityId"},
				{Name: "limit", Type: FieldInt, In: InQuery},
				{Name: "offset", Type: FieldInt, In: InQuery},
			},
		},
		{
			Service:      "session",
			Action:       "open",
			Method:       http.MethodGet,
			PathTemplate: apiPrefix + "/activity-sessions/activity/:activityId",
			Summary:      "get or start your session for an activity",
			Fields: []Field{
				{Name: "activity", Aliases: []string{"activity_id"}, Prompt: "activity id", In: InPath, Wire: "activityId", Required: true},
			},
		},
		{
			Service:      "session",
			Action:       "get",
			Method:       http.MethodGet,
			PathTemplate: apiPrefix + "/activity-sessions/:sessionId",
			Summary:      "session detail with score",
			Fields: []Field{
				{Name: "id", Aliases: []string{"session", "session_id"}, Prompt: "session id", In: InPath, Wire: "sessionId", Required: true},
			},
		},
		{
			Service:      "outputs",
			Action:       "activity",
			Method:       http.MethodGet,
			PathTemplate: apiPrefix + "/outputs/activity/:activityId",
			Summary:      "top error kinds per session (teacher)",
			Fields: []Field{
				{Name: "id", Aliases: []string{"activity", "activity_id"}, Prompt: "activity id", In: InPath, Wire: "activityId", Required: true},
			},
		},
		{
			Service:      "outputs",
			Action:       "student",
			Method:       http.MethodGet,
			PathTemplate: apiPrefix + "/outputs/student/:studentId",
			Summary:      "top error kinds of a student (teacher)",
			Fields: []Field{
				{Name: "id", Aliases: []string{"student", "student_id"}, Prompt: "student id", In: InPath, Wire: "studentId", Required: true},
			},
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Key()] = cmd
	}
	return result
}

// SortedKeys lists registry keys alphabetically.
func SortedKeys(commands map[string]Command) []string {
	keys := make([]string, 0, len(commands))
	for key := range commands {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Missing reports required fields not yet supplied.
func Missing(cmd Command, params Params) []Field {
	params.Canonicalize(cmd.Fields)
	var missing []Field
	for _, field := range cmd.Fields {
		if !field.Required {
			continue
		}
		if strings.TrimSpace(params.Get(field.Name)) != "" {
			continue
		}
		if field.Type == FieldSource && params.Get(sourceFileParam) != "" {
			continue
		}
		missing = append(missing, field)
	}
	return missing
}

// BuildRequest renders the HTTP request for cmd from params.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	if missing := Missing(cmd, params); len(missing) > 0 {
		return RequestSpec{}, fmt.Errorf("%s is required", missing[0].Name)
	}

	path := cmd.PathTemplate
	query := url.Values{}
	body := map[string]interface{}{}
	for _, field := range cmd.Fields {
		value, err := fieldValue(field, params)
		if err != nil {
			return RequestSpec{}, err
		}
		if value == "" {
			continue
		}
		switch field.In {
		case InPath:
			path = strings.Replace(path, ":"+field.WireName(), url.PathEscape(value), 1)
		case InQuery:
			query.Set(field.WireName(), value)
		default:
			body[field.WireName()] = value
		}
	}
	if strings.Contains(path, "/:") {
		return RequestSpec{}, fmt.Errorf("unresolved path params in %s", path)
	}
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	req := RequestSpec{Method: cmd.Method, Path: path}
	if cmd.Method != http.MethodGet {
		data, err := json.Marshal(body)
		if err != nil {
			return RequestSpec{}, fmt.Errorf("marshal request failed: %w", err)
		}
		req.Body = data
	}
	return req, nil
}

func fieldValue(field Field, params Params) (string, error) {
	value := params.Get(field.Name)
	switch field.Type {
	case FieldInt:
		if value == "" {
			return "", nil
		}
		n, err := ParseInt(value)
		if err != nil || n < 0 {
			return "", fmt.Errorf("invalid %s: %s", field.Name, value)
		}
		return fmt.Sprintf("%d", n), nil
	case FieldSource:
		if value == "" && params.Get(sourceFileParam) != "" {
			return ReadFile(params.Get(sourceFileParam))
		}
		return value, nil
	default:
		return strings.TrimSpace(value), nil
	}
}
