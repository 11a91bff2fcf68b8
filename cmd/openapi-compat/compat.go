package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var supportedMethods = map[string]struct{}{
	"get":     {},
	"put":     {},
	"post":    {},
	"delete":  {},
	"patch":   {},
	"head":    {},
	"options": {},
}

// route is a documented operation, e.g. {"post", "/chat/init"}.
type route struct {
	Method string
	Path   string
}

// chatRoutes are the operations the web client depends on.
var chatRoutes = []route{
	{"get", "/chat/check"},
	{"post", "/chat/init"},
	{"get", "/chat/"},
	{"get", "/chat/{chatId}"},
	{"get", "/chat/{chatId}/messages"},
	{"post", "/chat/{chatId}/messages"},
	{"patch", "/chat/{chatId}/read"},
	{"patch", "/chat/{chatId}/archive"},
	{"get", "/ws/chat"},
}

type operation struct {
	Responses map[string]struct{}
}

type parsedSpec struct {
	Paths map[string]map[string]operation
}

// parseSpec reads the paths of a swagger document. JSON is valid YAML, so
// both encodings go through the YAML decoder.
func parseSpec(raw []byte) (parsedSpec, error) {
	doc := map[string]interface{}{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return parsedSpec{}, err
	}

	pathsRaw, ok := doc["paths"]
	if !ok {
		return parsedSpec{}, errors.New("missing top-level paths field")
	}
	pathsMap, ok := toMap(pathsRaw)
	if !ok {
		return parsedSpec{}, errors.New("paths is not an object")
	}

	spec := parsedSpec{Paths: make(map[string]map[string]operation)}
	for pathKey, pathEntry := range pathsMap {
		pathOps, ok := toMap(pathEntry)
		if !ok {
			continue
		}

		ops := make(map[string]operation)
		for methodKey, methodEntry := range pathOps {
			method := strings.ToLower(strings.TrimSpace(methodKey))
			if _, supported := supportedMethods[method]; !supported {
				continue
			}
			methodMap, ok := toMap(methodEntry)
			if !ok {
				continue
			}
			ops[method] = operation{Responses: responseCodes(methodMap["responses"])}
		}

		if len(ops) > 0 {
			spec.Paths[pathKey] = ops
		}
	}
	return spec, nil
}

func responseCodes(raw interface{}) map[string]struct{} {
	codes := make(map[string]struct{})
	responses, ok := toMap(raw)
	if !ok {
		return codes
	}
	for code := range responses {
		if normalized := strings.ToLower(strings.TrimSpace(code)); normalized != "" {
			codes[normalized] = struct{}{}
		}
	}
	return codes
}

func toMap(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			if ks, ok := k.(string); ok {
				out[ks] = val
			}
		}
		return out, true
	default:
		return nil, false
	}
}

// compare lists paths, operations and response codes of base that revision
// no longer documents.
func compare(base, revision parsedSpec) []string {
	var issues []string
	for path, baseOps := range base.Paths {
		revOps, ok := revision.Paths[path]
		if !ok {
			issues = append(issues, fmt.Sprintf("removed path: %s", path))
			continue
		}
		for method, baseOp := range baseOps {
			revOp, ok := revOps[method]
			if !ok {
				issues = append(issues, fmt.Sprintf("removed operation: %s %s", strings.ToUpper(method), path))
				continue
			}
			for code := range baseOp.Responses {
				if _, ok := revOp.Responses[code]; !ok {
					issues = append(issues, fmt.Sprintf("removed response code: %s %s -> %s",
						strings.ToUpper(method), path, strings.ToUpper(code)))
				}
			}
		}
	}
	sort.Strings(issues)
	return issues
}

func missingRoutes(spec parsedSpec, required []route) []string {
	var issues []string
	for _, r := range required {
		if _, ok := spec.Paths[r.Path][r.Method]; !ok {
			issues = append(issues, fmt.Sprintf("undocumented route: %s %s", strings.ToUpper(r.Method), r.Path))
		}
	}
	return issues
}
